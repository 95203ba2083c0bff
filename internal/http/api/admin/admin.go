// Package admin mounts the admin-only key management routes.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	handlers "github.com/vortixworld/bypassgate/internal/http/api/admin/handlers"
	"github.com/vortixworld/bypassgate/internal/http/api/admin/permissions"
	"github.com/vortixworld/bypassgate/internal/http/respond"
)

// Options wires the admin route collaborators.
type Options struct {
	AdminIP string
	Keys    handlers.KeyManager
	Health  handlers.Pinger
	Usage   handlers.UsageSummarizer
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, opts Options) {
	if r == nil || opts.Keys == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(opts.Health)
	r.GET("/healthz", healthHandler.Healthz)

	apiKeyHandler := handlers.NewAPIKeyHandler(opts.Keys)
	usageHandler := handlers.NewUsageHandler(opts.Usage)
	routes := map[string]gin.HandlerFunc{
		permissions.CreateKey: apiKeyHandler.Create,
		permissions.DeleteKey: apiKeyHandler.Delete,
		permissions.ExpireKey: apiKeyHandler.Expire,
		permissions.ListKeys:  apiKeyHandler.List,
		permissions.Usage:     usageHandler.Summary,
	}

	guard := adminIPMiddleware(opts.AdminIP)
	for _, def := range permissions.Definitions() {
		handler, ok := routes[def.Key]
		if !ok {
			continue
		}
		chain := []gin.HandlerFunc{guard, adminMethodMiddleware(def), handler}
		r.Any(def.Path, chain...)
		r.Any("/api"+def.Path, chain...)
	}
}

// adminIPMiddleware admits only the configured admin address.
// The address comes from the first X-Forwarded-For hop when present, so the
// service must sit behind a proxy that overwrites that header.
// An empty admin address rejects everyone.
func adminIPMiddleware(adminIP string) gin.HandlerFunc {
	adminIP = strings.TrimSpace(adminIP)
	if adminIP == "" {
		log.Warn("admin: no admin ip configured, admin routes are disabled")
	}
	return func(c *gin.Context) {
		respond.MarkStart(c)
		if adminIP == "" || respond.ClientAddress(c) != adminIP {
			respond.Error(c, http.StatusForbidden, "Forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminMethodMiddleware rejects methods the operation does not accept.
func adminMethodMiddleware(def permissions.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !def.MethodAllowed(c.Request.Method) {
			respond.Error(c, http.StatusMethodNotAllowed, "Method not allowed")
			c.Abort()
			return
		}
		c.Next()
	}
}
