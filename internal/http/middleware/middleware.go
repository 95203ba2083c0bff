// Package middleware holds the gin middleware shared by every route.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/vortixworld/bypassgate/internal/http/respond"
)

const (
	corsAllowMethods = "GET,POST,OPTIONS"
	corsAllowHeaders = "Content-Type,x-user-id,x_user_id,x-userid,x-api-key"
)

// CORS sets the allow-origin headers from allowedOrigins and answers OPTIONS
// with an empty 200.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	wildcard := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		wildcard = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if wildcard {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// Timing stamps the request entry time for the time_taken field.
func Timing() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond.MarkStart(c)
		c.Next()
	}
}

// RequestLogger logs one line per request; 5xx responses log at warn level.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(started).Round(time.Millisecond).String(),
			"client":  respond.ClientAddress(c),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Info("http request")
	}
}
