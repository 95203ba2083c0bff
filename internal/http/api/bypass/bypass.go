// Package bypass serves the gated bypass endpoint and the ad redirect endpoint.
package bypass

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/vortixworld/bypassgate/internal/chain"
	"github.com/vortixworld/bypassgate/internal/http/respond"
	"github.com/vortixworld/bypassgate/internal/keys"
	"github.com/vortixworld/bypassgate/internal/provider"
	"github.com/vortixworld/bypassgate/internal/ratelimit"
	"github.com/vortixworld/bypassgate/internal/router"
	"github.com/vortixworld/bypassgate/internal/settings"
	"github.com/vortixworld/bypassgate/internal/usage"
)

// Error messages returned in the error envelope.
const (
	msgMethodNotAllowed = "Method not allowed"
	msgMissingAPIKey    = "Missing x-api-key header"
	msgInvalidAPIKey    = "Invalid API key"
	msgExpiredAPIKey    = "API key expired"
	msgMissingURL       = "Missing url parameter"
	msgBadScheme        = "URL must start with http:// or https://"
	msgInvalidURL       = "Invalid URL"
	msgRateLimited      = "Rate limit exceeded"
	msgNoRoute          = "No bypass method for host"
	msgBypassFailed     = "Bypass failed"
	msgInvalidRedirect  = "Invalid redirect target"
)

// ChainRunner executes an ordered provider chain.
type ChainRunner interface {
	Execute(ctx context.Context, kinds []provider.Kind, targetURL string) chain.Result
}

// Options wires the collaborators of a Handler.
type Options struct {
	Keys          *keys.Manager
	Limiter       *ratelimit.Manager
	Routes        *router.Table
	Chain         ChainRunner
	Recorder      usage.Recorder
	RequireAPIKey bool
}

// Handler serves /bypass.
type Handler struct {
	keys          *keys.Manager
	limiter       *ratelimit.Manager
	routes        *router.Table
	chain         ChainRunner
	recorder      usage.Recorder
	requireAPIKey bool
	nowFn         func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(opts Options) *Handler {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = usage.NopRecorder{}
	}
	return &Handler{
		keys:          opts.Keys,
		limiter:       opts.Limiter,
		routes:        opts.Routes,
		chain:         opts.Chain,
		recorder:      recorder,
		requireAPIKey: opts.RequireAPIKey && opts.Keys != nil,
		nowFn:         time.Now,
	}
}

// Bypass validates the request, applies the rate limit and key quota, runs the
// host's provider chain and settles the key.
func (h *Handler) Bypass(c *gin.Context) {
	respond.MarkStart(c)
	requestedAt := h.nowFn()

	method := c.Request.Method
	if method != http.MethodGet && method != http.MethodPost {
		respond.Error(c, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	rawURL := c.Query("url")
	if method == http.MethodPost {
		rawURL = respond.BodyString(c, "url")
	}
	if rawURL == "" {
		respond.Error(c, http.StatusBadRequest, msgMissingURL)
		return
	}
	targetURL := router.SanitizeURL(rawURL)
	if !router.HasHTTPScheme(targetURL) {
		respond.Error(c, http.StatusBadRequest, msgBadScheme)
		return
	}
	host, errHost := router.NormalizeHost(targetURL)
	if errHost != nil {
		respond.Error(c, http.StatusBadRequest, msgInvalidURL)
		return
	}

	token := c.GetHeader(settings.HeaderAPIKey)
	if h.requireAPIKey && token == "" {
		respond.Error(c, http.StatusUnauthorized, msgMissingAPIKey)
		return
	}

	userID := respond.UserID(c)
	identity := respond.Identity(c, userID)
	// The upstream client timeout is the only deadline once the request is admitted.
	ctx := context.WithoutCancel(c.Request.Context())

	limit := h.limiter.Admit(ctx, identity, requestedAt)
	writeRateLimitHeaders(c, limit, requestedAt)
	if !limit.Allowed {
		respond.Error(c, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	if h.requireAPIKey {
		if _, errValidate := h.keys.Validate(ctx, token); errValidate != nil {
			switch {
			case errors.Is(errValidate, keys.ErrKeyNotFound):
				respond.Error(c, http.StatusUnauthorized, msgInvalidAPIKey)
			case errors.Is(errValidate, keys.ErrKeyExpired):
				respond.Error(c, http.StatusUnauthorized, msgExpiredAPIKey)
			default:
				log.WithError(errValidate).Error("bypass: key validation failed")
				respond.Error(c, http.StatusInternalServerError, errValidate.Error())
			}
			return
		}
	}

	kinds := h.routes.Resolve(host)
	if len(kinds) == 0 {
		respond.Error(c, http.StatusBadRequest, msgNoRoute)
		return
	}

	result := h.chain.Execute(ctx, kinds, targetURL)

	maskedKey := ""
	if h.requireAPIKey {
		maskedKey = keys.MaskKey(token)
		outcome := keys.OutcomeFailure
		if result.Success {
			outcome = keys.OutcomeSuccess
		}
		if _, errSettle := h.keys.Settle(ctx, token, outcome); errSettle != nil {
			log.WithError(errSettle).WithField("api_key", maskedKey).Error("bypass: settle failed")
			h.record(ctx, maskedKey, identity, host, result, requestedAt)
			respond.Error(c, http.StatusInternalServerError, errSettle.Error())
			return
		}
	}
	h.record(ctx, maskedKey, identity, host, result, requestedAt)

	if !result.Success {
		message := result.Error
		if message == "" {
			message = msgBypassFailed
		}
		respond.Error(c, http.StatusInternalServerError, message)
		return
	}
	respond.Success(c, result.Result, userID)
}

func (h *Handler) record(ctx context.Context, maskedKey, identity, host string, result chain.Result, requestedAt time.Time) {
	kinds := result.Providers()
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	h.recorder.Record(ctx, usage.Record{
		APIKey:      maskedKey,
		Identity:    identity,
		Host:        host,
		Providers:   names,
		Success:     result.Success,
		Error:       result.Error,
		Latency:     h.nowFn().Sub(requestedAt),
		RequestedAt: requestedAt,
	})
}

func writeRateLimitHeaders(c *gin.Context, result ratelimit.Result, now time.Time) {
	if result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if wait := result.RetryAfter(now); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
}

// Redirect forwards the browser to a wrapped ad redirect target.
func Redirect(c *gin.Context) {
	respond.MarkStart(c)
	target := router.SanitizeURL(c.Query("to"))
	if !chain.IsAdRedirect(target) {
		respond.Error(c, http.StatusBadRequest, msgInvalidRedirect)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// RegisterRoutes mounts the bypass and redirect endpoints.
func RegisterRoutes(r gin.IRoutes, h *Handler) {
	if r == nil || h == nil {
		return
	}
	r.Any("/bypass", h.Bypass)
	r.Any("/api/bypass", h.Bypass)
	r.GET("/redirect", Redirect)
}
