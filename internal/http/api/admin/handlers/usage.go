package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vortixworld/bypassgate/internal/http/respond"
	"github.com/vortixworld/bypassgate/internal/usage"
)

// UsageSummarizer aggregates recorded chains per host.
type UsageSummarizer interface {
	SummarizeByHost(ctx context.Context, since time.Time) ([]usage.HostSummary, error)
}

// UsageHandler serves the usage summary.
type UsageHandler struct {
	summarizer UsageSummarizer
	nowFn      func() time.Time
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(summarizer UsageSummarizer) *UsageHandler {
	return &UsageHandler{summarizer: summarizer, nowFn: time.Now}
}

// Summary returns per-host chain counts for the trailing window given by ?window= (default 24h).
func (h *UsageHandler) Summary(c *gin.Context) {
	window := 24 * time.Hour
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		parsed, errParse := time.ParseDuration(raw)
		if errParse != nil || parsed <= 0 {
			respond.Error(c, http.StatusBadRequest, "Invalid window")
			return
		}
		window = parsed
	}
	if h.summarizer == nil {
		c.JSON(http.StatusOK, gin.H{"status": "success", "hosts": []usage.HostSummary{}})
		return
	}
	hosts, errSummary := h.summarizer.SummarizeByHost(c.Request.Context(), h.nowFn().Add(-window))
	if errSummary != nil {
		respond.Error(c, http.StatusInternalServerError, errSummary.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "hosts": hosts})
}
