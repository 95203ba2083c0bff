// Package chain runs provider chains and shapes their results.
package chain

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vortixworld/bypassgate/internal/provider"
	"github.com/vortixworld/bypassgate/internal/settings"
)

const unknownUpstreamError = "Unknown error from upstream API"

var adRedirectPattern = regexp.MustCompile(`(?i)^https?://ads\.luarmor\.net/`)

// Attempt records one provider call made while executing a chain.
type Attempt struct {
	Provider provider.Kind
	Success  bool
	Error    string
	Latency  time.Duration
}

// Result is the outcome of a whole chain.
type Result struct {
	Success  bool
	Result   string
	Error    string
	Attempts []Attempt
}

// Providers returns the kinds that were actually called, in order.
func (r Result) Providers() []provider.Kind {
	out := make([]provider.Kind, 0, len(r.Attempts))
	for _, attempt := range r.Attempts {
		out = append(out, attempt.Provider)
	}
	return out
}

// Executor tries providers strictly in order and stops at the first success.
type Executor struct {
	registry     *provider.Registry
	redirectBase string
}

// NewExecutor constructs an Executor. An empty redirectBase uses the default.
func NewExecutor(registry *provider.Registry, redirectBase string) *Executor {
	base := strings.TrimSpace(redirectBase)
	if base == "" {
		base = settings.DefaultRedirectBase
	}
	return &Executor{registry: registry, redirectBase: base}
}

// Execute runs kinds against targetURL. On exhaustion only the last error is kept.
// Kinds with no registered provider are skipped.
func (e *Executor) Execute(ctx context.Context, kinds []provider.Kind, targetURL string) Result {
	var out Result
	for _, kind := range kinds {
		p, ok := e.registry.Lookup(kind)
		if !ok {
			log.WithField("provider", kind).Warn("chain: provider not registered, skipping")
			continue
		}

		started := time.Now()
		outcome := p.Attempt(ctx, targetURL)
		out.Attempts = append(out.Attempts, Attempt{
			Provider: kind,
			Success:  outcome.Success,
			Error:    outcome.Error,
			Latency:  time.Since(started),
		})

		if outcome.Success {
			out.Success = true
			out.Result = e.PostProcess(outcome.Result)
			out.Error = ""
			return out
		}

		log.WithFields(log.Fields{
			"provider": kind,
			"error":    outcome.Error,
		}).Debug("chain: provider attempt failed")
		switch {
		case outcome.Error != "":
			out.Error = outcome.Error
		case out.Error == "":
			out.Error = unknownUpstreamError
		}
	}
	return out
}

// PostProcess rewrites an ad-redirect result into the executor's redirect endpoint.
func (e *Executor) PostProcess(result string) string {
	return RewriteAdRedirect(result, e.redirectBase)
}

// RewriteAdRedirect wraps result in base's redirect when it points at the ad
// redirect domain; anything else is returned unchanged.
func RewriteAdRedirect(result, base string) string {
	if !IsAdRedirect(result) {
		return result
	}
	return base + "?to=" + url.QueryEscape(result)
}

// IsAdRedirect reports whether target points at the ad redirect domain.
func IsAdRedirect(target string) bool {
	return adRedirectPattern.MatchString(target)
}
