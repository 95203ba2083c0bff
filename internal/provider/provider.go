// Package provider defines the upstream bypass providers a chain can try.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies one upstream bypass provider.
type Kind string

// Provider kinds known to the service.
const (
	// KindAbysmPaid is the paid Abysm bypass API.
	KindAbysmPaid Kind = "abysm-paid"
)

// ParseKind converts a configured provider name to a Kind.
// The camel-cased name used by older deployments is accepted too.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(KindAbysmPaid), "abysmpaid":
		return KindAbysmPaid, nil
	default:
		return "", fmt.Errorf("provider: unknown kind %q", name)
	}
}

// Outcome is the normalized result of one provider attempt.
type Outcome struct {
	Success bool
	Result  string
	Error   string
}

// Succeeded builds a successful outcome.
func Succeeded(result string) Outcome {
	return Outcome{Success: true, Result: result}
}

// Failed builds a failed outcome.
func Failed(message string) Outcome {
	return Outcome{Error: message}
}

// Provider attempts to resolve a gated URL.
type Provider interface {
	Kind() Kind
	Attempt(ctx context.Context, targetURL string) Outcome
}

// Registry maps provider kinds to their implementation.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry builds a Registry from providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Kind()] = p
		}
	}
	return r
}

// Lookup returns the provider registered for kind.
func (r *Registry) Lookup(kind Kind) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[kind]
	return p, ok
}
