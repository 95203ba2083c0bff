// Package router maps target hosts to the ordered provider chain to try.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vortixworld/bypassgate/internal/config"
	"github.com/vortixworld/bypassgate/internal/provider"
)

// ErrInvalidURL is returned when no hostname can be extracted from a URL.
var ErrInvalidURL = errors.New("invalid url")

var controlCharReplacer = strings.NewReplacer("\r", "", "\n", "", "\t", "")

// SanitizeURL trims whitespace and strips embedded CR, LF and TAB characters.
func SanitizeURL(raw string) string {
	return controlCharReplacer.Replace(strings.TrimSpace(raw))
}

// HasHTTPScheme reports whether raw starts with http:// or https:// (any case).
func HasHTTPScheme(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// NormalizeHost extracts the lower-cased hostname of rawURL without a leading "www.".
// Inputs without a scheme are parsed as https.
func NormalizeHost(rawURL string) (string, error) {
	candidate := rawURL
	if !strings.HasPrefix(strings.ToLower(candidate), "http") {
		candidate = "https://" + candidate
	}
	parsed, errParse := url.Parse(candidate)
	if errParse != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, errParse)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", ErrInvalidURL
	}
	return strings.TrimPrefix(host, "www."), nil
}

// Rule routes a host and its subdomains to an ordered provider list.
type Rule struct {
	Host      string
	Providers []provider.Kind
}

// Table is an ordered, immutable host routing table.
type Table struct {
	rules []Rule
}

// NewTable builds a Table; earlier rules win when several match.
func NewTable(rules []Rule) *Table {
	copied := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(rule.Host)), "www.")
		if host == "" || len(rule.Providers) == 0 {
			continue
		}
		copied = append(copied, Rule{Host: host, Providers: append([]provider.Kind(nil), rule.Providers...)})
	}
	return &Table{rules: copied}
}

// TableFromConfig builds a Table from configured host rules.
func TableFromConfig(rules []config.HostRule) (*Table, error) {
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		kinds := make([]provider.Kind, 0, len(rule.Providers))
		for _, name := range rule.Providers {
			kind, errKind := provider.ParseKind(name)
			if errKind != nil {
				return nil, fmt.Errorf("router: host %q: %w", rule.Host, errKind)
			}
			kinds = append(kinds, kind)
		}
		out = append(out, Rule{Host: rule.Host, Providers: kinds})
	}
	return NewTable(out), nil
}

// Resolve returns a copy of the provider chain for hostname, or nil when no rule matches.
func (t *Table) Resolve(hostname string) []provider.Kind {
	if t == nil {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hostname)), "www.")
	if host == "" {
		return nil
	}
	for _, rule := range t.rules {
		if host == rule.Host || strings.HasSuffix(host, "."+rule.Host) {
			return append([]provider.Kind(nil), rule.Providers...)
		}
	}
	return nil
}

// Hosts returns the registered hosts in declaration order.
func (t *Table) Hosts() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.rules))
	for _, rule := range t.rules {
		out = append(out, rule.Host)
	}
	return out
}
