package ratelimit

import (
	"strings"

	"github.com/vortixworld/bypassgate/internal/settings"
)

// Identity picks the limiter key for a caller: the declared user id, else the
// first forwarded-for hop, else the remote address, else the anonymous sentinel.
func Identity(userID, forwardedFor, remoteAddr string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return "u:" + id
	}
	if hop := FirstForwardedHop(forwardedFor); hop != "" {
		return "ip:" + hop
	}
	if addr := strings.TrimSpace(remoteAddr); addr != "" {
		return "ip:" + addr
	}
	return settings.AnonymousIdentity
}

// FirstForwardedHop returns the client address reported first in an
// x-forwarded-for header value.
func FirstForwardedHop(forwardedFor string) string {
	first, _, _ := strings.Cut(forwardedFor, ",")
	return strings.TrimSpace(first)
}
