package settings

import "time"

// Runtime defaults carried over from the hosted deployment.
const (
	// DefaultPort is the fallback HTTP listen port.
	DefaultPort = 8080
	// DefaultRateLimitWindow is the trailing sliding window per caller.
	DefaultRateLimitWindow = 60 * time.Second
	// DefaultRateLimitMaxRequests is the number of requests admitted per window.
	DefaultRateLimitMaxRequests = 15
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix for limiter windows.
	DefaultRateLimitRedisPrefix = "bypassgate:rl"
	// DefaultStoreRedisPrefix is the fallback Redis key prefix for the KV store.
	DefaultStoreRedisPrefix = "bypassgate:kv"
	// DefaultUpstreamTimeout bounds a single provider call.
	DefaultUpstreamTimeout = 90 * time.Second
	// DefaultUserAgent is sent on every upstream provider call.
	DefaultUserAgent = "Mozilla/5.0 (compatible; BypassBot/2.0)"
	// DefaultRedirectBase is the endpoint that ad-redirect results are wrapped into.
	DefaultRedirectBase = "https://vortixworld-luarmor.vercel.app/redirect"
	// DefaultAbysmBaseURL is the paid Abysm bypass endpoint.
	DefaultAbysmBaseURL = "https://api.abysm.lat/v2/bypass"
	// MaxMonths caps the lifetime of a monthly key.
	MaxMonths = 12
	// MonthDuration is the length of one billing month (30 days).
	MonthDuration = 30 * 24 * time.Hour
)

// KV layout shared by every store backend.
const (
	// KeyRecordPrefix prefixes a single key record entry.
	KeyRecordPrefix = "key:"
	// AllKeysIndex is the entry holding the JSON array of issued tokens.
	AllKeysIndex = "all_keys"
)

// Header names accepted from callers.
const (
	// HeaderAPIKey carries the caller's API key.
	HeaderAPIKey = "x-api-key"
	// HeaderForwardedFor carries the proxy-reported client address.
	HeaderForwardedFor = "x-forwarded-for"
	// AnonymousIdentity is the limiter identity when nothing else is known.
	AnonymousIdentity = "anonymous"
)

// UserIDHeaders lists the identity header variants in lookup order.
var UserIDHeaders = []string{"x-user-id", "x_user_id", "x-userid"}

// UserIDBodyFields lists the identity body fields in lookup order (POST only).
var UserIDBodyFields = []string{"x_user_id", "x-user-id", "xUserId"}
