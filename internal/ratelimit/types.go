package ratelimit

import "time"

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns how long the caller should wait before the window admits again.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || r.Reset.IsZero() || !r.Reset.After(now) {
		return 0
	}
	return r.Reset.Sub(now)
}
