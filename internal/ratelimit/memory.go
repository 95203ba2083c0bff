package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	stamps   []time.Time
	lastSeen time.Time
}

// MemoryLimiter implements a sliding-window in-memory rate limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryEntry
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*memoryEntry),
	}
}

// Allow prunes the caller's window, records now and admits while the window
// holds at most limit attempts.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || window <= 0 {
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.windows[key]
	if entry == nil {
		entry = &memoryEntry{}
		l.windows[key] = entry
	}
	entry.stamps = pruneBefore(entry.stamps, now.Add(-window))
	entry.stamps = append(entry.stamps, now)
	entry.lastSeen = now

	count := len(entry.stamps)
	reset := entry.stamps[0].Add(window)
	if count > limit {
		// The window reopens once enough of the oldest attempts age out.
		reset = entry.stamps[count-limit].Add(window)
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}, nil
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - count, Reset: reset}, nil
}

// Sweep drops windows idle for longer than window.
func (l *MemoryLimiter) Sweep(window time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.windows {
		if now.Sub(entry.lastSeen) >= window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// pruneBefore drops stamps at or before cutoff; stamps are in arrival order.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[idx:]...)
}
