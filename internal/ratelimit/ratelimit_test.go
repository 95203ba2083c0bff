package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_SixteenthRequestRejected(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 15; i++ {
		res, err := limiter.Allow(ctx, "u:alice", 15, time.Minute, start.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("expected request %d allowed", i+1)
		}
		if res.Remaining != 15-(i+1) {
			t.Fatalf("expected remaining=%d, got %d", 15-(i+1), res.Remaining)
		}
	}
	res, _ := limiter.Allow(ctx, "u:alice", 15, time.Minute, start.Add(20*time.Second))
	if res.Allowed {
		t.Fatalf("expected 16th request rejected")
	}
	if got := res.RetryAfter(start.Add(20 * time.Second)); got != 41*time.Second {
		t.Fatalf("expected retry after 41s, got %s", got)
	}

	other, _ := limiter.Allow(ctx, "u:bob", 15, time.Minute, start.Add(20*time.Second))
	if !other.Allowed {
		t.Fatalf("expected other identity unaffected")
	}
}

func TestMemoryLimiter_AdmitsAgainAfterWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 16; i++ {
		_, _ = limiter.Allow(ctx, "ip:1.2.3.4", 15, time.Minute, start)
	}
	res, _ := limiter.Allow(ctx, "ip:1.2.3.4", 15, time.Minute, start.Add(time.Minute))
	if !res.Allowed {
		t.Fatalf("expected identity admitted after window elapsed")
	}
}

func TestMemoryLimiter_RejectedAttemptsExtendRejection(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 3; i++ {
		_, _ = limiter.Allow(ctx, "k", 3, time.Minute, start)
	}
	// Rejected attempts keep landing in the window.
	for i := 1; i <= 3; i++ {
		res, _ := limiter.Allow(ctx, "k", 3, time.Minute, start.Add(time.Duration(i)*10*time.Second))
		if res.Allowed {
			t.Fatalf("expected attempt %d rejected", i)
		}
	}
	// The three initial attempts have aged out but the rejected ones have not.
	res, _ := limiter.Allow(ctx, "k", 3, time.Minute, start.Add(61*time.Second))
	if res.Allowed {
		t.Fatalf("expected rejected attempts to keep the caller out")
	}
	res, _ = limiter.Allow(ctx, "k", 3, time.Minute, start.Add(200*time.Second))
	if !res.Allowed {
		t.Fatalf("expected caller admitted once the window is clear")
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)
	_, _ = limiter.Allow(ctx, "a", 15, time.Minute, start)
	_, _ = limiter.Allow(ctx, "b", 15, time.Minute, start.Add(50*time.Second))

	if removed := limiter.Sweep(time.Minute, start.Add(70*time.Second)); removed != 1 {
		t.Fatalf("expected 1 window swept, got %d", removed)
	}
	if limiter.tracked() != 1 {
		t.Fatalf("expected 1 window left, got %d", limiter.tracked())
	}
}

func TestManager_FallsBackToMemoryWhenRedisUnavailable(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	manager := NewManager(StaticSettings(SettingsConfig{
		Limit:        2,
		Window:       time.Minute,
		RedisEnabled: true,
		RedisURL:     "redis://127.0.0.1:1/0",
	}), func() time.Time { return now }, nil)
	defer manager.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if res := manager.Admit(ctx, "u:alice", now); !res.Allowed {
			t.Fatalf("expected request %d allowed", i+1)
		}
	}
	if res := manager.Admit(ctx, "u:alice", now); res.Allowed {
		t.Fatalf("expected third request rejected by memory fallback")
	}
	if !manager.isBreakerActive(now) {
		t.Fatalf("expected breaker tripped")
	}
}

func TestManager_DisabledWhenLimitZero(t *testing.T) {
	manager := NewManager(StaticSettings(SettingsConfig{}), nil, nil)
	for i := 0; i < 100; i++ {
		if res := manager.Admit(context.Background(), "k", time.Now()); !res.Allowed {
			t.Fatalf("expected unlimited when limit is zero")
		}
	}
}

func TestIdentity(t *testing.T) {
	cases := []struct {
		userID, xff, remote, want string
	}{
		{"alice", "1.1.1.1", "2.2.2.2", "u:alice"},
		{"", " 1.1.1.1 , 9.9.9.9", "2.2.2.2", "ip:1.1.1.1"},
		{"", "", "2.2.2.2", "ip:2.2.2.2"},
		{"", "", "", "anonymous"},
	}
	for _, tc := range cases {
		if got := Identity(tc.userID, tc.xff, tc.remote); got != tc.want {
			t.Fatalf("Identity(%q,%q,%q)=%q, want %q", tc.userID, tc.xff, tc.remote, got, tc.want)
		}
	}
}

func TestRedisLimiter_BuildKey(t *testing.T) {
	limiter := NewRedisLimiter(nil, "bypassgate:rl")
	if got := limiter.buildKey("u:alice"); got != "bypassgate:rl:u:alice" {
		t.Fatalf("unexpected key %q", got)
	}
	res, err := limiter.Allow(context.Background(), "u:alice", 15, time.Minute, time.Now())
	if err != nil || !res.Allowed {
		t.Fatalf("expected nil client to allow, got %+v err=%v", res, err)
	}
}
