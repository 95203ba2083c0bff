package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vortixworld/bypassgate/internal/kv"
	"github.com/vortixworld/bypassgate/internal/models"
	"github.com/vortixworld/bypassgate/internal/settings"
	"github.com/vortixworld/bypassgate/internal/store"
)

func newTestManager(t *testing.T, now *time.Time) (*Manager, *store.KeyStore) {
	t.Helper()
	keyStore := store.NewKeyStore(kv.NewMemoryStore())
	m := NewManager(keyStore)
	m.nowFn = func() time.Time { return *now }
	seq := 0
	m.newToken = func() string {
		seq++
		return fmt.Sprintf("token-%04d-abcdefgh", seq)
	}
	return m, keyStore
}

func TestManager_RequestKeyRetiredAfterRemainingSuccesses(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	m, keyStore := newTestManager(t, &now)

	token, _, err := m.Create(ctx, models.QuotaKindRequest, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 3; i >= 1; i-- {
		if _, errValidate := m.Validate(ctx, token); errValidate != nil {
			t.Fatalf("validate with %d remaining: %v", i, errValidate)
		}
		record, errSettle := m.Settle(ctx, token, OutcomeSuccess)
		if errSettle != nil {
			t.Fatalf("settle: %v", errSettle)
		}
		if record.RemainingValue() != int64(i-1) {
			t.Fatalf("expected remaining=%d, got %d", i-1, record.RemainingValue())
		}
	}

	if _, errValidate := m.Validate(ctx, token); !errors.Is(errValidate, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", errValidate)
	}
	tokens, _ := keyStore.ListTokens(ctx)
	if len(tokens) != 0 {
		t.Fatalf("expected empty index, got %v", tokens)
	}
}

func TestManager_FailureChargesUsageOnly(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	m, keyStore := newTestManager(t, &now)

	token, _, _ := m.Create(ctx, models.QuotaKindRequest, 1)
	for i := 0; i < 5; i++ {
		if _, err := m.Settle(ctx, token, OutcomeFailure); err != nil {
			t.Fatalf("settle failure: %v", err)
		}
	}
	record, ok, err := keyStore.GetKey(ctx, token)
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if record.RemainingValue() != 1 {
		t.Fatalf("expected remaining=1, got %d", record.RemainingValue())
	}
	if record.Usage != 5 {
		t.Fatalf("expected usage=5, got %d", record.Usage)
	}
}

func TestManager_MonthlyKeyExpiresByTime(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	m, keyStore := newTestManager(t, &now)

	token, record, err := m.Create(ctx, models.QuotaKindMonthly, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := record.ExpiresAt().Sub(now); got != 30*24*time.Hour {
		t.Fatalf("expected 30 day lifetime, got %s", got)
	}

	for i := 0; i < 3; i++ {
		if _, errSettle := m.Settle(ctx, token, OutcomeSuccess); errSettle != nil {
			t.Fatalf("settle: %v", errSettle)
		}
	}
	if _, errValidate := m.Validate(ctx, token); errValidate != nil {
		t.Fatalf("expected monthly key valid, got %v", errValidate)
	}

	now = record.ExpiresAt().Add(time.Millisecond)
	if _, errValidate := m.Validate(ctx, token); !errors.Is(errValidate, ErrKeyExpired) {
		t.Fatalf("expected ErrKeyExpired, got %v", errValidate)
	}
	if _, ok, _ := keyStore.GetKey(ctx, token); ok {
		t.Fatalf("expected expired key cleaned up")
	}
}

func TestManager_CreateValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m, _ := newTestManager(t, &now)

	cases := []struct {
		name  string
		kind  models.QuotaKind
		value int64
		want  error
	}{
		{name: "bad type", kind: "weekly", value: 1, want: ErrInvalidType},
		{name: "zero value", kind: models.QuotaKindRequest, value: 0, want: ErrInvalidValue},
		{name: "too many months", kind: models.QuotaKindMonthly, value: 13, want: ErrMonthsExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := m.Create(ctx, tc.kind, tc.value); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, _, err := m.Create(ctx, models.QuotaKindMonthly, 12); err != nil {
		t.Fatalf("expected 12 months accepted, got %v", err)
	}
}

func TestManager_ExpireAndList(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	m, _ := newTestManager(t, &now)

	requestToken, _, _ := m.Create(ctx, models.QuotaKindRequest, 5)
	monthlyToken, _, _ := m.Create(ctx, models.QuotaKindMonthly, 2)

	if err := m.Expire(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := m.Expire(ctx, requestToken); err != nil {
		t.Fatalf("expire request key: %v", err)
	}
	if err := m.Expire(ctx, monthlyToken); err != nil {
		t.Fatalf("expire monthly key: %v", err)
	}

	now = now.Add(time.Millisecond)
	views, err := m.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(views))
	}
	for _, view := range views {
		if view.Status != models.KeyStatusExpired {
			t.Fatalf("expected %s expired, got %s", view.Token, view.Status)
		}
	}

	if err := m.Delete(ctx, requestToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	views, _ = m.List(ctx)
	if len(views) != 1 || views[0].Token != monthlyToken {
		t.Fatalf("expected only monthly key listed, got %+v", views)
	}
}

func TestManager_SettleDoesNotResurrectDeletedKey(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m, keyStore := newTestManager(t, &now)

	token, _, _ := m.Create(ctx, models.QuotaKindRequest, 2)
	if _, err := m.Validate(ctx, token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := m.Delete(ctx, token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Settle(ctx, token, OutcomeSuccess); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, ok, _ := keyStore.GetKey(ctx, token); ok {
		t.Fatalf("expected deleted key to stay deleted")
	}
}

func TestManager_ConcurrentSettleNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m, keyStore := newTestManager(t, &now)

	token, _, _ := m.Create(ctx, models.QuotaKindRequest, 10)
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Settle(ctx, token, OutcomeSuccess)
		}()
	}
	wg.Wait()

	if _, ok, _ := keyStore.GetKey(ctx, token); ok {
		t.Fatalf("expected key retired after 10 successes")
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("0123456789abcdef"); got != "01234567...cdef" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := MaskKey("short"); got != "****" {
		t.Fatalf("unexpected mask: %q", got)
	}
}

type flakyIndexStore struct {
	kv.Store
	failIndex bool
}

var errFlakyIndex = errors.New("index write failed")

func (s *flakyIndexStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failIndex && key == settings.AllKeysIndex {
		return errFlakyIndex
	}
	return s.Store.Set(ctx, key, value)
}

func TestManager_RetireKeepsKeyIntactWhenIndexWriteFails(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	backend := &flakyIndexStore{Store: kv.NewMemoryStore()}
	keyStore := store.NewKeyStore(backend)
	m := NewManager(keyStore)
	m.nowFn = func() time.Time { return now }

	token, _, err := m.Create(ctx, models.QuotaKindRequest, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	backend.failIndex = true
	if _, errSettle := m.Settle(ctx, token, OutcomeSuccess); !errors.Is(errSettle, errFlakyIndex) {
		t.Fatalf("expected index write error, got %v", errSettle)
	}
	record, ok, _ := keyStore.GetKey(ctx, token)
	if !ok {
		t.Fatalf("expected record kept after failed retire")
	}
	if record.RemainingValue() != 1 || record.Usage != 0 {
		t.Fatalf("expected untouched record, got %+v", record)
	}
	tokens, _ := keyStore.ListTokens(ctx)
	if len(tokens) != 1 || tokens[0] != token {
		t.Fatalf("expected index [%s], got %v", token, tokens)
	}

	backend.failIndex = false
	if _, errSettle := m.Settle(ctx, token, OutcomeSuccess); errSettle != nil {
		t.Fatalf("retry settle: %v", errSettle)
	}
	if _, ok, _ := keyStore.GetKey(ctx, token); ok {
		t.Fatalf("expected record retired on retry")
	}
	tokens, _ = keyStore.ListTokens(ctx)
	if len(tokens) != 0 {
		t.Fatalf("expected empty index, got %v", tokens)
	}
}
