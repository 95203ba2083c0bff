package models

import "time"

// QuotaKind selects how an API key is consumed.
type QuotaKind string

// QuotaKind constants define the supported key types.
const (
	// QuotaKindRequest keys are consumed one unit per successful bypass.
	QuotaKindRequest QuotaKind = "request"
	// QuotaKindMonthly keys are valid until their expiration timestamp.
	QuotaKindMonthly QuotaKind = "monthly"
)

// Valid reports whether the kind is one of the supported key types.
func (k QuotaKind) Valid() bool {
	return k == QuotaKindRequest || k == QuotaKindMonthly
}

// KeyStatus is the derived state of a key record.
type KeyStatus string

// KeyStatus constants define derived key states.
const (
	// KeyStatusActive marks a key that still admits requests.
	KeyStatusActive KeyStatus = "active"
	// KeyStatusExpired marks a key whose quota or lifetime is exhausted.
	KeyStatusExpired KeyStatus = "expired"
)

// KeyRecord is the persisted state of an issued API key.
// Timestamps are Unix epoch milliseconds.
type KeyRecord struct {
	Type       QuotaKind `json:"type"`       // Quota model.
	Remaining  *int64    `json:"remaining"`  // Remaining requests (request keys only).
	Expiration *int64    `json:"expiration"` // Expiry instant (monthly keys only).
	Created    int64     `json:"created"`    // Creation instant.
	Usage      int64     `json:"usage"`      // Settlement attempts charged to the key.
}

// NewRequestRecord builds a request-bounded record.
func NewRequestRecord(remaining int64, now time.Time) KeyRecord {
	return KeyRecord{
		Type:      QuotaKindRequest,
		Remaining: &remaining,
		Created:   now.UnixMilli(),
	}
}

// NewMonthlyRecord builds a time-bounded record expiring at expiresAt.
func NewMonthlyRecord(expiresAt, now time.Time) KeyRecord {
	expiration := expiresAt.UnixMilli()
	return KeyRecord{
		Type:       QuotaKindMonthly,
		Expiration: &expiration,
		Created:    now.UnixMilli(),
	}
}

// RemainingValue returns the remaining request count, zero when unset.
func (r KeyRecord) RemainingValue() int64 {
	if r.Remaining == nil {
		return 0
	}
	return *r.Remaining
}

// ExpiresAt returns the expiry instant, zero time when unset.
func (r KeyRecord) ExpiresAt() time.Time {
	if r.Expiration == nil {
		return time.Time{}
	}
	return time.UnixMilli(*r.Expiration)
}

// Expired reports whether the record no longer admits requests at now.
// Records of an unknown kind are treated as expired.
func (r KeyRecord) Expired(now time.Time) bool {
	switch r.Type {
	case QuotaKindRequest:
		return r.RemainingValue() <= 0
	case QuotaKindMonthly:
		if r.Expiration == nil {
			return true
		}
		return now.UnixMilli() > *r.Expiration
	default:
		return true
	}
}

// Status derives the display status of the record at now.
func (r KeyRecord) Status(now time.Time) KeyStatus {
	if r.Expired(now) {
		return KeyStatusExpired
	}
	return KeyStatusActive
}
