package model

import "time"

// HoldStatus enumerates the lifecycle states of a Hold. Terminal states
// are Used, Expired and PaymentFailed; once a hold leaves Active it is
// never revived.
type HoldStatus string

const (
	HoldActive        HoldStatus = "active"
	HoldUsed          HoldStatus = "used"
	HoldExpiredStatus HoldStatus = "expired"
	HoldPaymentFailed HoldStatus = "payment_failed"
)

// IsTerminal reports whether the status can no longer transition.
func (s HoldStatus) IsTerminal() bool {
	return s == HoldUsed || s == HoldExpiredStatus || s == HoldPaymentFailed
}

// Hold is a time-limited reservation of Qty units of ProductID, identified
// by a UUID string. An active hold contributes exactly Qty to the
// product's reserved counter and is discoverable through the hold
// registry's three indices; terminal holds are discoverable through
// none of them (see internal/holds).
type Hold struct {
	ID              string
	ProductID       uint64
	Qty             uint64
	Status          HoldStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ExpiresAtEpoch  int64
	Version         uint64
	LastAccessedAt  *time.Time
}

// Expired reports whether the hold's TTL has elapsed as of now. Per
// spec, expiry is inclusive: a hold whose ExpiresAtEpoch equals now is
// already expired.
func (h Hold) Expired(now time.Time) bool {
	return h.ExpiresAtEpoch <= now.Unix()
}
