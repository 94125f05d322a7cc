package holds

import (
	"context"
	"strconv"
	"time"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/keyspace"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

func (r *Registry) scriptKeys(productID uint64, holdID string) []string {
	return []string{
		keyspace.Hold(holdID),
		keyspace.Available(productID),
		keyspace.Reserved(productID),
		keyspace.Version(productID),
		keyspace.ActiveHolds(productID),
		keyspace.ProductHolds(productID),
		keyspace.ExpiringIndex(productID),
		keyspace.HoldsByStatus(string(model.HoldActive)),
	}
}

// runReleaseScript centralizes the releaseScript call/parse for Release,
// Expire, and the webhook-failure refund.
func (r *Registry) runReleaseScript(ctx context.Context, productID uint64, holdID string, gateEpoch int64) (qtyReleased uint64, err error) {
	res, err := r.fs.Eval(ctx, releaseScript, r.scriptKeys(productID, holdID), holdID, gateEpoch)
	if err != nil {
		return 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 4 {
		return 0, coreerr.ErrInvalidHold
	}
	ok1 := toInt(arr[0]) == 1
	reason, _ := arr[1].(string)
	qty := toUint(arr[2])
	remaining := toInt(arr[3])

	if ok1 {
		return qty, nil
	}
	switch reason {
	case "invalid":
		return 0, coreerr.ErrInvalidHold
	case "not_expired":
		expAt := toInt(arr[2])
		return 0, &coreerr.HoldNotExpired{HoldID: holdID, ExpiresAt: expAt, SecondsRemaining: remaining}
	case "invalid_release":
		return 0, coreerr.ErrInvalidRelease
	default:
		return 0, coreerr.ErrInvalidHold
	}
}

// Release cancels an active hold at the caller's request (spec.md §4.3
// Release): a scripted-atomic sequence so there is never a window where
// reserved has been decremented but the hold hash still exists.
func (r *Registry) Release(ctx context.Context, productID uint64, holdID string) (uint64, error) {
	qty, err := r.runReleaseScript(ctx, productID, holdID, -1)
	if err == nil && r.audit != nil {
		_ = r.audit.MarkTerminal(ctx, holdID, model.HoldExpiredStatus)
	}
	return qty, err
}

// Expire is the timeout-driven counterpart to Release: the same script,
// additionally gated on expires_at_epoch <= now. A hold whose expiry
// equals now is considered expired (the gate is <=, not <).
func (r *Registry) Expire(ctx context.Context, productID uint64, holdID string, now time.Time) (uint64, error) {
	qty, err := r.runReleaseScript(ctx, productID, holdID, now.Unix())
	if err == nil && r.audit != nil {
		_ = r.audit.MarkTerminal(ctx, holdID, model.HoldExpiredStatus)
	}
	return qty, err
}

// CommitActive runs the webhook-success scripted-atomic commit: reserved
// is decremented and the hold deleted, but available is left untouched
// because the units have already been permanently decremented from the
// durable products.stock column by the caller.
func (r *Registry) CommitActive(ctx context.Context, productID uint64, holdID string) (uint64, error) {
	keys := []string{
		keyspace.Hold(holdID),
		keyspace.Reserved(productID),
		keyspace.Version(productID),
		keyspace.ActiveHolds(productID),
		keyspace.ProductHolds(productID),
		keyspace.ExpiringIndex(productID),
		keyspace.HoldsByStatus(string(model.HoldActive)),
	}
	res, err := r.fs.Eval(ctx, commitScript, keys, holdID)
	if err != nil {
		return 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return 0, coreerr.ErrInvalidHold
	}
	if toInt(arr[0]) != 1 {
		return 0, coreerr.ErrInvalidHold
	}
	qty := toUint(arr[2])
	if r.audit != nil {
		_ = r.audit.MarkTerminal(ctx, holdID, model.HoldUsed)
	}
	return qty, nil
}

// RefundActive is the webhook-failure counterpart to CommitActive. It
// has identical semantics to Release, so it reuses the same script.
func (r *Registry) RefundActive(ctx context.Context, productID uint64, holdID string) (uint64, error) {
	qty, err := r.runReleaseScript(ctx, productID, holdID, -1)
	if err == nil && r.audit != nil {
		_ = r.audit.MarkTerminal(ctx, holdID, model.HoldPaymentFailed)
	}
	return qty, err
}

// ExpireBatch runs the bulk scripted-atomic expire for two or more
// candidates sharing productID (spec.md §4.5's reaper optimization).
// Returns the ids that were actually expired; a candidate already
// terminalized by a concurrent actor is silently omitted, not an error.
func (r *Registry) ExpireBatch(ctx context.Context, productID uint64, holdIDs []string, now time.Time) ([]string, error) {
	keys := []string{
		keyspace.Available(productID),
		keyspace.Reserved(productID),
		keyspace.Version(productID),
		keyspace.ActiveHolds(productID),
		keyspace.ProductHolds(productID),
		keyspace.ExpiringIndex(productID),
		keyspace.HoldsByStatus(string(model.HoldActive)),
	}
	for _, id := range holdIDs {
		keys = append(keys, keyspace.Hold(id))
	}
	args := make([]interface{}, 0, len(holdIDs)+1)
	args = append(args, now.Unix())
	for _, id := range holdIDs {
		args = append(args, id)
	}

	res, err := r.fs.Eval(ctx, bulkExpireScript, keys, args...)
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2*len(holdIDs) {
		return nil, coreerr.ErrInvalidHold
	}

	var expired []string
	for i, id := range holdIDs {
		if toInt(arr[2*i]) == 1 {
			expired = append(expired, id)
			if r.audit != nil {
				_ = r.audit.MarkTerminal(ctx, id, model.HoldExpiredStatus)
			}
		}
	}
	return expired, nil
}

func toInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func toUint(v interface{}) uint64 {
	n := toInt(v)
	if n < 0 {
		return 0
	}
	return uint64(n)
}
