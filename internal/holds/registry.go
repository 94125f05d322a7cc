// Package holds implements the Hold Registry (spec.md §4.3): the
// lifecycle of individual reservations, their per-product indices, and
// the scripted-atomic transitions that keep a hold's hash record and
// its indices perfectly in sync. Grounded on the teacher's
// internal/repository/seat_hold_repository.go (the nearest analogue —
// create/expire/delete-by-owner against a set of holds) and on
// internal/middleware/ratelimit.go for the Lua-script calling
// convention.
package holds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/keyspace"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

const (
	holdTTL        = 120 * time.Second
	createRetries  = 3
	createBackoff  = 100 * time.Millisecond
)

// AuditWriter persists a best-effort durable copy of a hold at creation
// time, resolving the open question in spec.md §9 in favor of (a):
// holds ARE persisted durably on create. It is never consulted for live
// reads — the fast store remains the sole source of truth for active
// holds — only for the pessimistic-fallback recomputation in
// internal/stock and for audit trails.
type AuditWriter interface {
	RecordHoldCreated(ctx context.Context, h model.Hold) error

	// MarkTerminal best-effort updates the audit row's status once a
	// hold leaves the active state, so the pessimistic fallback's
	// `WHERE status = 'active'` sum in internal/durable stays accurate.
	MarkTerminal(ctx context.Context, holdID string, status model.HoldStatus) error
}

// Registry is the Hold Registry component (C3).
type Registry struct {
	fs    *faststore.Adapter
	audit AuditWriter
}

// NewRegistry builds a Registry. audit may be nil, in which case holds
// are not durably audited and the pessimistic stock fallback operates
// with reduced consistency, exactly as spec.md §9's open question
// describes for option (b).
func NewRegistry(fs *faststore.Adapter, audit AuditWriter) *Registry {
	return &Registry{fs: fs, audit: audit}
}

func productStockKeys(productID uint64) []string {
	return []string{
		keyspace.Available(productID),
		keyspace.Reserved(productID),
		keyspace.Version(productID),
		keyspace.ActiveHolds(productID),
	}
}

// Create allocates a new hold for qty units of productID, per spec.md
// §4.3. The ledger mutation and the index writes happen in one
// optimistic transaction so there is never a window where stock is
// reserved without a corresponding discoverable hold, or vice versa.
func (r *Registry) Create(ctx context.Context, productID uint64, qty uint64) (model.Hold, model.StockSnapshot, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	expiresAt := now.Add(holdTTL)

	watch := append(productStockKeys(productID),
		keyspace.ProductHolds(productID),
		keyspace.ExpiringIndex(productID),
	)

	for attempt := 1; attempt <= createRetries; attempt++ {
		hold, snap, insufficient, err := r.tryCreate(ctx, id, productID, qty, now, expiresAt, watch)
		if insufficient != nil {
			return model.Hold{}, model.StockSnapshot{}, insufficient
		}
		if err == nil {
			if r.audit != nil {
				_ = r.audit.RecordHoldCreated(ctx, hold) // best-effort; fast store remains authoritative
			}
			return hold, snap, nil
		}
		if errors.Is(err, coreerr.ErrConflict) {
			time.Sleep(time.Duration(attempt) * createBackoff)
			continue
		}
		return model.Hold{}, model.StockSnapshot{}, err
	}
	return model.Hold{}, model.StockSnapshot{}, coreerr.ErrConcurrentModification
}

func (r *Registry) tryCreate(ctx context.Context, id string, productID, qty uint64, now, expiresAt time.Time, watch []string) (model.Hold, model.StockSnapshot, *coreerr.InsufficientStock, error) {
	var (
		insufficient *coreerr.InsufficientStock
		hold         model.Hold
		snap         model.StockSnapshot
	)
	err := r.fs.Txn(ctx, watch, func(tx *redis.Tx) error {
		a, err := tx.Get(ctx, keyspace.Available(productID)).Int64()
		if err != nil {
			return err
		}
		res, err := tx.Get(ctx, keyspace.Reserved(productID)).Int64()
		if err != nil {
			return err
		}
		v, err := tx.Get(ctx, keyspace.Version(productID)).Uint64()
		if err != nil {
			return err
		}
		if a < int64(qty) {
			insufficient = &coreerr.InsufficientStock{ProductID: productID, Available: a, Reserved: res, Version: v}
			return nil
		}
		newA, newR, newV := a-int64(qty), res+int64(qty), v+1

		hold = model.Hold{
			ID: id, ProductID: productID, Qty: qty, Status: model.HoldActive,
			CreatedAt: now, ExpiresAt: expiresAt, ExpiresAtEpoch: expiresAt.Unix(), Version: newV,
		}
		snap = model.StockSnapshot{ProductID: productID, Available: newA, Reserved: newR, Version: newV}

		holdKey := keyspace.Hold(id)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyspace.Available(productID), newA, 0)
			pipe.Set(ctx, keyspace.Reserved(productID), newR, 0)
			pipe.Set(ctx, keyspace.Version(productID), newV, 0)
			pipe.IncrBy(ctx, keyspace.ActiveHolds(productID), int64(qty))
			pipe.HSet(ctx, holdKey, map[string]interface{}{
				"product_id":       productID,
				"qty":              qty,
				"status":           string(model.HoldActive),
				"created_at":       now.Format(time.RFC3339),
				"expires_at":       expiresAt.Format(time.RFC3339),
				"expires_at_epoch": expiresAt.Unix(),
				"version":          newV,
			})
			pipe.SAdd(ctx, keyspace.ProductHolds(productID), id)
			pipe.ZAdd(ctx, keyspace.ExpiringIndex(productID), redis.Z{Score: float64(expiresAt.Unix()), Member: id})
			pipe.SAdd(ctx, keyspace.HoldsByStatus(string(model.HoldActive)), id)
			return nil
		})
		return err
	})
	return hold, snap, insufficient, err
}

// Get returns the hold record, or ok=false if absent.
func (r *Registry) Get(ctx context.Context, id string) (model.Hold, bool, error) {
	m, err := r.fs.HashGetAll(ctx, keyspace.Hold(id))
	if err != nil {
		return model.Hold{}, false, err
	}
	if len(m) == 0 {
		return model.Hold{}, false, nil
	}
	h, err := hydrate(id, m)
	return h, true, err
}

// GetMany pipelines hash reads to amortize round-trips (spec.md §4.3).
func (r *Registry) GetMany(ctx context.Context, ids []string) (map[string]model.Hold, error) {
	out := make(map[string]model.Hold, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	pipe := r.fs.Client().Pipeline()
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, keyspace.Hold(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrFastStoreUnavailable, err)
	}
	for id, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		h, err := hydrate(id, m)
		if err != nil {
			continue
		}
		out[id] = h
	}
	return out, nil
}

// TouchIfActive re-validates that a hold is still active and stamps
// last_accessed_at, used by the order coordinator's create-from-hold
// validation step (spec.md §4.4.1): an optimistic transaction so a
// concurrent terminalization of the hold between the caller's initial
// classification and this write is detected as coreerr.ErrConflict
// rather than silently overwritten.
func (r *Registry) TouchIfActive(ctx context.Context, holdID string, now time.Time) error {
	key := keyspace.Hold(holdID)
	return r.fs.Txn(ctx, []string{key}, func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if err != nil {
			if err == redis.Nil {
				return coreerr.ErrHoldNotFound
			}
			return err
		}
		if model.HoldStatus(status) != model.HoldActive {
			return coreerr.ErrInvalidHold
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "last_accessed_at", now.Format(time.RFC3339))
			return nil
		})
		return err
	})
}

// ListActive lists every currently-active hold for a product, the
// supplemented read-model operation described in SPEC_FULL.md.
func (r *Registry) ListActive(ctx context.Context, productID uint64) ([]model.Hold, error) {
	ids, err := r.fs.SetMembers(ctx, keyspace.ProductHolds(productID))
	if err != nil {
		return nil, err
	}
	byID, err := r.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.Hold, 0, len(byID))
	for _, h := range byID {
		if h.Status == model.HoldActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func hydrate(id string, m map[string]string) (model.Hold, error) {
	productID, err := strconv.ParseUint(m["product_id"], 10, 64)
	if err != nil {
		return model.Hold{}, fmt.Errorf("hold %s: bad product_id: %w", id, err)
	}
	qty, err := strconv.ParseUint(m["qty"], 10, 64)
	if err != nil {
		return model.Hold{}, fmt.Errorf("hold %s: bad qty: %w", id, err)
	}
	epoch, _ := strconv.ParseInt(m["expires_at_epoch"], 10, 64)
	version, _ := strconv.ParseUint(m["version"], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339, m["created_at"])
	expiresAt, _ := time.Parse(time.RFC3339, m["expires_at"])

	h := model.Hold{
		ID:             id,
		ProductID:      productID,
		Qty:            qty,
		Status:         model.HoldStatus(m["status"]),
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
		ExpiresAtEpoch: epoch,
		Version:        version,
	}
	if la, ok := m["last_accessed_at"]; ok && la != "" {
		if t, err := time.Parse(time.RFC3339, la); err == nil {
			h.LastAccessedAt = &t
		}
	}
	return h, nil
}
