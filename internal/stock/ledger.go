// Package stock implements the Stock Ledger (spec.md §4.2): per-product
// counters with atomic reserve/release/commit primitives and a
// monotonic version. It is grounded on the teacher's allowHold rate
// limiter (internal/handler/customer_reservation.go), which is the only
// place in the teacher repository that drives a Redis optimistic
// transaction end to end — the retry-on-TxFailedErr loop here follows
// that shape.
package stock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/keyspace"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

const (
	initGuardTTLSeconds = 5
	initPollAttempts    = 10
	initPollInterval    = 50 * time.Millisecond
	reserveRetries      = 3
	reserveBackoffUnit  = 100 * time.Millisecond
)

// DurableProducts is the slice of the durable store the ledger needs:
// reading a product's configured base stock, and (only on the
// pessimistic fallback path) recomputing reservations under a row lock.
// It is satisfied by *sql.DB in production and by an in-memory fake in
// tests, the same dependency-inversion shape the teacher's repository
// layer uses (e.g. ShowSeatRepo.DB()).
type DurableProducts interface {
	BaseStock(ctx context.Context, productID uint64) (uint64, error)
	// LockAndRecomputeReserved takes a row-level lock on the product and
	// returns the authoritative reserved quantity computed from durable
	// hold_audit rows, for the pessimistic fallback of spec.md §4.2.3.
	LockAndRecomputeReserved(ctx context.Context, productID uint64) (baseStock uint64, reserved uint64, err error)
}

// Ledger is the Stock Ledger component (C2).
type Ledger struct {
	fs       *faststore.Adapter
	products DurableProducts
}

// NewLedger builds a Ledger bound to the fast store and the durable
// product reference data.
func NewLedger(fs *faststore.Adapter, products DurableProducts) *Ledger {
	return &Ledger{fs: fs, products: products}
}

// ensureInit performs the lazy initialization protocol of spec.md §4.2:
// the first caller to observe an uninitialized product acquires a
// leased guard, seeds available/reserved/version from the durable base
// stock, and releases the guard; everyone else polls with bounded
// backoff and falls back to the pessimistic path if initialization still
// hasn't completed.
func (l *Ledger) ensureInit(ctx context.Context, productID uint64) error {
	versionKey := keyspace.Version(productID)
	if _, ok, err := l.fs.Get(ctx, versionKey); err != nil {
		return err
	} else if ok {
		return nil
	}

	guardKey := keyspace.InitGuard(productID)
	acquired, err := l.fs.SetIfAbsent(ctx, guardKey, "1", initGuardTTLSeconds)
	if err != nil {
		return err
	}
	if acquired {
		defer l.fs.Delete(context.WithoutCancel(ctx), guardKey)
		base, err := l.products.BaseStock(ctx, productID)
		if err != nil {
			return err
		}
		if err := l.fs.Set(ctx, keyspace.Available(productID), itoa(int64(base)), 0); err != nil {
			return err
		}
		if err := l.fs.Set(ctx, keyspace.Reserved(productID), "0", 0); err != nil {
			return err
		}
		if err := l.fs.Set(ctx, versionKey, "1", 0); err != nil {
			return err
		}
		if err := l.fs.Set(ctx, keyspace.ActiveHolds(productID), "0", 0); err != nil {
			return err
		}
		return nil
	}

	for attempt := 0; attempt < initPollAttempts; attempt++ {
		if _, ok, err := l.fs.Get(ctx, versionKey); err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(initPollInterval):
		}
	}
	// Initialization still hasn't completed; the caller falls back to
	// the pessimistic path, which recomputes everything under a durable
	// row lock and doesn't depend on the fast-store counters existing.
	return errInitTimeout
}

var errInitTimeout = errors.New("stock: initialization guard timed out")

func readCounters(ctx context.Context, tx *redis.Tx, productID uint64) (available, reserved int64, version uint64, err error) {
	a, err := tx.Get(ctx, keyspace.Available(productID)).Int64()
	if err != nil {
		return 0, 0, 0, err
	}
	r, err := tx.Get(ctx, keyspace.Reserved(productID)).Int64()
	if err != nil {
		return 0, 0, 0, err
	}
	v, err := tx.Get(ctx, keyspace.Version(productID)).Uint64()
	if err != nil {
		return 0, 0, 0, err
	}
	return a, r, v, nil
}

func watchedKeys(productID uint64) []string {
	return []string{
		keyspace.Available(productID),
		keyspace.Reserved(productID),
		keyspace.Version(productID),
	}
}

// Reserve attempts to move qty units of productID from available to
// reserved, per spec.md §4.2. It retries up to reserveRetries times on
// optimistic conflict with linear backoff, then falls through to the
// pessimistic path.
func (l *Ledger) Reserve(ctx context.Context, productID uint64, qty uint64) (model.StockSnapshot, error) {
	if err := l.ensureInit(ctx, productID); err != nil {
		if errors.Is(err, errInitTimeout) {
			return l.reservePessimistic(ctx, productID, qty)
		}
		return model.StockSnapshot{}, err
	}

	for attempt := 1; attempt <= reserveRetries; attempt++ {
		snap, insufficient, err := l.tryReserve(ctx, productID, qty)
		if insufficient != nil {
			return model.StockSnapshot{}, insufficient
		}
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, coreerr.ErrConflict) {
			time.Sleep(time.Duration(attempt) * reserveBackoffUnit)
			continue
		}
		return model.StockSnapshot{}, err
	}
	return l.reservePessimistic(ctx, productID, qty)
}

func (l *Ledger) tryReserve(ctx context.Context, productID uint64, qty uint64) (model.StockSnapshot, *coreerr.InsufficientStock, error) {
	var (
		insufficient *coreerr.InsufficientStock
		result       model.StockSnapshot
	)
	err := l.fs.Txn(ctx, watchedKeys(productID), func(tx *redis.Tx) error {
		a, r, v, err := readCounters(ctx, tx, productID)
		if err != nil {
			return err
		}
		if a < int64(qty) {
			insufficient = &coreerr.InsufficientStock{ProductID: productID, Available: a, Reserved: r, Version: v}
			return nil
		}
		newA, newR, newV := a-int64(qty), r+int64(qty), v+1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyspace.Available(productID), newA, 0)
			pipe.Set(ctx, keyspace.Reserved(productID), newR, 0)
			pipe.Set(ctx, keyspace.Version(productID), newV, 0)
			return nil
		})
		if err == nil {
			result = model.StockSnapshot{ProductID: productID, Available: newA, Reserved: newR, Version: newV}
		}
		return err
	})
	return result, insufficient, err
}

// Release moves qty units of productID from reserved back to available.
// Precondition reserved >= qty; violation surfaces ErrInvalidRelease.
func (l *Ledger) Release(ctx context.Context, productID uint64, qty uint64) (model.StockSnapshot, error) {
	if err := l.ensureInit(ctx, productID); err != nil {
		return model.StockSnapshot{}, err
	}
	for attempt := 1; attempt <= reserveRetries; attempt++ {
		snap, invalid, err := l.tryRelease(ctx, productID, qty)
		if invalid {
			return model.StockSnapshot{}, coreerr.ErrInvalidRelease
		}
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, coreerr.ErrConflict) {
			time.Sleep(time.Duration(attempt) * reserveBackoffUnit)
			continue
		}
		return model.StockSnapshot{}, err
	}
	return model.StockSnapshot{}, coreerr.ErrConcurrentModification
}

func (l *Ledger) tryRelease(ctx context.Context, productID uint64, qty uint64) (model.StockSnapshot, bool, error) {
	var (
		invalid bool
		result  model.StockSnapshot
	)
	err := l.fs.Txn(ctx, watchedKeys(productID), func(tx *redis.Tx) error {
		a, r, v, err := readCounters(ctx, tx, productID)
		if err != nil {
			return err
		}
		if r < int64(qty) {
			invalid = true
			return nil
		}
		newA, newR, newV := a+int64(qty), r-int64(qty), v+1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyspace.Available(productID), newA, 0)
			pipe.Set(ctx, keyspace.Reserved(productID), newR, 0)
			pipe.Set(ctx, keyspace.Version(productID), newV, 0)
			return nil
		})
		if err == nil {
			result = model.StockSnapshot{ProductID: productID, Available: newA, Reserved: newR, Version: newV}
		}
		return err
	})
	return result, invalid, err
}

// Snapshot reads the current counters without mutating them.
func (l *Ledger) Snapshot(ctx context.Context, productID uint64) (model.StockSnapshot, error) {
	if err := l.ensureInit(ctx, productID); err != nil {
		return model.StockSnapshot{}, err
	}
	a, _, err := l.fs.Get(ctx, keyspace.Available(productID))
	if err != nil {
		return model.StockSnapshot{}, err
	}
	r, _, err := l.fs.Get(ctx, keyspace.Reserved(productID))
	if err != nil {
		return model.StockSnapshot{}, err
	}
	v, _, err := l.fs.Get(ctx, keyspace.Version(productID))
	if err != nil {
		return model.StockSnapshot{}, err
	}
	return model.StockSnapshot{
		ProductID: productID,
		Available: parseInt64(a),
		Reserved:  parseInt64(r),
		Version:   parseUint64(v),
	}, nil
}

// ActiveHolds returns the product's active_holds counter, used by the
// GET /products/{id} view (spec.md §6) alongside Snapshot.
func (l *Ledger) ActiveHolds(ctx context.Context, productID uint64) (uint64, error) {
	if err := l.ensureInit(ctx, productID); err != nil {
		return 0, err
	}
	v, _, err := l.fs.Get(ctx, keyspace.ActiveHolds(productID))
	if err != nil {
		return 0, err
	}
	return uint64(parseInt64(v)), nil
}

// Refresh recomputes available/reserved from the durable base stock and
// a caller-supplied count of active reservation quantity, implementing
// the administrative refresh-stock operation of spec.md §7:
// available = base_stock - sum(active_qty), reserved = sum(active_qty).
func (l *Ledger) Refresh(ctx context.Context, productID uint64, activeReservedQty uint64) (model.StockSnapshot, error) {
	base, err := l.products.BaseStock(ctx, productID)
	if err != nil {
		return model.StockSnapshot{}, err
	}
	available := int64(base) - int64(activeReservedQty)
	if available < 0 {
		available = 0
	}
	if err := l.fs.Set(ctx, keyspace.Available(productID), itoa(available), 0); err != nil {
		return model.StockSnapshot{}, err
	}
	if err := l.fs.Set(ctx, keyspace.Reserved(productID), itoa(int64(activeReservedQty)), 0); err != nil {
		return model.StockSnapshot{}, err
	}
	v, err := l.fs.IncrBy(ctx, keyspace.Version(productID), 1)
	if err != nil {
		return model.StockSnapshot{}, err
	}
	return model.StockSnapshot{ProductID: productID, Available: available, Reserved: int64(activeReservedQty), Version: uint64(v)}, nil
}
