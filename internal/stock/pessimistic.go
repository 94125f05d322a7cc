package stock

import (
	"context"
	"strconv"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/keyspace"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

// reservePessimistic implements spec.md §4.2.3: when optimistic retries
// are exhausted or the fast store is unavailable, take a row-level
// exclusive lock on the product row in the durable store, recompute
// reserved units from durable hold records, and perform the
// reservation atomically under the lock. The recomputed counters are
// then written back to the fast store so subsequent callers resume the
// optimistic path.
func (l *Ledger) reservePessimistic(ctx context.Context, productID uint64, qty uint64) (model.StockSnapshot, error) {
	base, reserved, err := l.products.LockAndRecomputeReserved(ctx, productID)
	if err != nil {
		return model.StockSnapshot{}, err
	}
	available := int64(base) - int64(reserved)
	if available < int64(qty) {
		return model.StockSnapshot{}, &coreerr.InsufficientStock{
			ProductID: productID,
			Available: available,
			Reserved:  int64(reserved),
		}
	}
	newAvailable := available - int64(qty)
	newReserved := int64(reserved) + int64(qty)

	if err := l.fs.Set(ctx, keyspace.Available(productID), itoa(newAvailable), 0); err != nil {
		return model.StockSnapshot{}, err
	}
	if err := l.fs.Set(ctx, keyspace.Reserved(productID), itoa(newReserved), 0); err != nil {
		return model.StockSnapshot{}, err
	}
	v, err := l.fs.IncrBy(ctx, keyspace.Version(productID), 1)
	if err != nil {
		return model.StockSnapshot{}, err
	}
	return model.StockSnapshot{ProductID: productID, Available: newAvailable, Reserved: newReserved, Version: uint64(v)}, nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
func parseUint64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
