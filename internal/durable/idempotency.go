package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashsale/checkout-coordinator/internal/model"
)

// IdempotencyRepo backs spec.md §4.4.2 step 3: a webhook delivery's
// idem_key is looked up and inserted inside the same transaction that
// locks the order row, so a duplicate delivery racing the first either
// sees the just-committed row or blocks behind it.
type IdempotencyRepo struct {
	db *sql.DB
}

func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

func (i *IdempotencyRepo) DB() *sql.DB { return i.db }

// LookupForUpdateTx returns the existing record for key, locking it
// against concurrent inserts/updates, or ok=false if no record exists
// yet (the common case: first delivery of a webhook).
func (i *IdempotencyRepo) LookupForUpdateTx(ctx context.Context, tx *sql.Tx, key string) (model.IdempotencyRecord, bool, error) {
	const q = `SELECT id, idem_key, order_id, status, created_at FROM idempotency_keys WHERE idem_key = ? FOR UPDATE`
	var rec model.IdempotencyRecord
	err := tx.QueryRowContext(ctx, q, key).Scan(&rec.ID, &rec.Key, &rec.OrderID, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return model.IdempotencyRecord{}, false, fmt.Errorf("durable: lookup idempotency key %s: %w", key, err)
	}
	return rec, true, nil
}

// InsertTx records the outcome of a webhook delivery against its
// idem_key inside the caller's transaction, so a duplicate delivery
// that races this one fails on the UNIQUE constraint rather than
// double-applying the outcome.
func (i *IdempotencyRepo) InsertTx(ctx context.Context, tx *sql.Tx, key string, orderID uint64, status string) error {
	const q = `INSERT INTO idempotency_keys (idem_key, order_id, status) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, key, orderID, status); err != nil {
		return fmt.Errorf("durable: insert idempotency key %s: %w", key, err)
	}
	return nil
}
