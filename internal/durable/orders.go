package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

// OrderRepo provides CRUD over the orders table, mirroring the teacher's
// ReservationRepo (internal/repository/reservation_repository.go):
// CreateTx populates generated fields by querying the row back, and all
// mutation methods accept an existing *sql.Tx so the webhook
// coordinator can compose them inside one durable transaction.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

func (o *OrderRepo) DB() *sql.DB { return o.db }

// CreateTx inserts a pending_payment order for holdID/productID/qty and
// populates the generated id/timestamps on the returned model.Order.
func (o *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, holdID string, productID uint64, qty uint64) (model.Order, error) {
	const ins = `INSERT INTO orders (hold_id, product_id, qty, state) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins, holdID, productID, qty, string(model.OrderPendingPayment))
	if err != nil {
		return model.Order{}, fmt.Errorf("durable: insert order for hold %s: %w", holdID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Order{}, fmt.Errorf("durable: insert order id for hold %s: %w", holdID, err)
	}
	return o.getTx(ctx, tx, uint64(id))
}

func (o *OrderRepo) getTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Order, error) {
	const q = `SELECT id, hold_id, product_id, qty, state, created_at, updated_at FROM orders WHERE id = ?`
	var ord model.Order
	var state string
	err := tx.QueryRowContext(ctx, q, id).Scan(&ord.ID, &ord.HoldID, &ord.ProductID, &ord.Qty, &state, &ord.CreatedAt, &ord.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, coreerr.ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("durable: get order %d: %w", id, err)
	}
	ord.State = model.OrderState(state)
	return ord, nil
}

// LockForUpdateTx locks and returns the order row (spec.md §4.4.2 step
// 1), or coreerr.ErrOrderNotFound when absent.
func (o *OrderRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Order, error) {
	const q = `SELECT id, hold_id, product_id, qty, state, created_at, updated_at FROM orders WHERE id = ? FOR UPDATE`
	var ord model.Order
	var state string
	err := tx.QueryRowContext(ctx, q, id).Scan(&ord.ID, &ord.HoldID, &ord.ProductID, &ord.Qty, &state, &ord.CreatedAt, &ord.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, coreerr.ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("durable: lock order %d: %w", id, err)
	}
	ord.State = model.OrderState(state)
	return ord, nil
}

// SetStateTx transitions an order to a new (terminal) state. Orders
// never transition backward; callers are expected to have already
// checked the current state.
func (o *OrderRepo) SetStateTx(ctx context.Context, tx *sql.Tx, id uint64, state model.OrderState) error {
	const q = `UPDATE orders SET state = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, string(state), id); err != nil {
		return fmt.Errorf("durable: set order %d state=%s: %w", id, state, err)
	}
	return nil
}

// Get is the read-only lookup used by GET-style callers outside a
// webhook transaction (e.g. an HTTP status check).
func (o *OrderRepo) Get(ctx context.Context, id uint64) (model.Order, error) {
	const q = `SELECT id, hold_id, product_id, qty, state, created_at, updated_at FROM orders WHERE id = ?`
	var ord model.Order
	var state string
	err := o.db.QueryRowContext(ctx, q, id).Scan(&ord.ID, &ord.HoldID, &ord.ProductID, &ord.Qty, &state, &ord.CreatedAt, &ord.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, coreerr.ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("durable: get order %d: %w", id, err)
	}
	ord.State = model.OrderState(state)
	return ord, nil
}
