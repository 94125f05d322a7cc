package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

// ProductRepo provides access to the products table: the read-only
// reference data (except for the stock column, which the payment
// coordinator decrements on confirmed payment). Mirrors the teacher's
// ShowRepo / SeatRepo shape.
type ProductRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

// DB exposes the underlying handle so callers can compose transactions,
// matching the teacher's ShowSeatRepo.DB() convention.
func (p *ProductRepo) DB() *sql.DB { return p.db }

// Get returns the product row, or coreerr.ErrProductNotFound.
func (p *ProductRepo) Get(ctx context.Context, id uint64) (model.Product, error) {
	const q = `SELECT id, name, price_cents, stock FROM products WHERE id = ?`
	var out model.Product
	err := p.db.QueryRowContext(ctx, q, id).Scan(&out.ID, &out.Name, &out.PriceCents, &out.BaseStock)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, coreerr.ErrProductNotFound
	}
	if err != nil {
		return model.Product{}, fmt.Errorf("durable: get product %d: %w", id, err)
	}
	return out, nil
}

// BaseStock satisfies stock.DurableProducts: it's the value the Stock
// Ledger's lazy-init guard seeds available_stock from.
func (p *ProductRepo) BaseStock(ctx context.Context, productID uint64) (uint64, error) {
	prod, err := p.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return prod.BaseStock, nil
}

// LockAndRecomputeReserved implements the pessimistic fallback of
// spec.md §4.2.3: lock the product row, then sum hold_audit rows still
// marked active for the same product. If hold_audit was never
// populated (see DESIGN.md's note on the §9 open question), reserved is
// simply 0 and the fallback degrades to "trust base_stock alone".
func (p *ProductRepo) LockAndRecomputeReserved(ctx context.Context, productID uint64) (baseStock uint64, reserved uint64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("durable: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const lockQ = `SELECT stock FROM products WHERE id = ? FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQ, productID).Scan(&baseStock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, coreerr.ErrProductNotFound
		}
		return 0, 0, fmt.Errorf("durable: lock product %d: %w", productID, err)
	}

	const sumQ = `SELECT COALESCE(SUM(qty), 0) FROM hold_audit WHERE product_id = ? AND status = 'active'`
	if err := tx.QueryRowContext(ctx, sumQ, productID).Scan(&reserved); err != nil {
		return 0, 0, fmt.Errorf("durable: sum active holds for product %d: %w", productID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("durable: commit lock tx: %w", err)
	}
	return baseStock, reserved, nil
}

// DecrementStockTx performs the guarded durable decrement of spec.md
// §4.4.2's success path: `where stock >= qty`. Zero rows affected means
// the caller must recheck and surface InsufficientStock or
// ConcurrentStockModification.
func (p *ProductRepo) DecrementStockTx(ctx context.Context, tx *sql.Tx, productID uint64, qty uint64) (rowsAffected int64, err error) {
	const q = `UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`
	res, err := tx.ExecContext(ctx, q, qty, productID, qty)
	if err != nil {
		return 0, fmt.Errorf("durable: decrement stock for product %d: %w", productID, err)
	}
	return res.RowsAffected()
}
