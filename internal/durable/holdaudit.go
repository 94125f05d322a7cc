package durable

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flashsale/checkout-coordinator/internal/model"
)

// HoldAuditRepo implements holds.AuditWriter against the best-effort
// hold_audit table: a durable shadow of the fast store's hold hashes,
// existing solely so internal/stock's pessimistic fallback can recompute
// reserved stock without the fast store. It is never read on the happy
// path.
type HoldAuditRepo struct {
	db *sql.DB
}

func NewHoldAuditRepo(db *sql.DB) *HoldAuditRepo { return &HoldAuditRepo{db: db} }

func (h *HoldAuditRepo) DB() *sql.DB { return h.db }

// RecordHoldCreated writes the initial active row for a freshly created
// hold. The caller (holds.Registry.Create) discards the returned error
// without logging it — the fast store remains authoritative regardless
// of whether this write lands.
func (h *HoldAuditRepo) RecordHoldCreated(ctx context.Context, hold model.Hold) error {
	const q = `INSERT INTO hold_audit (hold_id, product_id, qty, status) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE qty = VALUES(qty), status = VALUES(status)`
	if _, err := h.db.ExecContext(ctx, q, hold.ID, hold.ProductID, hold.Qty, string(hold.Status)); err != nil {
		return fmt.Errorf("durable: record hold audit %s: %w", hold.ID, err)
	}
	return nil
}

// MarkTerminal flips a hold_audit row's status once the fast store has
// terminalized the corresponding hold, keeping
// ProductRepo.LockAndRecomputeReserved's active-status sum accurate.
func (h *HoldAuditRepo) MarkTerminal(ctx context.Context, holdID string, status model.HoldStatus) error {
	const q = `UPDATE hold_audit SET status = ? WHERE hold_id = ?`
	if _, err := h.db.ExecContext(ctx, q, string(status), holdID); err != nil {
		return fmt.Errorf("durable: mark hold audit %s terminal: %w", holdID, err)
	}
	return nil
}
