package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

// WebhookOutcome is a human-readable classification of how a webhook
// delivery was handled, returned alongside the order so
// internal/httpapi can pick a status code without re-deriving it.
type WebhookOutcome string

const (
	OutcomeAlreadyFinalized WebhookOutcome = "already_finalized"
	OutcomeDuplicate        WebhookOutcome = "duplicate"
	OutcomePaid             WebhookOutcome = "paid"
	OutcomeCancelled        WebhookOutcome = "cancelled"
	OutcomeHoldExpired      WebhookOutcome = "hold_expired"
)

// ApplyWebhook implements spec.md §4.4.2: the whole protocol runs
// inside a durable transaction, using the teacher's
// ConfirmSeats BeginTx/row-lock/commit shape (see coordinator.go). The
// deadlock-retry loop around applyWebhookTx has no teacher analogue —
// it is novel code written directly against spec.md §5's retry
// requirement.
func (c *Coordinator) ApplyWebhook(ctx context.Context, idemKey string, orderID uint64, status model.WebhookStatus) (model.Order, WebhookOutcome, error) {
	var (
		ord     model.Order
		outcome WebhookOutcome
		err     error
	)
	for attempt := 1; attempt <= txnRetries; attempt++ {
		ord, outcome, err = c.applyWebhookTx(ctx, idemKey, orderID, status)
		if err == nil || !isDeadlock(err) || attempt == txnRetries {
			return ord, outcome, err
		}
		time.Sleep(time.Duration(attempt) * txnBackoff)
	}
	return ord, outcome, err
}

func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	// 1213 = ER_LOCK_DEADLOCK, 1205 = ER_LOCK_WAIT_TIMEOUT.
	return myErr.Number == 1213 || myErr.Number == 1205
}

func (c *Coordinator) applyWebhookTx(ctx context.Context, idemKey string, orderID uint64, status model.WebhookStatus) (model.Order, WebhookOutcome, error) {
	tx, err := c.orders.DB().BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, "", err
	}
	defer func() { _ = tx.Rollback() }()

	ord, err := c.orders.LockForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return model.Order{}, "", err
	}

	statusStr := "failed"
	if status == model.WebhookSuccess {
		statusStr = "paid"
	}

	if ord.State.Finalized() {
		_ = upsertIdempotency(ctx, tx, c, idemKey, orderID, statusStr)
		if err := tx.Commit(); err != nil {
			return model.Order{}, "", err
		}
		return ord, OutcomeAlreadyFinalized, nil
	}

	_, found, err := c.idemp.LookupForUpdateTx(ctx, tx, idemKey)
	if err != nil {
		return model.Order{}, "", err
	}
	if found {
		if err := tx.Commit(); err != nil {
			return model.Order{}, "", err
		}
		return ord, OutcomeDuplicate, nil
	}
	if err := c.idemp.InsertTx(ctx, tx, idemKey, orderID, statusStr); err != nil {
		return model.Order{}, "", err
	}

	var (
		outcome  WebhookOutcome
		dispatch error
	)
	if status == model.WebhookSuccess {
		ord, outcome, dispatch = c.dispatchSuccess(ctx, tx, ord)
	} else {
		ord, outcome, dispatch = c.dispatchFailure(ctx, tx, ord)
	}
	if dispatch != nil {
		return model.Order{}, "", dispatch
	}

	if err := tx.Commit(); err != nil {
		return model.Order{}, "", err
	}

	if outcome == OutcomePaid || outcome == OutcomeCancelled {
		c.publish(ctx, ord)
	}
	return ord, outcome, nil
}

func upsertIdempotency(ctx context.Context, tx *sql.Tx, c *Coordinator, key string, orderID uint64, statusStr string) error {
	if _, found, err := c.idemp.LookupForUpdateTx(ctx, tx, key); err == nil && !found {
		return c.idemp.InsertTx(ctx, tx, key, orderID, statusStr)
	}
	return nil
}

// dispatchSuccess implements the success path of spec.md §4.4.2 step 4.
func (c *Coordinator) dispatchSuccess(ctx context.Context, tx *sql.Tx, ord model.Order) (model.Order, WebhookOutcome, error) {
	h, ok, err := c.holdsReg.Get(ctx, ord.HoldID)
	if err != nil {
		return ord, "", err
	}
	if !ok {
		if err := c.orders.SetStateTx(ctx, tx, ord.ID, model.OrderCancelled); err != nil {
			return ord, "", err
		}
		ord.State = model.OrderCancelled
		return ord, OutcomeHoldExpired, nil
	}

	switch h.Status {
	case model.HoldUsed:
		if err := c.orders.SetStateTx(ctx, tx, ord.ID, model.OrderPaid); err != nil {
			return ord, "", err
		}
		ord.State = model.OrderPaid
		return ord, OutcomePaid, nil
	case model.HoldPaymentFailed:
		return ord, "", &coreerr.WebhookConflict{OrderID: ord.ID, Reason: "hold already marked payment_failed"}
	case model.HoldActive:
		rows, err := c.products.DecrementStockTx(ctx, tx, ord.ProductID, ord.Qty)
		if err != nil {
			return ord, "", err
		}
		if rows == 0 {
			prod, gErr := c.products.Get(ctx, ord.ProductID)
			if gErr != nil {
				return ord, "", gErr
			}
			if prod.BaseStock < ord.Qty {
				return ord, "", &coreerr.InsufficientStock{ProductID: ord.ProductID, Available: int64(prod.BaseStock)}
			}
			return ord, "", coreerr.ErrConcurrentStockModification
		}
		if err := c.orders.SetStateTx(ctx, tx, ord.ID, model.OrderPaid); err != nil {
			return ord, "", err
		}
		if _, err := c.holdsReg.CommitActive(ctx, ord.ProductID, ord.HoldID); err != nil {
			return ord, "", err
		}
		ord.State = model.OrderPaid
		return ord, OutcomePaid, nil
	default:
		return ord, "", &coreerr.HoldInvalid{HoldID: ord.HoldID, Reason: "unexpected status " + string(h.Status)}
	}
}

// dispatchFailure implements the failure path of spec.md §4.4.2 step 4.
func (c *Coordinator) dispatchFailure(ctx context.Context, tx *sql.Tx, ord model.Order) (model.Order, WebhookOutcome, error) {
	h, ok, err := c.holdsReg.Get(ctx, ord.HoldID)
	if err != nil {
		return ord, "", err
	}
	if !ok {
		if err := c.orders.SetStateTx(ctx, tx, ord.ID, model.OrderCancelled); err != nil {
			return ord, "", err
		}
		ord.State = model.OrderCancelled
		return ord, OutcomeHoldExpired, nil
	}

	switch h.Status {
	case model.HoldUsed:
		return ord, "", &coreerr.WebhookConflict{OrderID: ord.ID, Reason: "hold already used"}
	case model.HoldActive:
		if err := c.orders.SetStateTx(ctx, tx, ord.ID, model.OrderCancelled); err != nil {
			return ord, "", err
		}
		if _, err := c.holdsReg.RefundActive(ctx, ord.ProductID, ord.HoldID); err != nil {
			return ord, "", err
		}
		ord.State = model.OrderCancelled
		return ord, OutcomeCancelled, nil
	default:
		return ord, "", &coreerr.HoldInvalid{HoldID: ord.HoldID, Reason: "unexpected status " + string(h.Status)}
	}
}

func (c *Coordinator) publish(ctx context.Context, ord model.Order) {
	if c.publisher == nil {
		return
	}
	_ = c.publisher.PublishOrderFinalized(ctx, OrderFinalizedEvent{
		OrderID:     ord.ID,
		HoldID:      ord.HoldID,
		ProductID:   ord.ProductID,
		Qty:         ord.Qty,
		State:       string(ord.State),
		FinalizedAt: time.Now().UTC(),
	})
}
