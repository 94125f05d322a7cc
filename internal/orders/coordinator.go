// Package orders implements the Order & Payment Coordinator (spec.md
// §4.4): creating an order from a still-valid hold, and applying
// payment-processor webhooks idempotently. Grounded on the teacher's
// internal/handler/customer_reservation.go:ConfirmSeats — the same
// BeginTx/deferred-rollback/re-validate-under-lock/commit shape the
// teacher uses to turn a held seat into a confirmed reservation,
// generalized into a struct composing a fast-store-backed collaborator
// and *sql.DB-backed repositories instead of living inline in a
// handler.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/durable"
	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/holds"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

const (
	createRetries = 3
	createBackoff = 100 * time.Millisecond
	txnRetries    = 3
	txnBackoff    = 100 * time.Millisecond
)

// EventPublisher dispatches a domain event after a webhook finalizes an
// order, mirroring the teacher's publish-after-commit call to
// queue_publisher.PublishBookingConfirmed. The coordinator calls it
// synchronously after the webhook transaction commits and ignores its
// error, so the webhook response waits for the call to return;
// internal/events.Publisher dials the broker on every call.
type EventPublisher interface {
	PublishOrderFinalized(ctx context.Context, evt OrderFinalizedEvent) error
}

// OrderFinalizedEvent is published once an order reaches a terminal
// state, the domain-stack analogue of the teacher's
// BookingConfirmedEvent.
type OrderFinalizedEvent struct {
	OrderID     uint64    `json:"order_id"`
	HoldID      string    `json:"hold_id"`
	ProductID   uint64    `json:"product_id"`
	Qty         uint64    `json:"qty"`
	State       string    `json:"state"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Coordinator is the Order & Payment Coordinator component (C4).
type Coordinator struct {
	fs        *faststore.Adapter
	holdsReg  *holds.Registry
	orders    *durable.OrderRepo
	products  *durable.ProductRepo
	idemp     *durable.IdempotencyRepo
	publisher EventPublisher
}

// New builds a Coordinator. publisher may be nil, in which case
// finalized orders are simply not announced on the broker (matching
// the teacher's own nil-checked publish call sites).
func New(fs *faststore.Adapter, holdsReg *holds.Registry, orders *durable.OrderRepo, products *durable.ProductRepo, idemp *durable.IdempotencyRepo, publisher EventPublisher) *Coordinator {
	return &Coordinator{fs: fs, holdsReg: holdsReg, orders: orders, products: products, idemp: idemp, publisher: publisher}
}

// CreateFromHold implements spec.md §4.4.1: validate the hold is still
// usable, stamp it as recently observed, and durably insert a
// pending_payment order row. It deliberately does not mark the hold as
// used — that happens on webhook success (see ApplyWebhook) so an
// unanswered webhook doesn't strand inventory.
func (c *Coordinator) CreateFromHold(ctx context.Context, holdID string) (model.Order, error) {
	if err := c.fs.Ping(ctx); err != nil {
		return model.Order{}, err
	}

	h, ok, err := c.holdsReg.Get(ctx, holdID)
	if err != nil {
		return model.Order{}, err
	}
	if !ok {
		return model.Order{}, coreerr.ErrHoldNotFound
	}

	now := time.Now().UTC()
	switch h.Status {
	case model.HoldUsed:
		return model.Order{}, coreerr.ErrHoldAlreadyUsed
	case model.HoldExpiredStatus:
		return model.Order{}, &coreerr.HoldExpired{HoldID: holdID, ExpiresAt: h.ExpiresAtEpoch}
	case model.HoldPaymentFailed:
		return model.Order{}, &coreerr.HoldInvalid{HoldID: holdID, Reason: "prior payment failure"}
	case model.HoldActive:
		if h.Expired(now) {
			_, _ = c.holdsReg.Expire(ctx, h.ProductID, holdID, now)
			return model.Order{}, &coreerr.HoldExpired{HoldID: holdID, ExpiresAt: h.ExpiresAtEpoch}
		}
	default:
		return model.Order{}, &coreerr.HoldInvalid{HoldID: holdID, Reason: "unknown status"}
	}

	var lastErr error
	for attempt := 1; attempt <= createRetries; attempt++ {
		err := c.holdsReg.TouchIfActive(ctx, holdID, now)
		if err == nil {
			return c.insertOrder(ctx, holdID, h.ProductID, h.Qty)
		}
		lastErr = err
		if errors.Is(err, coreerr.ErrConflict) {
			time.Sleep(time.Duration(attempt) * createBackoff)
			continue
		}
		if errors.Is(err, coreerr.ErrHoldNotFound) || errors.Is(err, coreerr.ErrInvalidHold) {
			// the hold was terminalized by a concurrent actor between our
			// initial read and this touch; re-read to classify precisely.
			return c.CreateFromHold(ctx, holdID)
		}
		return model.Order{}, &coreerr.CreateOrderFailed{HoldID: holdID, Cause: err}
	}
	return model.Order{}, &coreerr.CreateOrderFailed{HoldID: holdID, Cause: errors.Join(coreerr.ErrConcurrentModification, lastErr)}
}

func (c *Coordinator) insertOrder(ctx context.Context, holdID string, productID, qty uint64) (model.Order, error) {
	tx, err := c.orders.DB().BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ord, err := c.orders.CreateTx(ctx, tx, holdID, productID, qty)
	if err != nil {
		return model.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Order{}, err
	}
	return ord, nil
}
