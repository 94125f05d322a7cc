// Package httpapi wires the core components (stock, holds, orders) onto
// Echo v4 HTTP handlers implementing spec.md §6. Grounded on the
// teacher's internal/handler/customer_reservation.go: handler structs
// hold their collaborators as fields, a New*Handler constructor panics
// on a nil required dependency, and JSON responses are built with
// echo.Map rather than dedicated response structs.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/durable"
	"github.com/flashsale/checkout-coordinator/internal/holds"
	"github.com/flashsale/checkout-coordinator/internal/model"
	"github.com/flashsale/checkout-coordinator/internal/orders"
	"github.com/flashsale/checkout-coordinator/internal/stock"
)

// Handler composes the core components the six endpoints of spec.md §6
// need. Every field is required; New panics rather than constructing a
// handler that would nil-pointer on first request, the same contract
// the teacher's constructors enforce.
type Handler struct {
	Ledger      *stock.Ledger
	Holds       *holds.Registry
	Orders      *orders.Coordinator
	Products    *durable.ProductRepo
	OrdersRepo  *durable.OrderRepo
	MaxHoldQty  uint64
}

// New builds a Handler, panicking if a required collaborator is nil.
func New(ledger *stock.Ledger, holdsReg *holds.Registry, coordinator *orders.Coordinator, products *durable.ProductRepo, ordersRepo *durable.OrderRepo, maxHoldQty uint64) *Handler {
	if ledger == nil || holdsReg == nil || coordinator == nil || products == nil || ordersRepo == nil {
		panic("httpapi: New called with a nil required dependency")
	}
	return &Handler{Ledger: ledger, Holds: holdsReg, Orders: coordinator, Products: products, OrdersRepo: ordersRepo, MaxHoldQty: maxHoldQty}
}

func parseID(c echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

// GetProduct implements GET /products/:id: the durable reference row
// plus a live read of the fast-store counters, spec.md §6.
func (h *Handler) GetProduct(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}
	ctx := c.Request().Context()

	prod, err := h.Products.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	snap, err := h.Ledger.Snapshot(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	activeHolds, err := h.Ledger.ActiveHolds(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":           prod.ID,
		"name":         prod.Name,
		"price_cents":  prod.PriceCents,
		"base_stock":   prod.BaseStock,
		"available":    snap.Available,
		"reserved":     snap.Reserved,
		"version":      snap.Version,
		"active_holds": activeHolds,
	})
}

type createHoldRequest struct {
	ProductID uint64 `json:"product_id"`
	Qty       uint64 `json:"qty"`
}

// CreateHold implements POST /holds, spec.md §4.3/§6.
func (h *Handler) CreateHold(c echo.Context) error {
	var req createHoldRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.ProductID == 0 || req.Qty == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_id and qty are required"})
	}
	if h.MaxHoldQty > 0 && req.Qty > h.MaxHoldQty {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "qty exceeds the maximum per-hold quantity"})
	}

	hold, snap, err := h.Holds.Create(c.Request().Context(), req.ProductID, req.Qty)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"hold_id":    hold.ID,
		"product_id": hold.ProductID,
		"qty":        hold.Qty,
		"status":     hold.Status,
		"expires_at": hold.ExpiresAt,
		"available":  snap.Available,
		"reserved":   snap.Reserved,
		"version":    snap.Version,
	})
}

// GetHold implements GET /holds/:id.
func (h *Handler) GetHold(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "hold id is required"})
	}
	hold, ok, err := h.Holds.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return writeError(c, coreerr.ErrHoldNotFound)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"hold_id":    hold.ID,
		"product_id": hold.ProductID,
		"qty":        hold.Qty,
		"status":     hold.Status,
		"created_at": hold.CreatedAt,
		"expires_at": hold.ExpiresAt,
		"version":    hold.Version,
	})
}

// ReleaseHold implements DELETE /holds/:id, spec.md §4.3 Release.
func (h *Handler) ReleaseHold(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "hold id is required"})
	}
	ctx := c.Request().Context()

	hold, ok, err := h.Holds.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return writeError(c, coreerr.ErrHoldNotFound)
	}

	qty, err := h.Holds.Release(ctx, hold.ProductID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"hold_id": id, "released_qty": qty})
}

type createOrderRequest struct {
	HoldID string `json:"hold_id"`
}

// CreateOrder implements POST /orders, spec.md §4.4.1.
func (h *Handler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.HoldID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "hold_id is required"})
	}

	ord, err := h.Orders.CreateFromHold(c.Request().Context(), req.HoldID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"order_id":   ord.ID,
		"hold_id":    ord.HoldID,
		"product_id": ord.ProductID,
		"qty":        ord.Qty,
		"state":      ord.State,
		"created_at": ord.CreatedAt,
	})
}

// GetOrder implements the supplemented GET /orders/:id read model
// (SPEC_FULL.md), mirroring the teacher's GetReservation handler.
func (h *Handler) GetOrder(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	ord, err := h.OrdersRepo.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order_id":   ord.ID,
		"hold_id":    ord.HoldID,
		"product_id": ord.ProductID,
		"qty":        ord.Qty,
		"state":      ord.State,
		"created_at": ord.CreatedAt,
		"updated_at": ord.UpdatedAt,
	})
}

type webhookRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	OrderID        uint64 `json:"order_id"`
	Status         string `json:"status"`
}

// ApplyWebhook implements POST /payments/webhook, spec.md §4.4.2.
func (h *Handler) ApplyWebhook(c echo.Context) error {
	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.IdempotencyKey == "" || req.OrderID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "idempotency_key and order_id are required"})
	}

	var status model.WebhookStatus
	switch req.Status {
	case string(model.WebhookSuccess):
		status = model.WebhookSuccess
	case string(model.WebhookFailure):
		status = model.WebhookFailure
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be success or failure"})
	}

	ord, outcome, err := h.Orders.ApplyWebhook(c.Request().Context(), req.IdempotencyKey, req.OrderID, status)
	if err != nil {
		return writeError(c, err)
	}
	code := http.StatusOK
	if outcome == orders.OutcomeHoldExpired {
		code = http.StatusGone
	}
	return c.JSON(code, echo.Map{
		"order_id": ord.ID,
		"state":    ord.State,
		"outcome":  outcome,
	})
}
