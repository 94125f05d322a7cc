package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
)

// writeError translates a coreerr value into an HTTP response, the thin
// seam spec.md §6 calls for between the core and the wire: classifyError
// is the only place a coreerr value becomes a status code, and nothing
// below this package knows about HTTP.
func writeError(c echo.Context, err error) error {
	status, body := classifyError(err)
	return c.JSON(status, body)
}

func classifyError(err error) (int, echo.Map) {
	var (
		insufficient  *coreerr.InsufficientStock
		holdExpired   *coreerr.HoldExpired
		notExpired    *coreerr.HoldNotExpired
		holdInvalid   *coreerr.HoldInvalid
		createFailed  *coreerr.CreateOrderFailed
		webhookConfl  *coreerr.WebhookConflict
	)

	switch {
	case errors.Is(err, coreerr.ErrHoldNotFound), errors.Is(err, coreerr.ErrProductNotFound), errors.Is(err, coreerr.ErrOrderNotFound):
		return http.StatusNotFound, echo.Map{"error": err.Error()}

	case errors.Is(err, coreerr.ErrHoldAlreadyUsed), errors.Is(err, coreerr.ErrInvalidHold), errors.Is(err, coreerr.ErrInvalidRelease):
		return http.StatusConflict, echo.Map{"error": err.Error()}

	case errors.As(err, &insufficient):
		return http.StatusBadRequest, echo.Map{
			"error":     "insufficient_stock",
			"available": insufficient.Available,
			"reserved":  insufficient.Reserved,
			"version":   insufficient.Version,
		}

	case errors.As(err, &holdExpired):
		return http.StatusGone, echo.Map{
			"error":      "hold_expired",
			"hold_id":    holdExpired.HoldID,
			"expires_at": holdExpired.ExpiresAt,
		}

	case errors.As(err, &notExpired):
		return http.StatusConflict, echo.Map{
			"error":             "hold_not_expired",
			"hold_id":           notExpired.HoldID,
			"seconds_remaining": notExpired.SecondsRemaining,
		}

	case errors.As(err, &holdInvalid):
		return http.StatusConflict, echo.Map{"error": "hold_invalid", "hold_id": holdInvalid.HoldID, "reason": holdInvalid.Reason}

	case errors.As(err, &createFailed):
		return http.StatusConflict, echo.Map{"error": "create_order_failed", "hold_id": createFailed.HoldID}

	case errors.As(err, &webhookConfl):
		return http.StatusConflict, echo.Map{"error": "webhook_conflict", "order_id": webhookConfl.OrderID, "reason": webhookConfl.Reason}

	case errors.Is(err, coreerr.ErrConcurrentModification), errors.Is(err, coreerr.ErrConcurrentStockModification), errors.Is(err, coreerr.ErrConflict):
		return http.StatusConflict, echo.Map{"error": err.Error()}

	case errors.Is(err, coreerr.ErrFastStoreUnavailable):
		return http.StatusServiceUnavailable, echo.Map{"error": err.Error()}

	default:
		return http.StatusInternalServerError, echo.Map{"error": "internal error"}
	}
}
