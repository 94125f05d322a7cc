package httpapi

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the six spec.md §6 endpoints onto e, mirroring
// the teacher's internal/router.RegisterRoutes grouping style.
// holdLimiter, if non-nil, is applied only to the hold-creation route —
// the one endpoint a flash sale actually needs to throttle.
func RegisterRoutes(e *echo.Echo, h *Handler, holdLimiter echo.MiddlewareFunc) {
	e.GET("/products/:id", h.GetProduct)

	holds := e.Group("/holds")
	if holdLimiter != nil {
		holds.POST("", h.CreateHold, holdLimiter)
	} else {
		holds.POST("", h.CreateHold)
	}
	holds.GET("/:id", h.GetHold)
	holds.DELETE("/:id", h.ReleaseHold)

	e.POST("/orders", h.CreateOrder)
	e.GET("/orders/:id", h.GetOrder)

	e.POST("/payments/webhook", h.ApplyWebhook)
}
