// Package model holds the plain data types shared across the checkout
// coordinator: products, stock snapshots, holds, orders and idempotency
// records. Types here carry no behavior beyond small, obviously-correct
// helpers; the state machines that mutate them live in their owning
// component package (internal/stock, internal/holds, internal/orders).
package model

// Product is the external, read-only reference record for a sellable
// item. The core never mutates BaseStock except by decrementing it on a
// confirmed webhook payment (see internal/orders).
type Product struct {
	ID         uint64
	Name       string
	PriceCents uint32
	BaseStock  uint64
}

// StockSnapshot is a point-in-time read of a product's counters.
// Available + Reserved <= BaseStock always; equality holds when no
// payment has ever committed units out of the product.
type StockSnapshot struct {
	ProductID uint64
	Available int64
	Reserved  int64
	Version   uint64
}
