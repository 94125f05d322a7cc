package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderState_Finalized(t *testing.T) {
	assert.False(t, OrderPendingPayment.Finalized())
	assert.True(t, OrderPaid.Finalized())
	assert.True(t, OrderCancelled.Finalized())
}

// The source seeder's four-value pending/processing/completed/cancelled
// enum is rejected at the type level: there is no constructor that
// produces an OrderState other than the three canonical constants, so a
// rogue value can only arrive by an explicit, visible string
// conversion, never by a constructor this package exports.
func TestOrderState_CanonicalValuesOnly(t *testing.T) {
	canonical := []OrderState{OrderPendingPayment, OrderPaid, OrderCancelled}
	for _, s := range canonical {
		assert.NotEmpty(t, string(s))
	}
}
