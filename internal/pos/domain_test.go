package pos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRefunded, false},
		{StatusCompleted, StatusCancelled, true},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusPending, true},
		{StatusCancelled, StatusCompleted, false},
		{StatusCancelled, StatusPending, false},
		{StatusRefunded, StatusCancelled, false},
		{StatusRefunded, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTotals(t *testing.T) {
	base := Sale{
		Subtotal:     100,
		DiscountType: DiscountNone,
		Total:        100,
		Items: []SaleItem{
			{Quantity: 10, UnitPrice: 6, TotalPrice: 60},
			{Quantity: 4, UnitPrice: 10, TotalPrice: 40},
		},
	}
	assert.NoError(t, base.ValidateTotals())

	t.Run("tolerates sub-cent rounding", func(t *testing.T) {
		s := base
		s.Total = 100.004
		assert.NoError(t, s.ValidateTotals())
	})

	t.Run("rejects mismatched line total", func(t *testing.T) {
		s := base
		s.Items = append([]SaleItem(nil), base.Items...)
		s.Items[0].TotalPrice = 70
		assert.ErrorIs(t, s.ValidateTotals(), ErrValidation)
	})

	t.Run("rejects mismatched grand total", func(t *testing.T) {
		s := base
		s.Total = 95
		assert.ErrorIs(t, s.ValidateTotals(), ErrValidation)
	})

	t.Run("percent discount must add up", func(t *testing.T) {
		s := base
		s.DiscountType = DiscountPercent
		s.DiscountPct = 25
		s.Total = 75
		assert.NoError(t, s.ValidateTotals())

		s.Total = 80
		assert.ErrorIs(t, s.ValidateTotals(), ErrValidation)
	})
}
