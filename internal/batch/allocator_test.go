package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func activeBatch(id int64, remaining int64, expiry *time.Time, createdAt time.Time) Batch {
	return Batch{
		ID:           id,
		ProductID:    1,
		RemainingQty: remaining,
		ExpiryDate:   expiry,
		Status:       StatusActive,
		CreatedAt:    createdAt,
	}
}

func TestAllocate(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("draws soonest expiry first and spills into the next", func(t *testing.T) {
		batches := []Batch{
			activeBatch(3, 50, date("2027-06-01"), created),
			activeBatch(1, 10, date("2026-09-01"), created),
			activeBatch(2, 20, date("2026-12-01"), created),
		}
		plan, err := Allocate(1, 25, batches)
		require.NoError(t, err)
		require.Equal(t, Plan{{BatchID: 1, Quantity: 10}, {BatchID: 2, Quantity: 15}}, plan)
		require.Equal(t, int64(25), plan.Total())
	})

	t.Run("exact depletion drains every batch", func(t *testing.T) {
		batches := []Batch{
			activeBatch(1, 10, date("2026-09-01"), created),
			activeBatch(2, 20, date("2026-12-01"), created),
		}
		plan, err := Allocate(1, 30, batches)
		require.NoError(t, err)
		require.Equal(t, Plan{{BatchID: 1, Quantity: 10}, {BatchID: 2, Quantity: 20}}, plan)
	})

	t.Run("one unit over available fails with the shortfall", func(t *testing.T) {
		batches := []Batch{
			activeBatch(1, 10, date("2026-09-01"), created),
			activeBatch(2, 20, date("2026-12-01"), created),
		}
		plan, err := Allocate(1, 31, batches)
		require.Nil(t, plan)
		require.ErrorIs(t, err, ErrInsufficientStock)

		var stockErr *InsufficientStockError
		require.True(t, errors.As(err, &stockErr))
		require.Equal(t, int64(30), stockErr.Available)
		require.Equal(t, int64(31), stockErr.Requested)
		require.Equal(t, int64(1), stockErr.ProductID)
	})

	t.Run("allocation is all or nothing on shortfall", func(t *testing.T) {
		batches := []Batch{activeBatch(1, 5, date("2026-09-01"), created)}
		plan, err := Allocate(1, 6, batches)
		require.Nil(t, plan, "no partial plan on shortfall")
		require.ErrorIs(t, err, ErrInsufficientStock)
	})

	t.Run("batches without expiry are drawn last", func(t *testing.T) {
		batches := []Batch{
			activeBatch(1, 10, nil, created),
			activeBatch(2, 10, date("2027-01-01"), created),
		}
		plan, err := Allocate(1, 15, batches)
		require.NoError(t, err)
		require.Equal(t, Plan{{BatchID: 2, Quantity: 10}, {BatchID: 1, Quantity: 5}}, plan)
	})

	t.Run("equal expiry ties break on earliest creation", func(t *testing.T) {
		expiry := date("2026-12-01")
		batches := []Batch{
			activeBatch(1, 10, expiry, created.Add(48*time.Hour)),
			activeBatch(2, 10, expiry, created),
		}
		plan, err := Allocate(1, 5, batches)
		require.NoError(t, err)
		require.Equal(t, Plan{{BatchID: 2, Quantity: 5}}, plan)
	})

	t.Run("equal expiry and creation ties break on lowest id", func(t *testing.T) {
		expiry := date("2026-12-01")
		batches := []Batch{
			activeBatch(7, 10, expiry, created),
			activeBatch(3, 10, expiry, created),
		}
		plan, err := Allocate(1, 5, batches)
		require.NoError(t, err)
		require.Equal(t, int64(3), plan[0].BatchID)
	})

	t.Run("quarantined and expired batches are not drawn", func(t *testing.T) {
		quarantined := activeBatch(1, 100, date("2026-09-01"), created)
		quarantined.Status = StatusQuarantined
		expired := activeBatch(2, 100, date("2025-01-01"), created)
		expired.Status = StatusExpired
		batches := []Batch{quarantined, expired, activeBatch(3, 10, date("2026-12-01"), created)}

		plan, err := Allocate(1, 10, batches)
		require.NoError(t, err)
		require.Equal(t, Plan{{BatchID: 3, Quantity: 10}}, plan)

		_, err = Allocate(1, 11, batches)
		require.ErrorIs(t, err, ErrInsufficientStock)
	})

	t.Run("product with no batch rows yields ErrNoBatchesTracked", func(t *testing.T) {
		_, err := Allocate(1, 5, nil)
		require.ErrorIs(t, err, ErrNoBatchesTracked)
	})

	t.Run("non-positive request is rejected", func(t *testing.T) {
		batches := []Batch{activeBatch(1, 10, date("2026-09-01"), created)}
		for _, qty := range []int64{0, -3} {
			_, err := Allocate(1, qty, batches)
			require.ErrorIs(t, err, ErrInsufficientStock)
		}
	})

	t.Run("input order does not matter", func(t *testing.T) {
		a := []Batch{
			activeBatch(1, 10, date("2026-09-01"), created),
			activeBatch(2, 20, date("2026-12-01"), created),
		}
		b := []Batch{a[1], a[0]}
		planA, err := Allocate(1, 15, a)
		require.NoError(t, err)
		planB, err := Allocate(1, 15, b)
		require.NoError(t, err)
		require.Equal(t, planA, planB)
	})
}
