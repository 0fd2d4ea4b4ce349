package batch

import "sort"

// Allocate computes a FEFO (first-expired-first-out) plan drawing the
// requested quantity from the given batches. It has no side effects.
//
// Batches are consumed in expiry order, soonest first; batches without an
// expiry date sort last and are only drawn once every dated batch is
// exhausted. Ties break on earliest creation time, so the oldest stock moves
// first among equal expiries.
//
// Allocation is all-or-nothing: when the eligible batches cannot cover the
// request the plan is abandoned and an InsufficientStockError is returned
// with the available total. A product with no batch rows at all yields
// ErrNoBatchesTracked so callers can fall back to the legacy flat counter.
func Allocate(productID, requested int64, batches []Batch) (Plan, error) {
	if requested <= 0 {
		return nil, &InsufficientStockError{ProductID: productID, Requested: requested}
	}
	if len(batches) == 0 {
		return nil, ErrNoBatchesTracked
	}

	eligible := make([]Batch, 0, len(batches))
	var available int64
	for _, b := range batches {
		if !b.Eligible() {
			continue
		}
		eligible = append(eligible, b)
		available += b.RemainingQty
	}
	if available < requested {
		return nil, &InsufficientStockError{ProductID: productID, Available: available, Requested: requested}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ei, ej := eligible[i].ExpiryDate, eligible[j].ExpiryDate
		switch {
		case ei != nil && ej != nil && !ei.Equal(*ej):
			return ei.Before(*ej)
		case ei != nil && ej == nil:
			return true
		case ei == nil && ej != nil:
			return false
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	plan := make(Plan, 0, len(eligible))
	needed := requested
	for _, b := range eligible {
		if needed == 0 {
			break
		}
		draw := b.RemainingQty
		if draw > needed {
			draw = needed
		}
		plan = append(plan, Allocation{BatchID: b.ID, Quantity: draw})
		needed -= draw
	}
	return plan, nil
}
