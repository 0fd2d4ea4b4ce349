package batch

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates batch lifecycle states.
type Status string

const (
	// StatusActive marks a batch available for allocation.
	StatusActive Status = "active"
	// StatusQuarantined marks a batch withheld by manual intervention.
	StatusQuarantined Status = "quarantined"
	// StatusExpired marks a batch past its expiry date with stock remaining.
	StatusExpired Status = "expired"
	// StatusDepleted marks a batch whose remaining quantity reached zero.
	StatusDepleted Status = "depleted"
)

// Batch represents one received lot of a product. Batches are never deleted;
// history is preserved for audit.
type Batch struct {
	ID           int64      `json:"id"`
	ProductID    int64      `json:"product_id"`
	BatchNumber  string     `json:"batch_number"`
	ReceivedQty  int64      `json:"received_qty"`
	RemainingQty int64      `json:"remaining_qty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	UnitCost     float64    `json:"unit_cost"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Eligible reports whether the batch can be drawn from by the allocator.
func (b Batch) Eligible() bool {
	return b.Status == StatusActive && b.RemainingQty > 0
}

// ExpiredAt reports whether the batch is past expiry at the given time.
// Batches without an expiry date never expire.
func (b Batch) ExpiredAt(now time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(now)
}

// Allocation is one draw of an allocation plan.
type Allocation struct {
	BatchID  int64 `json:"batch_id"`
	Quantity int64 `json:"quantity"`
}

// Plan is an ordered list of draws satisfying a single deduction request.
// Plans are transient: computed by Allocate and applied within the same
// orchestrator operation.
type Plan []Allocation

// Total returns the summed quantity across all draws.
func (p Plan) Total() int64 {
	var total int64
	for _, a := range p {
		total += a.Quantity
	}
	return total
}

var (
	// ErrInsufficientStock is matched by InsufficientStockError via errors.Is.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNoBatchesTracked signals a product with no batch rows at all, so the
	// caller must fall back to the legacy flat counter.
	ErrNoBatchesTracked = errors.New("no batches tracked for product")
	// ErrStockConflict signals a concurrent modification detected when a plan
	// was applied. It is never retried automatically.
	ErrStockConflict = errors.New("stock conflict: batch modified concurrently")
	// ErrBatchNotFound indicates a missing batch row.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchNotActive rejects maintenance on a batch outside active status.
	ErrBatchNotActive = errors.New("batch is not active")
	// ErrActorRequired rejects stock mutations without an acting user.
	ErrActorRequired = errors.New("actor id required")
	// ErrInvalidQuantity rejects non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// InsufficientStockError reports a shortfall between requested and available
// quantity for one product.
type InsufficientStockError struct {
	ProductID int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// Is lets callers match the error with errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
