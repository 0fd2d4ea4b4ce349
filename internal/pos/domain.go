package pos

import (
	"math"
	"time"
)

// Status enumerates sale lifecycle states.
type Status string

const (
	// StatusPending marks a sale created but not yet deducted from stock.
	StatusPending Status = "pending"
	// StatusCompleted marks a finalised sale. Only completed sales count
	// toward revenue.
	StatusCompleted Status = "completed"
	// StatusCancelled marks an undone or abandoned sale.
	StatusCancelled Status = "cancelled"
	// StatusRefunded marks an undone sale flagged as a customer refund. It is
	// treated like cancelled for revenue purposes.
	StatusRefunded Status = "refunded"
)

// Discount types applied against the sale subtotal.
const (
	DiscountNone    = "none"
	DiscountPercent = "percent"
	DiscountAmount  = "amount"
)

// Unit types a line item can be sold in. Sheet and box are presentation
// multipliers over pieces; stock is always tracked in pieces.
const (
	UnitPiece = "piece"
	UnitSheet = "sheet"
	UnitBox   = "box"
)

// totalEpsilon is the rounding tolerance for money arithmetic checks.
const totalEpsilon = 0.01

// Sale is the aggregate root: header plus line items.
type Sale struct {
	ID             int64      `json:"id"`
	Status         Status     `json:"status"`
	Subtotal       float64    `json:"subtotal"`
	DiscountType   string     `json:"discount_type"`
	DiscountPct    float64    `json:"discount_pct"`
	DiscountAmount float64    `json:"discount_amount"`
	Total          float64    `json:"total"`
	OriginalTotal  *float64   `json:"original_total,omitempty"`
	PaymentMethod  string     `json:"payment_method"`
	CustomerRef    *string    `json:"customer_ref,omitempty"`
	Edited         bool       `json:"edited"`
	EditReason     string     `json:"edit_reason,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	EditedBy       string     `json:"edited_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Items          []SaleItem `json:"items,omitempty"`
}

// SaleItem is one line of a sale. Quantity is always in pieces; UnitType
// records how the line was rung up. BatchID and ExpirySnapshot are filled at
// completion when a single batch covered the whole line, for receipt display.
type SaleItem struct {
	ID             int64      `json:"id"`
	SaleID         int64      `json:"sale_id"`
	ProductID      int64      `json:"product_id"`
	Quantity       int64      `json:"quantity"`
	UnitType       string     `json:"unit_type"`
	UnitPrice      float64    `json:"unit_price"`
	TotalPrice     float64    `json:"total_price"`
	BatchID        *int64     `json:"batch_id,omitempty"`
	ExpirySnapshot *time.Time `json:"expiry_snapshot,omitempty"`
}

// ItemAllocation is the persisted record of one batch draw made when a sale
// was completed. It is what makes the undo reversible: restoration replays
// these rows in the opposite direction.
type ItemAllocation struct {
	ID         int64 `json:"id"`
	SaleID     int64 `json:"sale_id"`
	SaleItemID int64 `json:"sale_item_id"`
	ProductID  int64 `json:"product_id"`
	BatchID    int64 `json:"batch_id"`
	Quantity   int64 `json:"quantity"`
}

// UndoResult summarises a sale reversal. Missing products or batches are
// reported, not fatal: the sale must always leave revenue even when some
// inventory bookkeeping cannot be reversed.
type UndoResult struct {
	SaleID           int64   `json:"sale_id"`
	Status           Status  `json:"status"`
	ProductsRestored int     `json:"products_restored"`
	ProductsNotFound int     `json:"products_not_found"`
	MissingBatches   []int64 `json:"missing_batches,omitempty"`
}

// CanTransition reports whether the lifecycle allows moving between the two
// states. Cancelled and refunded are terminal; completed can be undone or
// reopened for an edit.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusCancelled
	case StatusCompleted:
		return to == StatusCancelled || to == StatusRefunded || to == StatusPending
	default:
		return false
	}
}

// ComputeDiscount resolves the discount amount for a subtotal.
func ComputeDiscount(discountType string, pct, amount, subtotal float64) float64 {
	switch discountType {
	case DiscountPercent:
		return subtotal * pct / 100
	case DiscountAmount:
		return amount
	default:
		return 0
	}
}

// ValidateTotals recomputes the sale arithmetic from its items and verifies
// the stored figures match within the rounding tolerance. Totals are never
// trusted from the caller.
func (s Sale) ValidateTotals() error {
	var subtotal float64
	for _, item := range s.Items {
		if item.Quantity <= 0 {
			return &ValidationError{Field: "items", Detail: "quantity must be positive"}
		}
		expected := float64(item.Quantity) * item.UnitPrice
		if math.Abs(expected-item.TotalPrice) > totalEpsilon {
			return &ValidationError{Field: "items", Detail: "line total does not match quantity times unit price"}
		}
		subtotal += item.TotalPrice
	}
	if math.Abs(subtotal-s.Subtotal) > totalEpsilon {
		return &ValidationError{Field: "subtotal", Detail: "subtotal does not match sum of line totals"}
	}
	discount := ComputeDiscount(s.DiscountType, s.DiscountPct, s.DiscountAmount, subtotal)
	if discount < 0 || discount > subtotal+totalEpsilon {
		return &ValidationError{Field: "discount", Detail: "discount exceeds subtotal"}
	}
	if math.Abs(subtotal-discount-s.Total) > totalEpsilon {
		return &ValidationError{Field: "total", Detail: "total does not match subtotal minus discount"}
	}
	return nil
}
