package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Direction enumerates supported stock movement directions.
type Direction string

const (
	// DirectionIn represents an inbound movement (receiving, restore).
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement (sale deduction).
	DirectionOut Direction = "OUT"
	// DirectionAdjust indicates manual adjustments.
	DirectionAdjust Direction = "ADJUST"
)

// Reference types linking a movement to its causal event.
const (
	RefSale       = "sale"
	RefSaleUndo   = "sale_undo"
	RefReceiving  = "receiving"
	RefAdjustment = "adjustment"
)

// Movement is an immutable record of one quantity change to a product's
// on-hand stock. Entries are appended once per causal event and never
// mutated, so stock_on_hand can be reconstructed independently of the
// product counter.
type Movement struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	BatchID     *int64    `json:"batch_id,omitempty"`
	Direction   Direction `json:"direction"`
	Quantity    int64     `json:"quantity"`
	Reason      string    `json:"reason"`
	RefType     string    `json:"ref_type"`
	RefID       string    `json:"ref_id"`
	StockBefore int64     `json:"stock_before"`
	StockAfter  int64     `json:"stock_after"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrActorRequired is returned when a movement carries no acting user.
var ErrActorRequired = errors.New("ledger: actor id required")

// Validate checks the movement is well formed before it is appended.
func (m Movement) Validate() error {
	if m.ProductID == 0 {
		return errors.New("ledger: product id required")
	}
	if m.Quantity <= 0 {
		return errors.New("ledger: quantity must be a positive magnitude")
	}
	if m.ActorID == "" {
		return ErrActorRequired
	}
	switch m.Direction {
	case DirectionIn:
		if m.StockAfter != m.StockBefore+m.Quantity {
			return fmt.Errorf("ledger: inconsistent IN snapshot: %d -> %d (+%d)", m.StockBefore, m.StockAfter, m.Quantity)
		}
	case DirectionOut:
		if m.StockAfter != m.StockBefore-m.Quantity {
			return fmt.Errorf("ledger: inconsistent OUT snapshot: %d -> %d (-%d)", m.StockBefore, m.StockAfter, m.Quantity)
		}
	case DirectionAdjust:
		delta := m.StockAfter - m.StockBefore
		if delta != m.Quantity && delta != -m.Quantity {
			return fmt.Errorf("ledger: inconsistent ADJUST snapshot: %d -> %d (±%d)", m.StockBefore, m.StockAfter, m.Quantity)
		}
	default:
		return fmt.Errorf("ledger: unknown direction %q", m.Direction)
	}
	if m.RefType == "" || m.RefID == "" {
		return errors.New("ledger: reference type and id required")
	}
	return nil
}
