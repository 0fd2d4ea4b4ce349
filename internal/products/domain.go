package products

import (
	"errors"
	"time"
)

// Product is the directory entry the engine references. The stock_on_hand
// counter is a cached projection of batch remainders and is only written in
// the same transaction as the batch mutation it mirrors; products with no
// batch rows keep it as the legacy flat counter.
type Product struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	UnitPrice      float64   `json:"unit_price"`
	PiecesPerSheet int       `json:"pieces_per_sheet"`
	SheetsPerBox   int       `json:"sheets_per_box"`
	StockOnHand    int64     `json:"stock_on_hand"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Availability describes how much of a product can currently be sold and
// which data source answered.
type Availability struct {
	ProductID int64 `json:"product_id"`
	Available int64 `json:"available"`
	// BatchTracked is false when the figure comes from the legacy counter.
	BatchTracked bool `json:"batch_tracked"`
}

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("product not found")
