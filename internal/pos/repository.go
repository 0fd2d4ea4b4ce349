package pos

import (
	"context"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
)

// TxRepository is the transactional surface of one sale operation. A single
// transaction spans the sale rows, the batch draws, the product counter and
// the movement ledger, so a failure on any line leaves nothing applied.
type TxRepository interface {
	InsertSale(ctx context.Context, s Sale) (int64, error)
	InsertItems(ctx context.Context, saleID int64, items []SaleItem) ([]SaleItem, error)
	DeleteItems(ctx context.Context, saleID int64) error
	GetSaleForUpdate(ctx context.Context, saleID int64) (Sale, error)
	GetItems(ctx context.Context, saleID int64) ([]SaleItem, error)
	UpdateSale(ctx context.Context, s Sale) error
	SetItemBatchInfo(ctx context.Context, itemID int64, batchID *int64, expiry *time.Time) error

	InsertAllocations(ctx context.Context, allocations []ItemAllocation) error
	GetAllocations(ctx context.Context, saleID int64) ([]ItemAllocation, error)
	DeleteAllocations(ctx context.Context, saleID int64) error

	EligibleBatches(ctx context.Context, productID int64) ([]batch.Batch, error)
	CountBatches(ctx context.Context, productID int64) (int64, error)
	DeductBatches(ctx context.Context, plan batch.Plan) error
	RestoreBatches(ctx context.Context, plan batch.Plan) (batch.RestoreReport, error)

	ProductStockForUpdate(ctx context.Context, productID int64) (int64, error)
	SetProductStock(ctx context.Context, productID int64, qty int64) error

	AppendMovement(ctx context.Context, m ledger.Movement) (int64, error)
}

// SaleFilter narrows sale listings.
type SaleFilter struct {
	Status Status
	Limit  int
}

// RepositoryPort is the persistence surface the sale service works against.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, saleID int64) (Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
	Revenue(ctx context.Context, from, to time.Time) (float64, error)
}
