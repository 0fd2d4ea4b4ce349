package pos

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/products"
)

const saleColumns = `id, status, subtotal, discount_type, discount_pct, discount_amount, total, original_total, payment_method, customer_ref, edited, edit_reason, edited_at, edited_by, created_at, completed_at`

const itemColumns = `id, sale_id, product_id, quantity, unit_type, unit_price, total_price, batch_id, expiry_snapshot`

// PGRepository is the Postgres implementation of RepositoryPort.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx executes one sale operation inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		repo := &pgTxRepository{
			tx:       tx,
			batches:  batch.NewTxStore(tx),
			ledger:   ledger.NewTxWriter(tx),
			products: products.NewTxStore(tx),
		}
		return fn(ctx, repo)
	})
}

// GetSale returns a sale with its items.
func (r *PGRepository) GetSale(ctx context.Context, saleID int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID)
	s, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id ASC`, saleID)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	s.Items, err = scanItems(rows)
	return s, err
}

// ListSales returns sale headers, newest first.
func (r *PGRepository) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// Revenue sums completed sale totals within the window. Cancelled and
// refunded sales never count.
func (r *PGRepository) Revenue(ctx context.Context, from, to time.Time) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total), 0) FROM sales
WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2`, from, to).Scan(&total)
	return total, err
}

type pgTxRepository struct {
	tx       pgx.Tx
	batches  *batch.TxStore
	ledger   *ledger.TxWriter
	products *products.TxStore
}

func (t *pgTxRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales (status, subtotal, discount_type, discount_pct, discount_amount, total, payment_method, customer_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		string(s.Status), s.Subtotal, s.DiscountType, s.DiscountPct, s.DiscountAmount, s.Total, s.PaymentMethod, s.CustomerRef).Scan(&id)
	return id, err
}

func (t *pgTxRepository) InsertItems(ctx context.Context, saleID int64, items []SaleItem) ([]SaleItem, error) {
	inserted := make([]SaleItem, 0, len(items))
	for _, item := range items {
		item.SaleID = saleID
		err := t.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, product_id, quantity, unit_type, unit_price, total_price, batch_id, expiry_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			saleID, item.ProductID, item.Quantity, item.UnitType, item.UnitPrice, item.TotalPrice, item.BatchID, item.ExpirySnapshot).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, item)
	}
	return inserted, nil
}

func (t *pgTxRepository) DeleteItems(ctx context.Context, saleID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
	return err
}

func (t *pgTxRepository) GetSaleForUpdate(ctx context.Context, saleID int64) (Sale, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID)
	s, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return s, err
}

func (t *pgTxRepository) GetItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+itemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (t *pgTxRepository) UpdateSale(ctx context.Context, s Sale) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET
status = $2, subtotal = $3, discount_type = $4, discount_pct = $5, discount_amount = $6,
total = $7, original_total = $8, edited = $9, edit_reason = $10, edited_at = $11, edited_by = $12,
completed_at = $13
WHERE id = $1`,
		s.ID, string(s.Status), s.Subtotal, s.DiscountType, s.DiscountPct, s.DiscountAmount,
		s.Total, s.OriginalTotal, s.Edited, s.EditReason, s.EditedAt, s.EditedBy, s.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (t *pgTxRepository) SetItemBatchInfo(ctx context.Context, itemID int64, batchID *int64, expiry *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sale_items SET batch_id = $2, expiry_snapshot = $3 WHERE id = $1`, itemID, batchID, expiry)
	return err
}

func (t *pgTxRepository) InsertAllocations(ctx context.Context, allocations []ItemAllocation) error {
	for _, a := range allocations {
		_, err := t.tx.Exec(ctx, `INSERT INTO sale_allocations (sale_id, sale_item_id, product_id, batch_id, quantity)
VALUES ($1,$2,$3,$4,$5)`, a.SaleID, a.SaleItemID, a.ProductID, a.BatchID, a.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTxRepository) GetAllocations(ctx context.Context, saleID int64) ([]ItemAllocation, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, sale_id, sale_item_id, product_id, batch_id, quantity
FROM sale_allocations WHERE sale_id = $1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocations := []ItemAllocation{}
	for rows.Next() {
		var a ItemAllocation
		if err := rows.Scan(&a.ID, &a.SaleID, &a.SaleItemID, &a.ProductID, &a.BatchID, &a.Quantity); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (t *pgTxRepository) DeleteAllocations(ctx context.Context, saleID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sale_allocations WHERE sale_id = $1`, saleID)
	return err
}

func (t *pgTxRepository) EligibleBatches(ctx context.Context, productID int64) ([]batch.Batch, error) {
	return t.batches.GetEligibleForUpdate(ctx, productID)
}

func (t *pgTxRepository) CountBatches(ctx context.Context, productID int64) (int64, error) {
	return t.batches.CountByProduct(ctx, productID)
}

func (t *pgTxRepository) DeductBatches(ctx context.Context, plan batch.Plan) error {
	return t.batches.Deduct(ctx, plan)
}

func (t *pgTxRepository) RestoreBatches(ctx context.Context, plan batch.Plan) (batch.RestoreReport, error) {
	return t.batches.Restore(ctx, plan)
}

func (t *pgTxRepository) ProductStockForUpdate(ctx context.Context, productID int64) (int64, error) {
	return t.products.GetStockForUpdate(ctx, productID)
}

func (t *pgTxRepository) SetProductStock(ctx context.Context, productID int64, qty int64) error {
	return t.products.SetStock(ctx, productID, qty)
}

func (t *pgTxRepository) AppendMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	return t.ledger.Append(ctx, m)
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var status, discountType string
	err := row.Scan(&s.ID, &status, &s.Subtotal, &discountType, &s.DiscountPct, &s.DiscountAmount,
		&s.Total, &s.OriginalTotal, &s.PaymentMethod, &s.CustomerRef,
		&s.Edited, &s.EditReason, &s.EditedAt, &s.EditedBy, &s.CreatedAt, &s.CompletedAt)
	s.Status = Status(status)
	s.DiscountType = discountType
	return s, err
}

func scanItems(rows pgx.Rows) ([]SaleItem, error) {
	items := []SaleItem{}
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.UnitType,
			&item.UnitPrice, &item.TotalPrice, &item.BatchID, &item.ExpirySnapshot); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
