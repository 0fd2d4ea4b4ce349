package batch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/products"
)

const batchColumns = `id, product_id, batch_number, received_qty, remaining_qty, expiry_date, unit_cost, status, created_at, updated_at`

// RestoreReport summarises a plan restoration. Missing batches are skipped
// rather than failing the restore, so an undo can always complete.
type RestoreReport struct {
	Restored int
	Missing  []int64
}

// TxStore applies allocation plans to batch rows on an enclosing pgx
// transaction. The conditional update in Deduct is the sole serialization
// point between concurrent sales touching the same batch.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore binds batch operations to the given transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetEligibleForUpdate loads and row-locks the allocatable batches of a
// product, in FEFO order.
func (s *TxStore) GetEligibleForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id = $1 AND status = 'active' AND remaining_qty > 0
ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC
FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// CountByProduct reports how many batch rows exist for a product regardless
// of status, used to distinguish depleted stock from untracked legacy data.
func (s *TxStore) CountByProduct(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*) FROM batches WHERE product_id = $1`, productID).Scan(&count)
	return count, err
}

// Deduct decrements remaining quantity per plan line, re-validating
// availability at apply time. Any line that fails the re-check aborts the
// whole apply with ErrStockConflict; the caller's transaction rollback
// discards lines already applied.
func (s *TxStore) Deduct(ctx context.Context, plan Plan) error {
	for _, a := range plan {
		tag, err := s.tx.Exec(ctx, `UPDATE batches
SET remaining_qty = remaining_qty - $2,
    status = CASE WHEN remaining_qty - $2 = 0 THEN 'depleted' ELSE status END,
    updated_at = NOW()
WHERE id = $1 AND status = 'active' AND remaining_qty >= $2`, a.BatchID, a.Quantity)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23514" {
				return ErrStockConflict
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStockConflict
		}
	}
	return nil
}

// Restore increments remaining quantity per plan line, reviving depleted
// batches. Lines referencing batches that no longer exist are reported, not
// fatal: a lost batch must never block a refund.
func (s *TxStore) Restore(ctx context.Context, plan Plan) (RestoreReport, error) {
	var report RestoreReport
	for _, a := range plan {
		tag, err := s.tx.Exec(ctx, `UPDATE batches
SET remaining_qty = remaining_qty + $2,
    status = CASE WHEN status = 'depleted' THEN 'active' ELSE status END,
    updated_at = NOW()
WHERE id = $1`, a.BatchID, a.Quantity)
		if err != nil {
			return report, err
		}
		if tag.RowsAffected() == 0 {
			report.Missing = append(report.Missing, a.BatchID)
			continue
		}
		report.Restored++
	}
	return report, nil
}

// Insert persists a newly received batch and returns its id.
func (s *TxStore) Insert(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO batches (product_id, batch_number, received_qty, remaining_qty, expiry_date, unit_cost, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		b.ProductID, b.BatchNumber, b.ReceivedQty, b.RemainingQty, b.ExpiryDate, b.UnitCost, string(b.Status)).Scan(&id)
	return id, err
}

// GetForUpdate loads and row-locks one batch.
func (s *TxStore) GetForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// SetStatus transitions a batch without touching quantities.
func (s *TxStore) SetStatus(ctx context.Context, batchID int64, status Status) error {
	tag, err := s.tx.Exec(ctx, `UPDATE batches SET status = $2, updated_at = NOW() WHERE id = $1`, batchID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// Repository reads batch data outside of sale transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface the batch service works against.
// Receiving and maintenance touch batch rows, the product counter and the
// movement ledger atomically.
type TxRepository interface {
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	SetBatchStatus(ctx context.Context, batchID int64, status Status) error
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	GetProductStockForUpdate(ctx context.Context, productID int64) (int64, error)
	SetProductStock(ctx context.Context, productID int64, qty int64) error
	AppendMovement(ctx context.Context, m ledger.Movement) (int64, error)
}

type txRepository struct {
	batches  *TxStore
	ledger   *ledger.TxWriter
	products *products.TxStore
}

func (t *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	return t.batches.Insert(ctx, b)
}

func (t *txRepository) SetBatchStatus(ctx context.Context, batchID int64, status Status) error {
	return t.batches.SetStatus(ctx, batchID, status)
}

func (t *txRepository) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	return t.batches.GetForUpdate(ctx, batchID)
}

func (t *txRepository) GetProductStockForUpdate(ctx context.Context, productID int64) (int64, error) {
	return t.products.GetStockForUpdate(ctx, productID)
}

func (t *txRepository) SetProductStock(ctx context.Context, productID int64, qty int64) error {
	return t.products.SetStock(ctx, productID, qty)
}

func (t *txRepository) AppendMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	return t.ledger.Append(ctx, m)
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		repo := &txRepository{
			batches:  NewTxStore(tx),
			ledger:   ledger.NewTxWriter(tx),
			products: products.NewTxStore(tx),
		}
		return fn(ctx, repo)
	})
}

// Get returns one batch by id.
func (r *Repository) Get(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// ListByProduct returns all batches of a product, FEFO order first.
func (r *Repository) ListByProduct(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id = $1
ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// SumEligible returns the allocatable total for a product and whether any
// batch rows exist at all.
func (r *Repository) SumEligible(ctx context.Context, productID int64) (total int64, tracked bool, err error) {
	err = r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(remaining_qty) FILTER (WHERE status = 'active'), 0),
COUNT(*) > 0
FROM batches WHERE product_id = $1`, productID).Scan(&total, &tracked)
	return total, tracked, err
}

// ExpiringWithin lists active batches whose expiry falls inside the window.
func (r *Repository) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE status = 'active' AND remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date <= $1
ORDER BY expiry_date ASC, id ASC`, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// ListPastExpiry lists active batches already past expiry. The sweep job
// retires each one in its own transaction so the product counter and ledger
// stay consistent per batch.
func (r *Repository) ListPastExpiry(ctx context.Context, now time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE status = 'active' AND remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date < $1
ORDER BY expiry_date ASC, id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var status string
	err := row.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ReceivedQty, &b.RemainingQty, &b.ExpiryDate, &b.UnitCost, &status, &b.CreatedAt, &b.UpdatedAt)
	b.Status = Status(status)
	return b, err
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		var status string
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ReceivedQty, &b.RemainingQty, &b.ExpiryDate, &b.UnitCost, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Status = Status(status)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}
