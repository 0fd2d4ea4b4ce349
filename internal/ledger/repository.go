package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Writer appends movements inside an enclosing transaction.
type Writer interface {
	Append(ctx context.Context, m Movement) (int64, error)
}

// TxWriter appends movements on a pgx transaction so the ledger entry
// commits or rolls back together with the mutation it describes.
type TxWriter struct {
	tx pgx.Tx
}

// NewTxWriter binds a writer to the given transaction.
func NewTxWriter(tx pgx.Tx) *TxWriter {
	return &TxWriter{tx: tx}
}

// Append validates and inserts one movement, returning its id.
func (w *TxWriter) Append(ctx context.Context, m Movement) (int64, error) {
	if w == nil || w.tx == nil {
		return 0, errors.New("ledger: tx writer not initialised")
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := w.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, batch_id, direction, quantity, reason, ref_type, ref_id, stock_before, stock_after, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		m.ProductID, m.BatchID, string(m.Direction), m.Quantity, m.Reason, m.RefType, m.RefID, m.StockBefore, m.StockAfter, m.ActorID).Scan(&id)
	return id, err
}

// Repository reads movement history for audit and report collaborators.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MovementFilter narrows history queries.
type MovementFilter struct {
	ProductID int64
	RefType   string
	RefID     string
	Limit     int
}

// List returns movements matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger: repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, batch_id, direction, quantity, reason, ref_type, ref_id, stock_before, stock_after, actor_id, created_at
FROM stock_movements
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = '' OR ref_type = $2)
  AND ($3 = '' OR ref_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`, filter.ProductID, filter.RefType, filter.RefID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var direction string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &direction, &m.Quantity, &m.Reason, &m.RefType, &m.RefID, &m.StockBefore, &m.StockAfter, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = Direction(direction)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}
