package products

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, name, sku, unit_price, pieces_per_sheet, sheets_per_box, stock_on_hand, created_at, updated_at`

// TxStore mutates the product stock counter on an enclosing pgx transaction.
// The counter is a projection; every write goes through here together with the
// batch mutation and ledger entry it mirrors.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore binds product counter operations to the given transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetStockForUpdate row-locks the product and returns its current counter.
func (s *TxStore) GetStockForUpdate(ctx context.Context, productID int64) (int64, error) {
	var stock int64
	err := s.tx.QueryRow(ctx, `SELECT stock_on_hand FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return stock, err
}

// SetStock overwrites the product counter.
func (s *TxStore) SetStock(ctx context.Context, productID int64, qty int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE products SET stock_on_hand = $2, updated_at = NOW() WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// Repository reads product data outside of sale transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns one product by id.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// List returns products ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.UnitPrice, &p.PiecesPerSheet, &p.SheetsPerBox, &p.StockOnHand, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.UnitPrice, &p.PiecesPerSheet, &p.SheetsPerBox, &p.StockOnHand, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
