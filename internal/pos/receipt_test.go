package pos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/products"
)

func TestReceiptRender(t *testing.T) {
	repo := newMemRepo()
	repo.catalog[1] = products.Product{ID: 1, Name: "Paracetamol 500mg"}
	expiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo.sales[7] = Sale{
		ID:            7,
		Status:        StatusCompleted,
		Subtotal:      25000,
		DiscountType:  DiscountPercent,
		DiscountPct:   10,
		Total:         22500,
		PaymentMethod: "cash",
		CreatedAt:     time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC),
	}
	repo.items[7] = []SaleItem{{
		ID:             1,
		SaleID:         7,
		ProductID:      1,
		Quantity:       10,
		UnitPrice:      2500,
		TotalPrice:     25000,
		ExpirySnapshot: &expiry,
	}}

	printer := NewReceiptPrinter(repo, catalogReader{repo}, "APOTEK SEHAT")
	text, err := printer.Render(context.Background(), 7)
	require.NoError(t, err)

	require.Contains(t, text, "APOTEK SEHAT")
	require.Contains(t, text, "Nota #7")
	require.Contains(t, text, "Paracetamol 500mg")
	require.Contains(t, text, "ED 06/2025")
	require.Contains(t, text, "Diskon")
	require.Contains(t, text, "Bayar: cash")
	require.NotContains(t, text, "DIBATALKAN")
}

func TestReceiptMarksCancelledSale(t *testing.T) {
	repo := newMemRepo()
	repo.catalog[1] = products.Product{ID: 1, Name: "Paracetamol 500mg"}
	repo.sales[9] = Sale{ID: 9, Status: StatusCancelled, CreatedAt: time.Now()}

	printer := NewReceiptPrinter(repo, catalogReader{repo}, "")
	text, err := printer.Render(context.Background(), 9)
	require.NoError(t, err)
	require.Contains(t, text, "DIBATALKAN")
}

func TestReceiptUnknownSale(t *testing.T) {
	repo := newMemRepo()
	printer := NewReceiptPrinter(repo, catalogReader{repo}, "")
	_, err := printer.Render(context.Background(), 404)
	require.ErrorIs(t, err, ErrSaleNotFound)
}
