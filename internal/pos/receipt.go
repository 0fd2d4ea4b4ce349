package pos

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SaleReader resolves a sale with its items for rendering.
type SaleReader interface {
	GetSale(ctx context.Context, saleID int64) (Sale, error)
}

// ReceiptPrinter renders a plain-text receipt for a sale. Amounts are
// formatted with Indonesian digit grouping.
type ReceiptPrinter struct {
	sales   SaleReader
	catalog ProductReader
	printer *message.Printer
	shop    string
}

// NewReceiptPrinter constructs a printer for the given shop name.
func NewReceiptPrinter(sales SaleReader, catalog ProductReader, shop string) *ReceiptPrinter {
	if shop == "" {
		shop = "APOTEK"
	}
	return &ReceiptPrinter{
		sales:   sales,
		catalog: catalog,
		printer: message.NewPrinter(language.Indonesian),
		shop:    shop,
	}
}

// Render produces the receipt text for one sale.
func (p *ReceiptPrinter) Render(ctx context.Context, saleID int64) (string, error) {
	sale, err := p.sales.GetSale(ctx, saleID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	line := strings.Repeat("-", 32)
	b.WriteString(p.shop + "\n")
	b.WriteString(p.printer.Sprintf("Nota #%d\n", sale.ID))
	b.WriteString(sale.CreatedAt.Format("02/01/2006 15:04") + "\n")
	b.WriteString(line + "\n")

	for _, item := range sale.Items {
		name := p.productName(ctx, item.ProductID)
		b.WriteString(name + "\n")
		b.WriteString(p.printer.Sprintf("  %d x Rp%.0f = Rp%.0f\n", item.Quantity, item.UnitPrice, item.TotalPrice))
		if item.ExpirySnapshot != nil {
			b.WriteString("  ED " + item.ExpirySnapshot.Format("01/2006") + "\n")
		}
	}

	b.WriteString(line + "\n")
	b.WriteString(p.printer.Sprintf("Subtotal  Rp%.0f\n", sale.Subtotal))
	discount := ComputeDiscount(sale.DiscountType, sale.DiscountPct, sale.DiscountAmount, sale.Subtotal)
	if discount > 0 {
		b.WriteString(p.printer.Sprintf("Diskon    Rp%.0f\n", discount))
	}
	b.WriteString(p.printer.Sprintf("TOTAL     Rp%.0f\n", sale.Total))
	if sale.PaymentMethod != "" {
		b.WriteString("Bayar: " + sale.PaymentMethod + "\n")
	}

	switch sale.Status {
	case StatusCancelled:
		b.WriteString(line + "\n*** DIBATALKAN ***\n")
	case StatusRefunded:
		b.WriteString(line + "\n*** REFUND ***\n")
	}
	return b.String(), nil
}

func (p *ReceiptPrinter) productName(ctx context.Context, productID int64) string {
	product, err := p.catalog.Get(ctx, productID)
	if err != nil {
		return p.printer.Sprintf("Produk #%d", productID)
	}
	return product.Name
}
