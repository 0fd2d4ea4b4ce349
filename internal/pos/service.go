package pos

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/products"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// ProductReader resolves product records for pricing and unit conversion.
type ProductReader interface {
	Get(ctx context.Context, id int64) (products.Product, error)
}

// AvailabilityReader answers the advisory stock check at pending creation.
type AvailabilityReader interface {
	SumEligible(ctx context.Context, productID int64) (total int64, tracked bool, err error)
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached availability figures after stock mutations.
type CacheInvalidator interface {
	InvalidateAvailability(ctx context.Context)
}

// Service is the sale orchestrator. Each public operation runs as one atomic
// unit covering the sale rows, batch draws, product counter and ledger.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	catalog  ProductReader
	batchSum AvailabilityReader
	audit    Auditor
	cache    CacheInvalidator
	now      func() time.Time
}

// NewService wires the sale service. Audit and cache may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, catalog ProductReader, batchSum AvailabilityReader, audit Auditor, cache CacheInvalidator) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		catalog:  catalog,
		batchSum: batchSum,
		audit:    audit,
		cache:    cache,
		now:      time.Now,
	}
}

// ItemInput is one requested line. Quantity is in the given unit; the service
// converts to pieces using the product's multipliers. A zero unit price falls
// back to the catalogue price.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	UnitType  string
	UnitPrice float64
}

// CreateSaleInput describes a new pending sale.
type CreateSaleInput struct {
	Items          []ItemInput
	DiscountType   string
	DiscountPct    float64
	DiscountAmount float64
	PaymentMethod  string
	CustomerRef    *string
	ActorID        string
}

// EditSaleInput replaces the items of an existing sale.
type EditSaleInput struct {
	SaleID         int64
	Items          []ItemInput
	DiscountType   string
	DiscountPct    float64
	DiscountAmount float64
	Reason         string
	ActorID        string
}

// CreatePending validates availability without reserving anything and
// persists the sale in pending status. The check is advisory: stock is only
// deducted at completion, which re-validates.
func (s *Service) CreatePending(ctx context.Context, in CreateSaleInput) (Sale, error) {
	if in.ActorID == "" {
		return Sale{}, ErrActorRequired
	}
	items, err := s.buildItems(ctx, in.Items)
	if err != nil {
		return Sale{}, err
	}
	sale, err := s.assembleSale(items, in.DiscountType, in.DiscountPct, in.DiscountAmount)
	if err != nil {
		return Sale{}, err
	}
	sale.PaymentMethod = in.PaymentMethod
	sale.CustomerRef = in.CustomerRef

	for _, item := range items {
		if err := s.checkAvailability(ctx, item); err != nil {
			return Sale{}, err
		}
	}

	var saleID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		saleID, err = tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		_, err = tx.InsertItems(ctx, saleID, items)
		return err
	})
	if err != nil {
		return Sale{}, err
	}

	s.recordAudit(ctx, in.ActorID, "sale.create", saleID, map[string]any{"items": len(items), "total": sale.Total})
	return s.repo.GetSale(ctx, saleID)
}

// Complete finalises a pending sale: allocates every line FEFO, deducts the
// batches, reconciles the product counter and appends ledger entries, all in
// one transaction. A failure on any line deducts nothing.
func (s *Service) Complete(ctx context.Context, saleID int64, actorID string) (Sale, error) {
	if actorID == "" {
		return Sale{}, ErrActorRequired
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if !CanTransition(sale.Status, StatusCompleted) {
			return &InvalidTransitionError{From: sale.Status, To: StatusCompleted}
		}
		sale.Items, err = tx.GetItems(ctx, saleID)
		if err != nil {
			return err
		}
		if len(sale.Items) == 0 {
			return ErrEmptyItems
		}
		if err := sale.ValidateTotals(); err != nil {
			return err
		}

		var allocations []ItemAllocation
		for _, item := range sale.Items {
			itemAllocs, err := s.deductItem(ctx, tx, saleID, item, actorID)
			if err != nil {
				return err
			}
			allocations = append(allocations, itemAllocs...)
		}
		if err := tx.InsertAllocations(ctx, allocations); err != nil {
			return err
		}

		now := s.now()
		sale.Status = StatusCompleted
		sale.CompletedAt = &now
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, actorID, "sale.complete", saleID, nil)
	return s.repo.GetSale(ctx, saleID)
}

// Undo reverses a sale. A completed sale has its recorded batch draws
// restored with inverse ledger entries; a pending sale is simply cancelled.
// Missing products or batches are reported in the result, never fatal.
func (s *Service) Undo(ctx context.Context, saleID int64, actorID, reason string, refund bool) (UndoResult, error) {
	if actorID == "" {
		return UndoResult{}, ErrActorRequired
	}
	target := StatusCancelled
	if refund {
		target = StatusRefunded
	}
	if reason == "" {
		reason = "undo"
	}

	var result UndoResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if !CanTransition(sale.Status, target) {
			return &InvalidTransitionError{From: sale.Status, To: target}
		}
		if sale.Status == StatusCompleted {
			if err := s.restoreSale(ctx, tx, sale, actorID, &result); err != nil {
				return err
			}
		}

		now := s.now()
		sale.Status = target
		sale.Edited = true
		sale.EditReason = reason
		sale.EditedAt = &now
		sale.EditedBy = actorID
		if err := tx.UpdateSale(ctx, sale); err != nil {
			return err
		}
		result.SaleID = saleID
		result.Status = target
		return nil
	})
	if err != nil {
		return UndoResult{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, actorID, "sale.undo", saleID, map[string]any{
		"status":             string(target),
		"reason":             reason,
		"products_restored":  result.ProductsRestored,
		"products_not_found": result.ProductsNotFound,
	})
	return result, nil
}

// Edit reopens a sale with a replacement item set. A completed sale is first
// restored through the same primitive as Undo, then every line is replaced
// wholesale and the sale returns to pending; the caller completes it again to
// deduct against the new lines. Cancelled and refunded sales cannot be
// edited.
func (s *Service) Edit(ctx context.Context, in EditSaleInput) (Sale, error) {
	if in.ActorID == "" {
		return Sale{}, ErrActorRequired
	}
	reason := in.Reason
	if reason == "" {
		reason = "edited"
	}
	items, err := s.buildItems(ctx, in.Items)
	if err != nil {
		return Sale{}, err
	}
	replacement, err := s.assembleSale(items, in.DiscountType, in.DiscountPct, in.DiscountAmount)
	if err != nil {
		return Sale{}, err
	}

	var restore UndoResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, in.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusPending && sale.Status != StatusCompleted {
			return &InvalidTransitionError{From: sale.Status, To: StatusPending}
		}
		if sale.Status == StatusCompleted {
			if err := s.restoreSale(ctx, tx, sale, in.ActorID, &restore); err != nil {
				return err
			}
		}

		if err := tx.DeleteItems(ctx, in.SaleID); err != nil {
			return err
		}
		if _, err := tx.InsertItems(ctx, in.SaleID, items); err != nil {
			return err
		}

		if sale.OriginalTotal == nil {
			original := sale.Total
			sale.OriginalTotal = &original
		}
		now := s.now()
		sale.Status = StatusPending
		sale.Subtotal = replacement.Subtotal
		sale.DiscountType = replacement.DiscountType
		sale.DiscountPct = replacement.DiscountPct
		sale.DiscountAmount = replacement.DiscountAmount
		sale.Total = replacement.Total
		sale.CompletedAt = nil
		sale.Edited = true
		sale.EditReason = reason
		sale.EditedAt = &now
		sale.EditedBy = in.ActorID
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}

	s.invalidate(ctx)
	meta := map[string]any{"reason": reason, "items": len(items)}
	if restore.ProductsNotFound > 0 || len(restore.MissingBatches) > 0 {
		s.logger.Warn("edit restored prior deduction only partially",
			slog.Int64("sale_id", in.SaleID),
			slog.Int("products_not_found", restore.ProductsNotFound),
			slog.Any("missing_batches", restore.MissingBatches))
		meta["products_not_found"] = restore.ProductsNotFound
		meta["missing_batches"] = restore.MissingBatches
	}
	s.recordAudit(ctx, in.ActorID, "sale.edit", in.SaleID, meta)
	return s.repo.GetSale(ctx, in.SaleID)
}

// Get returns one sale with its items.
func (s *Service) Get(ctx context.Context, saleID int64) (Sale, error) {
	return s.repo.GetSale(ctx, saleID)
}

// List returns sale headers, newest first.
func (s *Service) List(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	return s.repo.ListSales(ctx, filter)
}

// Revenue sums completed sale totals within the window.
func (s *Service) Revenue(ctx context.Context, from, to time.Time) (float64, error) {
	return s.repo.Revenue(ctx, from, to)
}

// deductItem draws one sale line from stock: FEFO plan, batch deduction,
// counter reconciliation and an OUT ledger entry. Products without batch rows
// use the legacy flat counter.
func (s *Service) deductItem(ctx context.Context, tx TxRepository, saleID int64, item SaleItem, actorID string) ([]ItemAllocation, error) {
	eligible, err := tx.EligibleBatches(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		count, err := tx.CountBatches(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, &batch.InsufficientStockError{ProductID: item.ProductID, Available: 0, Requested: item.Quantity}
		}
		return nil, s.deductLegacy(ctx, tx, saleID, item, actorID)
	}

	plan, err := batch.Allocate(item.ProductID, item.Quantity, eligible)
	if err != nil {
		return nil, err
	}
	if err := tx.DeductBatches(ctx, plan); err != nil {
		return nil, err
	}

	before, err := tx.ProductStockForUpdate(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	after := before - item.Quantity
	if after < 0 {
		return nil, batch.ErrStockConflict
	}
	if err := tx.SetProductStock(ctx, item.ProductID, after); err != nil {
		return nil, err
	}

	// One movement per draw keeps the ledger's batch attribution exact when
	// a line spans batches.
	running := before
	for _, a := range plan {
		batchID := a.BatchID
		if _, err := tx.AppendMovement(ctx, ledger.Movement{
			ProductID:   item.ProductID,
			BatchID:     &batchID,
			Direction:   ledger.DirectionOut,
			Quantity:    a.Quantity,
			Reason:      "sale",
			RefType:     ledger.RefSale,
			RefID:       strconv.FormatInt(saleID, 10),
			StockBefore: running,
			StockAfter:  running - a.Quantity,
			ActorID:     actorID,
		}); err != nil {
			return nil, err
		}
		running -= a.Quantity
	}

	if len(plan) == 1 {
		primary := plan[0].BatchID
		expiry := expiryOf(eligible, primary)
		if err := tx.SetItemBatchInfo(ctx, item.ID, &primary, expiry); err != nil {
			return nil, err
		}
	}

	allocations := make([]ItemAllocation, 0, len(plan))
	for _, a := range plan {
		allocations = append(allocations, ItemAllocation{
			SaleID:     saleID,
			SaleItemID: item.ID,
			ProductID:  item.ProductID,
			BatchID:    a.BatchID,
			Quantity:   a.Quantity,
		})
	}
	return allocations, nil
}

// deductLegacy draws a line from the flat counter for products that predate
// batch tracking. No allocation rows are written; undo restores the counter
// from the item quantity.
func (s *Service) deductLegacy(ctx context.Context, tx TxRepository, saleID int64, item SaleItem, actorID string) error {
	before, err := tx.ProductStockForUpdate(ctx, item.ProductID)
	if err != nil {
		return err
	}
	if before < item.Quantity {
		return &batch.InsufficientStockError{ProductID: item.ProductID, Available: before, Requested: item.Quantity}
	}
	after := before - item.Quantity
	if err := tx.SetProductStock(ctx, item.ProductID, after); err != nil {
		return err
	}
	_, err = tx.AppendMovement(ctx, ledger.Movement{
		ProductID:   item.ProductID,
		Direction:   ledger.DirectionOut,
		Quantity:    item.Quantity,
		Reason:      "sale",
		RefType:     ledger.RefSale,
		RefID:       strconv.FormatInt(saleID, 10),
		StockBefore: before,
		StockAfter:  after,
		ActorID:     actorID,
	})
	return err
}

// restoreSale reverses the stock effects of a completed sale. Each line is
// restored from its recorded allocations; items of deleted products are
// skipped and counted, missing batches are reported per id. Allocation rows
// are consumed so a later re-completion starts clean.
func (s *Service) restoreSale(ctx context.Context, tx TxRepository, sale Sale, actorID string, result *UndoResult) error {
	items, err := tx.GetItems(ctx, sale.ID)
	if err != nil {
		return err
	}
	allocations, err := tx.GetAllocations(ctx, sale.ID)
	if err != nil {
		return err
	}
	byItem := make(map[int64][]ItemAllocation, len(items))
	for _, a := range allocations {
		byItem[a.SaleItemID] = append(byItem[a.SaleItemID], a)
	}

	for _, item := range items {
		before, err := tx.ProductStockForUpdate(ctx, item.ProductID)
		if errors.Is(err, products.ErrProductNotFound) {
			result.ProductsNotFound++
			continue
		}
		if err != nil {
			return err
		}

		itemAllocs := byItem[item.ID]
		if len(itemAllocs) > 0 {
			plan := make(batch.Plan, 0, len(itemAllocs))
			for _, a := range itemAllocs {
				plan = append(plan, batch.Allocation{BatchID: a.BatchID, Quantity: a.Quantity})
			}
			report, err := tx.RestoreBatches(ctx, plan)
			if err != nil {
				return err
			}
			result.MissingBatches = append(result.MissingBatches, report.Missing...)
			missed := make(map[int64]bool, len(report.Missing))
			for _, id := range report.Missing {
				missed[id] = true
			}

			// Inverse movement per surviving draw; vanished batches restore
			// nothing and get no ledger entry.
			running := before
			for _, a := range itemAllocs {
				if missed[a.BatchID] {
					continue
				}
				batchID := a.BatchID
				if _, err := tx.AppendMovement(ctx, ledger.Movement{
					ProductID:   item.ProductID,
					BatchID:     &batchID,
					Direction:   ledger.DirectionIn,
					Quantity:    a.Quantity,
					Reason:      "sale_undo",
					RefType:     ledger.RefSaleUndo,
					RefID:       strconv.FormatInt(sale.ID, 10),
					StockBefore: running,
					StockAfter:  running + a.Quantity,
					ActorID:     actorID,
				}); err != nil {
					return err
				}
				running += a.Quantity
			}
			if running > before {
				if err := tx.SetProductStock(ctx, item.ProductID, running); err != nil {
					return err
				}
			}
		} else if item.Quantity > 0 {
			after := before + item.Quantity
			if err := tx.SetProductStock(ctx, item.ProductID, after); err != nil {
				return err
			}
			if _, err := tx.AppendMovement(ctx, ledger.Movement{
				ProductID:   item.ProductID,
				Direction:   ledger.DirectionIn,
				Quantity:    item.Quantity,
				Reason:      "sale_undo",
				RefType:     ledger.RefSaleUndo,
				RefID:       strconv.FormatInt(sale.ID, 10),
				StockBefore: before,
				StockAfter:  after,
				ActorID:     actorID,
			}); err != nil {
				return err
			}
		}
		result.ProductsRestored++
	}
	return tx.DeleteAllocations(ctx, sale.ID)
}

// buildItems converts requested lines into persisted item records: unit
// quantities become pieces, prices become per-piece, line totals are
// computed here and nowhere else.
func (s *Service) buildItems(ctx context.Context, inputs []ItemInput) ([]SaleItem, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyItems
	}
	items := make([]SaleItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, &ValidationError{Field: "items", Detail: "quantity must be positive"}
		}
		product, err := s.catalog.Get(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}
		mult, err := unitMultiplier(in.UnitType, product)
		if err != nil {
			return nil, err
		}
		unitPrice := in.UnitPrice
		if unitPrice <= 0 {
			unitPrice = product.UnitPrice * float64(mult)
		}
		pieces := in.Quantity * mult
		perPiece := unitPrice / float64(mult)

		items = append(items, SaleItem{
			ProductID:  in.ProductID,
			Quantity:   pieces,
			UnitType:   normalizeUnit(in.UnitType),
			UnitPrice:  perPiece,
			TotalPrice: float64(pieces) * perPiece,
		})
	}
	return items, nil
}

// assembleSale computes the header figures from items and discount input and
// verifies them through the same arithmetic used at completion.
func (s *Service) assembleSale(items []SaleItem, discountType string, pct, amount float64) (Sale, error) {
	if discountType == "" {
		discountType = DiscountNone
	}
	switch discountType {
	case DiscountNone, DiscountPercent, DiscountAmount:
	default:
		return Sale{}, &ValidationError{Field: "discount_type", Detail: "unknown discount type"}
	}
	if pct < 0 || pct > 100 {
		return Sale{}, &ValidationError{Field: "discount_pct", Detail: "percentage must be between 0 and 100"}
	}
	if amount < 0 {
		return Sale{}, &ValidationError{Field: "discount_amount", Detail: "amount must not be negative"}
	}

	var subtotal float64
	for _, item := range items {
		subtotal += item.TotalPrice
	}
	discount := ComputeDiscount(discountType, pct, amount, subtotal)

	sale := Sale{
		Status:         StatusPending,
		Subtotal:       subtotal,
		DiscountType:   discountType,
		DiscountPct:    pct,
		DiscountAmount: amount,
		Total:          subtotal - discount,
		Items:          items,
	}
	if err := sale.ValidateTotals(); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// checkAvailability is the advisory pre-check at pending creation. It reads
// without locking and accepts the race with concurrent completions; the
// authoritative check happens inside Complete.
func (s *Service) checkAvailability(ctx context.Context, item SaleItem) error {
	available, tracked, err := s.batchSum.SumEligible(ctx, item.ProductID)
	if err != nil {
		return err
	}
	if !tracked {
		product, err := s.catalog.Get(ctx, item.ProductID)
		if err != nil {
			return err
		}
		available = product.StockOnHand
	}
	if available < item.Quantity {
		return &batch.InsufficientStockError{ProductID: item.ProductID, Available: available, Requested: item.Quantity}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAvailability(ctx)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func unitMultiplier(unitType string, product products.Product) (int64, error) {
	perSheet := int64(product.PiecesPerSheet)
	if perSheet <= 0 {
		perSheet = 1
	}
	perBox := int64(product.SheetsPerBox)
	if perBox <= 0 {
		perBox = 1
	}
	switch normalizeUnit(unitType) {
	case UnitPiece:
		return 1, nil
	case UnitSheet:
		return perSheet, nil
	case UnitBox:
		return perSheet * perBox, nil
	default:
		return 0, &ValidationError{Field: "unit_type", Detail: "unknown unit type"}
	}
}

func normalizeUnit(unitType string) string {
	if unitType == "" {
		return UnitPiece
	}
	return unitType
}

func expiryOf(batches []batch.Batch, batchID int64) *time.Time {
	for _, b := range batches {
		if b.ID == batchID {
			return b.ExpiryDate
		}
	}
	return nil
}
