package batch

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

const systemActor = "system"

// RepositoryPort is the persistence surface the batch service works against.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Batch, error)
	ListByProduct(ctx context.Context, productID int64) ([]Batch, error)
	ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]Batch, error)
	ListPastExpiry(ctx context.Context, now time.Time) ([]Batch, error)
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached availability figures after stock mutations.
type CacheInvalidator interface {
	InvalidateAvailability(ctx context.Context)
}

// Service owns batch receiving and lifecycle maintenance. Sale-side
// allocation goes through the sale orchestrator instead; this service covers
// the inbound and housekeeping paths.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	audit  Auditor
	cache  CacheInvalidator
	now    func() time.Time
}

// NewService wires the batch service. Audit and cache may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, audit Auditor, cache CacheInvalidator) *Service {
	return &Service{logger: logger, repo: repo, audit: audit, cache: cache, now: time.Now}
}

// ReceiveInput describes one inbound lot.
type ReceiveInput struct {
	ProductID   int64
	BatchNumber string
	Quantity    int64
	ExpiryDate  *time.Time
	UnitCost    float64
	ActorID     string
}

// Receive registers a newly received lot: inserts the batch, raises the
// product counter and appends an IN movement, all in one transaction.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (Batch, error) {
	if in.ActorID == "" {
		return Batch{}, ErrActorRequired
	}
	if in.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	number := in.BatchNumber
	if number == "" {
		number = "LOT-" + strings.ToUpper(uuid.NewString()[:8])
	}

	var created Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := tx.GetProductStockForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		created = Batch{
			ProductID:    in.ProductID,
			BatchNumber:  number,
			ReceivedQty:  in.Quantity,
			RemainingQty: in.Quantity,
			ExpiryDate:   in.ExpiryDate,
			UnitCost:     in.UnitCost,
			Status:       StatusActive,
		}
		id, err := tx.InsertBatch(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id

		after := before + in.Quantity
		if err := tx.SetProductStock(ctx, in.ProductID, after); err != nil {
			return err
		}
		_, err = tx.AppendMovement(ctx, ledger.Movement{
			ProductID:   in.ProductID,
			BatchID:     &id,
			Direction:   ledger.DirectionIn,
			Quantity:    in.Quantity,
			Reason:      "stock_received",
			RefType:     ledger.RefReceiving,
			RefID:       strconv.FormatInt(id, 10),
			StockBefore: before,
			StockAfter:  after,
			ActorID:     in.ActorID,
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, in.ActorID, "batch.receive", created.ID, map[string]any{
		"product_id":   in.ProductID,
		"batch_number": number,
		"quantity":     in.Quantity,
	})
	return created, nil
}

// Quarantine withholds an active batch from allocation. Its remaining
// quantity leaves the sellable counter with an ADJUST movement; the batch row
// keeps the quantity for a later release or write-off.
func (s *Service) Quarantine(ctx context.Context, batchID int64, actorID, reason string) (Batch, error) {
	if actorID == "" {
		return Batch{}, ErrActorRequired
	}
	if reason == "" {
		reason = "quarantine"
	}
	b, err := s.retire(ctx, batchID, StatusQuarantined, actorID, reason)
	if err != nil {
		return Batch{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, actorID, "batch.quarantine", batchID, map[string]any{
		"product_id": b.ProductID,
		"quantity":   b.RemainingQty,
		"reason":     reason,
	})
	return b, nil
}

// SweepExpired retires every past-expiry active batch, one transaction per
// batch. A failing batch is logged and skipped so one bad row cannot stall
// the nightly sweep. Returns how many batches were retired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repo.ListPastExpiry(ctx, now)
	if err != nil {
		return 0, err
	}

	retired := 0
	for _, b := range expired {
		if _, err := s.retire(ctx, b.ID, StatusExpired, systemActor, "expired"); err != nil {
			s.logger.Error("expiry sweep: retire batch",
				slog.Int64("batch_id", b.ID),
				slog.Int64("product_id", b.ProductID),
				slog.Any("error", err))
			continue
		}
		retired++
	}
	if retired > 0 {
		s.invalidate(ctx)
		s.recordAudit(ctx, systemActor, "batch.expiry_sweep", 0, map[string]any{
			"retired":  retired,
			"swept_at": now,
		})
	}
	return retired, nil
}

// retire transitions an active batch out of allocation and reconciles the
// product counter and ledger in the same transaction.
func (s *Service) retire(ctx context.Context, batchID int64, to Status, actorID, reason string) (Batch, error) {
	var retired Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status != StatusActive {
			return ErrBatchNotActive
		}
		if err := tx.SetBatchStatus(ctx, batchID, to); err != nil {
			return err
		}
		retired = b
		retired.Status = to
		if b.RemainingQty == 0 {
			return nil
		}

		before, err := tx.GetProductStockForUpdate(ctx, b.ProductID)
		if err != nil {
			return err
		}
		after := before - b.RemainingQty
		if err := tx.SetProductStock(ctx, b.ProductID, after); err != nil {
			return err
		}
		_, err = tx.AppendMovement(ctx, ledger.Movement{
			ProductID:   b.ProductID,
			BatchID:     &b.ID,
			Direction:   ledger.DirectionAdjust,
			Quantity:    b.RemainingQty,
			Reason:      reason,
			RefType:     ledger.RefAdjustment,
			RefID:       strconv.FormatInt(b.ID, 10),
			StockBefore: before,
			StockAfter:  after,
			ActorID:     actorID,
		})
		return err
	})
	return retired, err
}

// Get returns one batch.
func (s *Service) Get(ctx context.Context, id int64) (Batch, error) {
	return s.repo.Get(ctx, id)
}

// ListByProduct returns all batches of a product in FEFO order.
func (s *Service) ListByProduct(ctx context.Context, productID int64) ([]Batch, error) {
	return s.repo.ListByProduct(ctx, productID)
}

// ExpiringWithin lists active batches expiring inside the window.
func (s *Service) ExpiringWithin(ctx context.Context, window time.Duration) ([]Batch, error) {
	return s.repo.ExpiringWithin(ctx, s.now(), window)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAvailability(ctx)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "batch",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
