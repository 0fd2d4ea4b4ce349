package products

import (
	"context"
	"log/slog"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, limit int) ([]Product, error)
}

// BatchSource answers how much batch-tracked stock a product has.
type BatchSource interface {
	SumEligible(ctx context.Context, productID int64) (total int64, tracked bool, err error)
}

// Service exposes product reads and availability lookups.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	batches BatchSource
	cache   *Cache
}

// NewService wires the product service. Cache may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, batches BatchSource, cache *Cache) *Service {
	return &Service{logger: logger, repo: repo, batches: batches, cache: cache}
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// List returns products ordered by name.
func (s *Service) List(ctx context.Context, limit int) ([]Product, error) {
	return s.repo.List(ctx, limit)
}

// Availability reports the sellable quantity of a product. Batch-tracked
// products answer with the sum of active batch remainders; products without
// batch rows fall back to the legacy flat counter.
func (s *Service) Availability(ctx context.Context, productID int64) (Availability, error) {
	return s.cache.FetchAvailability(ctx, productID, func(ctx context.Context) (Availability, error) {
		total, tracked, err := s.batches.SumEligible(ctx, productID)
		if err != nil {
			return Availability{}, err
		}
		if tracked {
			return Availability{ProductID: productID, Available: total, BatchTracked: true}, nil
		}
		p, err := s.repo.Get(ctx, productID)
		if err != nil {
			return Availability{}, err
		}
		return Availability{ProductID: productID, Available: p.StockOnHand}, nil
	})
}

// InvalidateAvailability drops every cached availability figure. Stock
// mutating services call this after their transaction commits.
func (s *Service) InvalidateAvailability(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("availability cache bump failed", slog.String("error", err.Error()))
	}
}
