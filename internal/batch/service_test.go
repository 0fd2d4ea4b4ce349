package batch

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/products"
)

type memRepo struct {
	batches   map[int64]Batch
	nextID    int64
	stock     map[int64]int64
	known     map[int64]bool
	movements []ledger.Movement
}

func newMemRepo() *memRepo {
	return &memRepo{
		batches: map[int64]Batch{},
		stock:   map[int64]int64{},
		known:   map[int64]bool{},
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) InsertBatch(_ context.Context, b Batch) (int64, error) {
	m.nextID++
	b.ID = m.nextID
	b.CreatedAt = time.Now()
	m.batches[b.ID] = b
	return b.ID, nil
}

func (m *memRepo) SetBatchStatus(_ context.Context, batchID int64, status Status) error {
	b, ok := m.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.Status = status
	m.batches[batchID] = b
	return nil
}

func (m *memRepo) GetBatchForUpdate(_ context.Context, batchID int64) (Batch, error) {
	b, ok := m.batches[batchID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *memRepo) GetProductStockForUpdate(_ context.Context, productID int64) (int64, error) {
	if !m.known[productID] {
		return 0, products.ErrProductNotFound
	}
	return m.stock[productID], nil
}

func (m *memRepo) SetProductStock(_ context.Context, productID int64, qty int64) error {
	if !m.known[productID] {
		return products.ErrProductNotFound
	}
	m.stock[productID] = qty
	return nil
}

func (m *memRepo) AppendMovement(_ context.Context, mv ledger.Movement) (int64, error) {
	if err := mv.Validate(); err != nil {
		return 0, err
	}
	m.movements = append(m.movements, mv)
	return int64(len(m.movements)), nil
}

func (m *memRepo) Get(_ context.Context, id int64) (Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *memRepo) ListByProduct(_ context.Context, productID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ExpiringWithin(_ context.Context, now time.Time, window time.Duration) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.Eligible() && b.ExpiryDate != nil && !b.ExpiryDate.After(now.Add(window)) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) ListPastExpiry(_ context.Context, now time.Time) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.Eligible() && b.ExpiredAt(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newTestService(repo *memRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, nil, nil)
}

func TestServiceReceive(t *testing.T) {
	t.Run("inserts batch, raises counter and appends IN movement", func(t *testing.T) {
		repo := newMemRepo()
		repo.known[1] = true
		repo.stock[1] = 5
		svc := newTestService(repo)

		expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
		created, err := svc.Receive(context.Background(), ReceiveInput{
			ProductID:   1,
			BatchNumber: "LOT-A",
			Quantity:    40,
			ExpiryDate:  &expiry,
			UnitCost:    1500,
			ActorID:     "user-7",
		})
		require.NoError(t, err)
		require.NotZero(t, created.ID)
		require.Equal(t, StatusActive, created.Status)
		require.Equal(t, int64(40), created.RemainingQty)

		require.Equal(t, int64(45), repo.stock[1])
		require.Len(t, repo.movements, 1)
		mv := repo.movements[0]
		require.Equal(t, ledger.DirectionIn, mv.Direction)
		require.Equal(t, int64(5), mv.StockBefore)
		require.Equal(t, int64(45), mv.StockAfter)
		require.Equal(t, "user-7", mv.ActorID)
		require.Equal(t, ledger.RefReceiving, mv.RefType)
	})

	t.Run("generates a lot number when none given", func(t *testing.T) {
		repo := newMemRepo()
		repo.known[1] = true
		svc := newTestService(repo)

		created, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 10, ActorID: "user-7"})
		require.NoError(t, err)
		require.NotEmpty(t, created.BatchNumber)
	})

	t.Run("rejects missing actor", func(t *testing.T) {
		svc := newTestService(newMemRepo())
		_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 10})
		require.ErrorIs(t, err, ErrActorRequired)
	})

	t.Run("rejects unknown product", func(t *testing.T) {
		svc := newTestService(newMemRepo())
		_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 99, Quantity: 10, ActorID: "user-7"})
		require.ErrorIs(t, err, products.ErrProductNotFound)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc := newTestService(newMemRepo())
		_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 0, ActorID: "user-7"})
		require.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

func TestServiceQuarantine(t *testing.T) {
	t.Run("removes remaining quantity from the counter", func(t *testing.T) {
		repo := newMemRepo()
		repo.known[1] = true
		svc := newTestService(repo)

		created, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 30, ActorID: "user-7"})
		require.NoError(t, err)
		require.Equal(t, int64(30), repo.stock[1])

		b, err := svc.Quarantine(context.Background(), created.ID, "user-7", "recall")
		require.NoError(t, err)
		require.Equal(t, StatusQuarantined, b.Status)
		require.Equal(t, int64(0), repo.stock[1])

		last := repo.movements[len(repo.movements)-1]
		require.Equal(t, ledger.DirectionAdjust, last.Direction)
		require.Equal(t, int64(30), last.Quantity)
		require.Equal(t, "recall", last.Reason)
	})

	t.Run("rejects a batch that is not active", func(t *testing.T) {
		repo := newMemRepo()
		repo.known[1] = true
		svc := newTestService(repo)

		created, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 30, ActorID: "user-7"})
		require.NoError(t, err)
		_, err = svc.Quarantine(context.Background(), created.ID, "user-7", "")
		require.NoError(t, err)

		_, err = svc.Quarantine(context.Background(), created.ID, "user-7", "")
		require.ErrorIs(t, err, ErrBatchNotActive)
	})
}

func TestServiceSweepExpired(t *testing.T) {
	repo := newMemRepo()
	repo.known[1] = true
	svc := newTestService(repo)
	svc.now = func() time.Time { return time.Date(2026, 8, 31, 1, 0, 0, 0, time.UTC) }

	past := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2027, 8, 1, 0, 0, 0, 0, time.UTC)

	stale, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 20, ExpiryDate: &past, ActorID: "user-7"})
	require.NoError(t, err)
	fresh, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: 10, ExpiryDate: &future, ActorID: "user-7"})
	require.NoError(t, err)

	retired, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, retired)

	b, err := svc.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, b.Status)

	b, err = svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, b.Status)

	require.Equal(t, int64(10), repo.stock[1], "only the fresh batch stays sellable")

	retired, err = svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Zero(t, retired, "sweep is idempotent")
}
