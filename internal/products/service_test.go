package products

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	products map[int64]Product
	getCalls int
}

func (f *fakeRepo) Get(_ context.Context, id int64) (Product, error) {
	f.getCalls++
	p, ok := f.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (f *fakeRepo) List(_ context.Context, _ int) ([]Product, error) {
	out := make([]Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

type fakeBatchSource struct {
	total   int64
	tracked bool
	calls   int
}

func (f *fakeBatchSource) SumEligible(_ context.Context, _ int64) (int64, bool, error) {
	f.calls++
	return f.total, f.tracked, nil
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestServiceAvailability(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	t.Run("batch tracked product sums active remainders", func(t *testing.T) {
		repo := &fakeRepo{products: map[int64]Product{1: {ID: 1, StockOnHand: 999}}}
		batches := &fakeBatchSource{total: 42, tracked: true}
		svc := NewService(logger, repo, batches, newTestCache(t))

		avail, err := svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, int64(42), avail.Available)
		require.True(t, avail.BatchTracked)
		require.Zero(t, repo.getCalls, "batch tracked lookup must not read the counter")
	})

	t.Run("untracked product falls back to legacy counter", func(t *testing.T) {
		repo := &fakeRepo{products: map[int64]Product{1: {ID: 1, StockOnHand: 17}}}
		batches := &fakeBatchSource{tracked: false}
		svc := NewService(logger, repo, batches, newTestCache(t))

		avail, err := svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, int64(17), avail.Available)
		require.False(t, avail.BatchTracked)
	})

	t.Run("second lookup is served from cache", func(t *testing.T) {
		repo := &fakeRepo{products: map[int64]Product{1: {ID: 1}}}
		batches := &fakeBatchSource{total: 5, tracked: true}
		svc := NewService(logger, repo, batches, newTestCache(t))

		_, err := svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		_, err = svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, 1, batches.calls)
	})

	t.Run("bump invalidates cached figures", func(t *testing.T) {
		repo := &fakeRepo{products: map[int64]Product{1: {ID: 1}}}
		batches := &fakeBatchSource{total: 5, tracked: true}
		svc := NewService(logger, repo, batches, newTestCache(t))

		avail, err := svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, int64(5), avail.Available)

		batches.total = 3
		svc.InvalidateAvailability(context.Background())

		avail, err = svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, int64(3), avail.Available)
		require.Equal(t, 2, batches.calls)
	})

	t.Run("nil cache degrades to direct lookup", func(t *testing.T) {
		repo := &fakeRepo{products: map[int64]Product{1: {ID: 1}}}
		batches := &fakeBatchSource{total: 7, tracked: true}
		svc := NewService(logger, repo, batches, nil)

		avail, err := svc.Availability(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, int64(7), avail.Available)
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
