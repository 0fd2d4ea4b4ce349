package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/products"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpirySweep retires past-expiry batches nightly.
	TaskExpirySweep = "batch:expiry_sweep"
	// TaskExpiryAlert reports batches expiring soon.
	TaskExpiryAlert = "batch:expiry_alert"
)

// ExpirySweepPayload carries scheduling metadata.
type ExpirySweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ExpiryAlertPayload bounds the look-ahead window.
type ExpiryAlertPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewExpirySweepTask constructs an Asynq task for the nightly sweep.
func NewExpirySweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault)), nil
}

// NewExpiryAlertTask constructs an Asynq task for the expiry look-ahead.
func NewExpiryAlertTask(window time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryAlertPayload{WindowHours: int(window.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryAlert, body, asynq.Queue(QueueDefault)), nil
}

// Sweeper is the slice of the batch service the jobs need.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
	ExpiringWithin(ctx context.Context, window time.Duration) ([]batch.Batch, error)
}

// Catalog resolves product names for alert output.
type Catalog interface {
	Get(ctx context.Context, id int64) (products.Product, error)
}

// BatchJobs holds the handlers for batch maintenance tasks.
type BatchJobs struct {
	logger  *slog.Logger
	sweeper Sweeper
	catalog Catalog
}

// NewBatchJobs constructs the batch task handlers.
func NewBatchJobs(logger *slog.Logger, sweeper Sweeper, catalog Catalog) *BatchJobs {
	return &BatchJobs{logger: logger, sweeper: sweeper, catalog: catalog}
}

// HandleExpirySweep processes TaskExpirySweep tasks.
func (j *BatchJobs) HandleExpirySweep(ctx context.Context, t *asynq.Task) error {
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retired, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("expiry sweep finished",
		slog.Int("retired", retired),
		slog.Time("scheduled_for", payload.ScheduledFor))
	return nil
}

// HandleExpiryAlert processes TaskExpiryAlert tasks: lists batches expiring
// inside the window and logs one line per batch with the product name
// resolved concurrently.
func (j *BatchJobs) HandleExpiryAlert(ctx context.Context, t *asynq.Task) error {
	var payload ExpiryAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	window := time.Duration(payload.WindowHours) * time.Hour
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}

	expiring, err := j.sweeper.ExpiringWithin(ctx, window)
	if err != nil {
		return err
	}

	names := make([]string, len(expiring))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, b := range expiring {
		g.Go(func() error {
			product, err := j.catalog.Get(gctx, b.ProductID)
			if err != nil {
				names[i] = "unknown"
				return nil
			}
			names[i] = product.Name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, b := range expiring {
		j.logger.Warn("batch expiring soon",
			slog.Int64("batch_id", b.ID),
			slog.String("product", names[i]),
			slog.Int64("remaining_qty", b.RemainingQty),
			slog.Time("expiry_date", *b.ExpiryDate))
	}
	return nil
}
