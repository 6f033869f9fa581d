package debouncer

import (
	"context"
	"fmt"
	"time"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/repository"
	"github.com/forumnotify/debounce-engine/internal/stream"
	"go.uber.org/zap"
)

// Debouncer registers discrete events under debounce keys. It validates the
// stream, computes the due time for fresh batches from the stream's timing
// policy, and upserts the pending-batch store. It never blocks on consumer
// execution; flushing is the scheduler's job.
type Debouncer struct {
	registry *stream.Registry
	batches  repository.PendingBatchRepository
	logger   *zap.Logger
	metrics  Metrics
	wake     func()
	now      func() time.Time
}

// Metrics is the slice of the observability surface the debouncer reports to.
type Metrics interface {
	IncEventRegistered(streamName string)
	IncBatchOpened(streamName string)
}

func New(
	registry *stream.Registry,
	batches repository.PendingBatchRepository,
	logger *zap.Logger,
) (*Debouncer, error) {
	if registry == nil {
		return nil, fmt.Errorf("stream registry is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("pending batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Debouncer{
		registry: registry,
		batches:  batches,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetWake installs the scheduler wake callback used for Immediate streams.
func (d *Debouncer) SetWake(wake func()) {
	d.wake = wake
}

// SetMetrics installs the metrics sink.
func (d *Debouncer) SetMetrics(metrics Metrics) {
	d.metrics = metrics
}

// Register records eventID under the debounce key derived from streamName and
// grouping. Re-registering the same (key, eventID) pair is a no-op. The due
// time of an already-open batch is never pushed back, so a continuously
// active key still flushes within one policy window.
func (d *Debouncer) Register(ctx context.Context, streamName string, grouping map[string]string, eventID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}

	cfg, err := d.registry.Lookup(streamName)
	if err != nil {
		return err
	}

	key, err := domain.NewDebounceKey(cfg.Name, grouping)
	if err != nil {
		return err
	}

	dueAt := cfg.Policy.ComputeDueAt(d.now().UTC())
	created, err := d.batches.AppendEvent(ctx, key, eventID, dueAt)
	if err != nil {
		return fmt.Errorf("failed to upsert pending batch: %w", err)
	}

	if d.metrics != nil {
		d.metrics.IncEventRegistered(cfg.Name)
		if created {
			d.metrics.IncBatchOpened(cfg.Name)
		}
	}

	d.logger.Debug("event registered",
		zap.String("stream", cfg.Name),
		zap.String("key", key.Identity()),
		zap.String("eventId", eventID),
		zap.Bool("newBatch", created),
	)

	if cfg.Policy.Kind == domain.PolicyImmediate && d.wake != nil {
		d.wake()
	}

	return nil
}
