package service

import (
	"context"
	"fmt"
	"time"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/observability"
	"github.com/forumnotify/debounce-engine/internal/repository"
	"github.com/forumnotify/debounce-engine/internal/stream"
	"go.uber.org/zap"
)

const (
	defaultFlushInterval    = time.Minute
	defaultFlushClaimLimit  = 100
	defaultConsumedRetainer = 30 * 24 * time.Hour
)

// DeliveryPipeline is the downstream of the scheduler: it sends the rendered
// descriptors of one claimed batch and returns the number delivered.
type DeliveryPipeline interface {
	Deliver(ctx context.Context, batch domain.PendingBatch, descriptors []domain.Descriptor) int
}

// Metrics is the slice of the observability surface the scheduler reports to.
type Metrics interface {
	IncBatchFlushed(streamName string)
	IncFlushError(streamName string, stage string)
	ObserveFlushDuration(streamName string, duration time.Duration)
}

// FlushScheduler discovers due pending batches and drives each one through
// its consumer and the delivery pipeline. Claiming happens before the
// consumer is invoked and is durable, so a crash between claim and send can
// lose at most one email, never duplicate one.
type FlushScheduler struct {
	batches   repository.PendingBatchRepository
	registry  *stream.Registry
	pipeline  DeliveryPipeline
	events    stream.EventSource
	reporter  observability.ErrorReporter
	logger    *zap.Logger
	metrics   Metrics
	interval  time.Duration
	limit     int
	retention time.Duration
	wake      chan struct{}
	now       func() time.Time
}

func NewFlushScheduler(
	batches repository.PendingBatchRepository,
	registry *stream.Registry,
	pipeline DeliveryPipeline,
	events stream.EventSource,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*FlushScheduler, error) {
	if batches == nil {
		return nil, fmt.Errorf("pending batch repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("stream registry is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("delivery pipeline is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if limit <= 0 {
		limit = defaultFlushClaimLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FlushScheduler{
		batches:   batches,
		registry:  registry,
		pipeline:  pipeline,
		events:    events,
		reporter:  observability.NopReporter{},
		logger:    logger,
		interval:  interval,
		limit:     limit,
		retention: defaultConsumedRetainer,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}, nil
}

// SetReporter installs the operator error channel.
func (s *FlushScheduler) SetReporter(reporter observability.ErrorReporter) {
	if reporter != nil {
		s.reporter = reporter
	}
}

// SetMetrics installs the metrics sink.
func (s *FlushScheduler) SetMetrics(metrics Metrics) {
	s.metrics = metrics
}

// Wake asks the scheduler to scan ahead of the next tick. Used by the
// debouncer for Immediate streams; never blocks.
func (s *FlushScheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the flush loop until context cancellation. Failures local to one
// batch or one descriptor never escape the loop.
func (s *FlushScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Resume immediately from persisted due times, so batches that came due
	// while the process was down flush on startup rather than a tick later.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("flush scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-ticker.C:
		}

		if err := s.scanDue(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("flush scheduler scan failed", zap.Error(err))
		}
	}
}

func (s *FlushScheduler) scanDue(ctx context.Context) error {
	now := s.now().UTC()

	claimed, err := s.batches.ClaimDue(ctx, now, s.limit)
	if err != nil {
		return fmt.Errorf("failed to claim due batches: %w", err)
	}

	for i := range claimed {
		s.processBatch(ctx, claimed[i])
	}

	if deleted, err := s.batches.DeleteConsumedBefore(ctx, now.Add(-s.retention)); err != nil {
		s.logger.Warn("failed to garbage-collect consumed batches", zap.Error(err))
	} else if deleted > 0 {
		s.logger.Debug("garbage-collected consumed batches", zap.Int64("count", deleted))
	}

	return nil
}

// ForceFlush claims and processes the open batch for one key regardless of
// its due time, without disturbing the timers of other keys.
func (s *FlushScheduler) ForceFlush(ctx context.Context, streamName string, grouping map[string]string) error {
	cfg, err := s.registry.Lookup(streamName)
	if err != nil {
		return err
	}

	key, err := domain.NewDebounceKey(cfg.Name, grouping)
	if err != nil {
		return err
	}

	batch, err := s.batches.ClaimByIdentity(ctx, key.Identity())
	if err != nil {
		return err
	}

	s.processBatch(ctx, *batch)
	return nil
}

// processBatch drives one claimed batch through its consumer and the
// delivery pipeline. The batch is already consumed; nothing here retries the
// claim or reopens the batch.
func (s *FlushScheduler) processBatch(ctx context.Context, batch domain.PendingBatch) {
	flushStart := s.now()

	if len(batch.EventIDs) == 0 {
		// Unreachable while the open-batch invariant holds. Log loudly,
		// keep the loop running.
		err := fmt.Errorf("%w: claimed batch %s has no events", domain.ErrEmptyBatch, batch.ID)
		s.logger.Error("internal consistency fault",
			zap.String("stream", batch.StreamName),
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		s.reporter.CaptureError(ctx, err, map[string]string{"stream": batch.StreamName, "batchId": batch.ID})
		if s.metrics != nil {
			s.metrics.IncFlushError(batch.StreamName, "empty_batch")
		}
		return
	}

	cfg, err := s.registry.Lookup(batch.StreamName)
	if err != nil {
		// A persisted batch for a stream no longer configured. The claim stands;
		// surface it for manual inspection.
		s.reporter.CaptureError(ctx, err, map[string]string{"stream": batch.StreamName, "batchId": batch.ID})
		if s.metrics != nil {
			s.metrics.IncFlushError(batch.StreamName, "unknown_stream")
		}
		return
	}

	descriptors, renderErr := cfg.Consumer.RenderBatch(ctx, batch.Grouping, batch.EventIDs)
	if renderErr != nil {
		// The batch stays claimed: re-running the consumer risks duplicate
		// partial sends. Descriptors produced before the failure still go out.
		s.reporter.CaptureError(ctx, fmt.Errorf("consumer render failed: %w", renderErr), map[string]string{
			"stream":  batch.StreamName,
			"batchId": batch.ID,
		})
		if s.metrics != nil {
			s.metrics.IncFlushError(batch.StreamName, "render")
		}
		s.logger.Error("consumer render failed",
			zap.String("stream", batch.StreamName),
			zap.String("batchId", batch.ID),
			zap.Error(renderErr),
		)
	}

	sent := 0
	if len(descriptors) > 0 {
		sent = s.pipeline.Deliver(ctx, batch, descriptors)
	}

	if err := s.events.MarkDelivered(ctx, batch.EventIDs); err != nil {
		s.reporter.CaptureError(ctx, fmt.Errorf("failed to clear pending markers: %w", err), map[string]string{
			"stream":  batch.StreamName,
			"batchId": batch.ID,
		})
	}

	if s.metrics != nil {
		s.metrics.IncBatchFlushed(batch.StreamName)
		s.metrics.ObserveFlushDuration(batch.StreamName, s.now().Sub(flushStart))
	}

	s.logger.Info("batch flushed",
		zap.String("stream", batch.StreamName),
		zap.String("batchId", batch.ID),
		zap.Int("events", len(batch.EventIDs)),
		zap.Int("descriptors", len(descriptors)),
		zap.Int("delivered", sent),
	)
}
