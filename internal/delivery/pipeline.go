package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/observability"
	"github.com/forumnotify/debounce-engine/internal/ratelimit"
	"github.com/forumnotify/debounce-engine/internal/repository"
	"github.com/forumnotify/debounce-engine/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const emailChannel = "email"

// Metrics is the slice of the observability surface the pipeline reports to.
type Metrics interface {
	IncEmailSent(streamName string)
	IncEmailFailed(streamName string, reason string)
	IncEmailSkipped(streamName string)
	ObserveSendDuration(streamName string, duration time.Duration)
}

// Pipeline hands rendered descriptors to the transport: resolve the
// recipient, wrap each descriptor with the envelope, check the idempotency
// token, rate-limit, send, and log the outcome. One descriptor's failure
// never blocks its siblings.
type Pipeline struct {
	recipients  RecipientResolver
	envelope    *Envelope
	mailer      transport.Mailer
	deliveryLog repository.DeliveryLogRepository
	rateLimiter ratelimit.RateLimiter
	reporter    observability.ErrorReporter
	logger      *zap.Logger
	metrics     Metrics
	now         func() time.Time
}

func NewPipeline(
	recipients RecipientResolver,
	envelope *Envelope,
	mailer transport.Mailer,
	deliveryLog repository.DeliveryLogRepository,
	rateLimiter ratelimit.RateLimiter,
	reporter observability.ErrorReporter,
	logger *zap.Logger,
) (*Pipeline, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient resolver is required")
	}
	if envelope == nil {
		return nil, fmt.Errorf("envelope is required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if deliveryLog == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if reporter == nil {
		reporter = observability.NopReporter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		recipients:  recipients,
		envelope:    envelope,
		mailer:      mailer,
		deliveryLog: deliveryLog,
		rateLimiter: rateLimiter,
		reporter:    reporter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// SetMetrics installs the metrics sink.
func (p *Pipeline) SetMetrics(metrics Metrics) {
	p.metrics = metrics
}

// Deliver sends every descriptor of one flushed batch. Failures are isolated
// per descriptor: each is logged, reported, and recorded, and the loop moves
// on. The returned count is the number of successful sends.
func (p *Pipeline) Deliver(
	ctx context.Context,
	batch domain.PendingBatch,
	descriptors []domain.Descriptor,
) int {
	if len(descriptors) == 0 {
		return 0
	}

	recipient, err := p.recipients.Resolve(ctx, batch.Grouping)
	if err != nil {
		p.reporter.CaptureError(ctx, fmt.Errorf("failed to resolve recipient: %w", err), map[string]string{
			"stream":  batch.StreamName,
			"batchId": batch.ID,
		})
		if p.metrics != nil {
			p.metrics.IncEmailFailed(batch.StreamName, "recipient_unresolved")
		}
		return 0
	}

	sent := 0
	for index, descriptor := range descriptors {
		if p.deliverOne(ctx, batch, recipient, index, descriptor) {
			sent++
		}
	}
	return sent
}

func (p *Pipeline) deliverOne(
	ctx context.Context,
	batch domain.PendingBatch,
	recipient Recipient,
	index int,
	descriptor domain.Descriptor,
) bool {
	email, err := p.envelope.Wrap(recipient, descriptor)
	if err != nil {
		p.reportDescriptorFailure(ctx, batch, index, "envelope", err)
		return false
	}

	token := IdempotencyToken(email.To, email.Subject, email.Body)

	alreadySent, err := p.deliveryLog.SentTokenExists(ctx, token)
	if err != nil {
		p.reportDescriptorFailure(ctx, batch, index, "delivery_log", err)
		return false
	}
	if alreadySent {
		p.logger.Info("skipping already-delivered message",
			zap.String("stream", batch.StreamName),
			zap.String("batchId", batch.ID),
			zap.Int("descriptor", index),
		)
		if p.metrics != nil {
			p.metrics.IncEmailSkipped(batch.StreamName)
		}
		return false
	}

	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(ctx, emailChannel); err != nil {
			p.reportDescriptorFailure(ctx, batch, index, "rate_limit", err)
			return false
		}
	}

	sendStart := p.now()
	_, sendErr := p.mailer.Send(ctx, email)
	if p.metrics != nil {
		p.metrics.ObserveSendDuration(batch.StreamName, p.now().Sub(sendStart))
	}

	record := &domain.DeliveryRecord{
		ID:               uuid.NewString(),
		BatchID:          batch.ID,
		DescriptorIndex:  index,
		Recipient:        email.To,
		Subject:          email.Subject,
		IdempotencyToken: token,
		Status:           domain.DeliverySent,
		CreatedAt:        p.now().UTC(),
	}
	if sendErr != nil {
		message := sendErr.Error()
		record.Status = domain.DeliveryFailed
		record.Error = &message
	}

	if err := p.deliveryLog.Create(ctx, record); err != nil {
		// The send outcome stands; a lost audit row is reported, not retried.
		p.reporter.CaptureError(ctx, fmt.Errorf("failed to record delivery: %w", err), map[string]string{
			"stream":  batch.StreamName,
			"batchId": batch.ID,
		})
	}

	if sendErr != nil {
		p.reportDescriptorFailure(ctx, batch, index, "transport", sendErr)
		return false
	}

	if p.metrics != nil {
		p.metrics.IncEmailSent(batch.StreamName)
	}
	p.logger.Info("notification email delivered",
		zap.String("stream", batch.StreamName),
		zap.String("batchId", batch.ID),
		zap.Int("descriptor", index),
		zap.Int("eventCount", len(descriptor.EventIDs)),
	)
	return true
}

func (p *Pipeline) reportDescriptorFailure(ctx context.Context, batch domain.PendingBatch, index int, stage string, err error) {
	p.reporter.CaptureError(ctx, err, map[string]string{
		"stream":     batch.StreamName,
		"batchId":    batch.ID,
		"descriptor": fmt.Sprintf("%d", index),
		"stage":      stage,
	})
	if p.metrics != nil {
		p.metrics.IncEmailFailed(batch.StreamName, stage)
	}
	p.logger.Error("descriptor delivery failed",
		zap.String("stream", batch.StreamName),
		zap.String("batchId", batch.ID),
		zap.Int("descriptor", index),
		zap.String("stage", stage),
		zap.Error(err),
	)
}
