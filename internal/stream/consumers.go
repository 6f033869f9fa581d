package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/forumnotify/debounce-engine/internal/domain"
)

// DigestConsumer is the combinable reference consumer: it renders every event
// in the batch into one summary message.
type DigestConsumer struct {
	events  EventSource
	subject string
}

func NewDigestConsumer(events EventSource, subject string) (*DigestConsumer, error) {
	if events == nil {
		return nil, fmt.Errorf("%w: event source is required", domain.ErrValidation)
	}
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: digest subject is required", domain.ErrValidation)
	}
	return &DigestConsumer{events: events, subject: strings.TrimSpace(subject)}, nil
}

func (c *DigestConsumer) Combinable() bool { return true }

func (c *DigestConsumer) RenderBatch(ctx context.Context, grouping map[string]string, eventIDs []string) ([]domain.Descriptor, error) {
	records, err := c.events.Lookup(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for digest: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no stored events for ids %v", domain.ErrNotFound, eventIDs)
	}

	var body strings.Builder
	for _, record := range records {
		body.WriteString("- ")
		body.WriteString(record.Summary)
		body.WriteByte('\n')
	}

	subject := c.subject
	if len(records) > 1 {
		subject = fmt.Sprintf("%s (%d new)", c.subject, len(records))
	}

	return []domain.Descriptor{{
		Subject:  subject,
		Body:     body.String(),
		EventIDs: eventIDs,
	}}, nil
}

// PerEventConsumer is the non-combinable reference consumer: one descriptor
// per event id, each rendered independently.
type PerEventConsumer struct {
	events EventSource
}

func NewPerEventConsumer(events EventSource) (*PerEventConsumer, error) {
	if events == nil {
		return nil, fmt.Errorf("%w: event source is required", domain.ErrValidation)
	}
	return &PerEventConsumer{events: events}, nil
}

func (c *PerEventConsumer) Combinable() bool { return false }

func (c *PerEventConsumer) RenderBatch(ctx context.Context, grouping map[string]string, eventIDs []string) ([]domain.Descriptor, error) {
	records, err := c.events.Lookup(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	descriptors := make([]domain.Descriptor, 0, len(records))
	for _, record := range records {
		descriptors = append(descriptors, domain.Descriptor{
			Subject:  record.Subject,
			Body:     record.Summary,
			EventIDs: []string{record.ID},
		})
	}
	return descriptors, nil
}
