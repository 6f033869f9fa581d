package stream

import (
	"context"

	"github.com/forumnotify/debounce-engine/internal/domain"
)

// Consumer turns a claimed batch into renderable message descriptors. It is
// implemented once per notification type, outside the engine core.
//
// A combinable consumer summarizes every event in the batch into a single
// descriptor; a non-combinable one produces an independent descriptor per
// event id. The scheduler is agnostic to the shape.
type Consumer interface {
	RenderBatch(ctx context.Context, grouping map[string]string, eventIDs []string) ([]domain.Descriptor, error)
	Combinable() bool
}

// RawEvent is the slice of a stored notification record the reference
// consumers need for rendering. The engine itself never reads payloads, only
// ids.
type RawEvent struct {
	ID         string
	StreamName string
	Grouping   map[string]string
	Subject    string
	Summary    string
}

// EventSource is the external store holding raw notification records. Lookup
// preserves the order of the requested ids; MarkDelivered clears the per-event
// "waiting for a batch" marker once a batch is finalized.
type EventSource interface {
	Lookup(ctx context.Context, eventIDs []string) ([]RawEvent, error)
	MarkDelivered(ctx context.Context, eventIDs []string) error
}
