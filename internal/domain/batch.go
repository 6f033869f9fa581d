package domain

import (
	"fmt"
	"time"
)

// PendingBatch accumulates event ids for one debounce key until it is claimed
// by the flush scheduler. At most one open (unconsumed) batch exists per key.
type PendingBatch struct {
	ID          string
	KeyIdentity string
	StreamName  string
	Grouping    map[string]string
	EventIDs    []string
	DueAt       time.Time
	CreatedAt   time.Time
	Consumed    bool
	ConsumedAt  *time.Time
}

func (b *PendingBatch) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", ErrValidation)
	}
	if b.KeyIdentity == "" {
		return fmt.Errorf("%w: key identity is required", ErrValidation)
	}
	if b.StreamName == "" {
		return fmt.Errorf("%w: stream name is required", ErrValidation)
	}
	if !b.Consumed && len(b.EventIDs) == 0 {
		return fmt.Errorf("%w: open batch must hold at least one event", ErrEmptyBatch)
	}
	return nil
}

// HasEvent reports whether eventID is already part of the batch.
func (b *PendingBatch) HasEvent(eventID string) bool {
	for _, id := range b.EventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// AppendEvent adds eventID preserving insertion order. Re-registering an id
// already in the batch is a no-op.
func (b *PendingBatch) AppendEvent(eventID string) {
	if b.HasEvent(eventID) {
		return
	}
	b.EventIDs = append(b.EventIDs, eventID)
}

// IsDue reports whether the batch should be claimed at now.
func (b *PendingBatch) IsDue(now time.Time) bool {
	return !b.Consumed && !b.DueAt.After(now)
}
