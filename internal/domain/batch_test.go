package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPendingBatchAppendEventIsIdempotent(t *testing.T) {
	t.Parallel()

	batch := &PendingBatch{
		KeyIdentity: "replyNotification|user=u1",
		StreamName:  "replyNotification",
	}

	batch.AppendEvent("e1")
	batch.AppendEvent("e2")
	batch.AppendEvent("e1")

	if len(batch.EventIDs) != 2 {
		t.Fatalf("len(EventIDs) = %d, want 2", len(batch.EventIDs))
	}
	if batch.EventIDs[0] != "e1" || batch.EventIDs[1] != "e2" {
		t.Fatalf("EventIDs = %v, want insertion order [e1 e2]", batch.EventIDs)
	}
}

func TestPendingBatchValidateRejectsEmptyOpenBatch(t *testing.T) {
	t.Parallel()

	batch := &PendingBatch{
		KeyIdentity: "replyNotification|user=u1",
		StreamName:  "replyNotification",
	}

	if err := batch.Validate(); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("Validate() error = %v, want ErrEmptyBatch", err)
	}

	batch.AppendEvent("e1")
	if err := batch.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestPendingBatchIsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	batch := &PendingBatch{
		KeyIdentity: "k",
		StreamName:  "s",
		EventIDs:    []string{"e1"},
		DueAt:       now,
	}

	if !batch.IsDue(now) {
		t.Fatal("IsDue(now) = false, want true at exact due time")
	}
	if batch.IsDue(now.Add(-time.Second)) {
		t.Fatal("IsDue(before due) = true, want false")
	}

	batch.Consumed = true
	if batch.IsDue(now.Add(time.Hour)) {
		t.Fatal("IsDue() = true for consumed batch, want false")
	}
}
