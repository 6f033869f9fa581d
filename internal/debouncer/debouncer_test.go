package debouncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/stream"
	"go.uber.org/zap"
)

type memoryBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*domain.PendingBatch
	seq     int
}

func newMemoryBatchRepo() *memoryBatchRepo {
	return &memoryBatchRepo{batches: make(map[string]*domain.PendingBatch)}
}

func (r *memoryBatchRepo) AppendEvent(ctx context.Context, key domain.DebounceKey, eventID string, dueAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if batch, ok := r.batches[key.Identity()]; ok && !batch.Consumed {
		batch.AppendEvent(eventID)
		return false, nil
	}

	r.seq++
	r.batches[key.Identity()] = &domain.PendingBatch{
		ID:          key.Identity(),
		KeyIdentity: key.Identity(),
		StreamName:  key.StreamName,
		Grouping:    key.Grouping,
		EventIDs:    []string{eventID},
		DueAt:       dueAt,
		CreatedAt:   time.Now().UTC(),
	}
	return true, nil
}

func (r *memoryBatchRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.PendingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []domain.PendingBatch
	for _, batch := range r.batches {
		if len(claimed) >= limit {
			break
		}
		if batch.IsDue(now) {
			batch.Consumed = true
			claimed = append(claimed, *batch)
		}
	}
	return claimed, nil
}

func (r *memoryBatchRepo) ClaimByIdentity(ctx context.Context, keyIdentity string) (*domain.PendingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[keyIdentity]
	if !ok || batch.Consumed {
		return nil, domain.ErrNotFound
	}
	batch.Consumed = true
	snapshot := *batch
	return &snapshot, nil
}

func (r *memoryBatchRepo) GetOpenByIdentity(ctx context.Context, keyIdentity string) (*domain.PendingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[keyIdentity]
	if !ok || batch.Consumed {
		return nil, domain.ErrNotFound
	}
	snapshot := *batch
	return &snapshot, nil
}

func (r *memoryBatchRepo) DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type staticConsumer struct {
	combinable bool
}

func (c *staticConsumer) Combinable() bool { return c.combinable }

func (c *staticConsumer) RenderBatch(ctx context.Context, grouping map[string]string, eventIDs []string) ([]domain.Descriptor, error) {
	return []domain.Descriptor{{Subject: "s", Body: "b", EventIDs: eventIDs}}, nil
}

func testRegistry(t *testing.T) *stream.Registry {
	t.Helper()
	registry, err := stream.NewRegistry(
		stream.Config{
			Name:       "replyNotification",
			Policy:     domain.DelayedBy(15 * time.Minute),
			Consumer:   &staticConsumer{combinable: true},
			Combinable: true,
		},
		stream.Config{
			Name:       "privateMessage",
			Policy:     domain.Immediate(),
			Consumer:   &staticConsumer{combinable: false},
			Combinable: false,
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return registry
}

func TestRegisterUnknownStream(t *testing.T) {
	t.Parallel()

	d, err := New(testRegistry(t), newMemoryBatchRepo(), zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = d.Register(context.Background(), "curatedDigest", map[string]string{"user": "u1"}, "e1")
	if !errors.Is(err, domain.ErrUnknownStream) {
		t.Fatalf("Register() error = %v, want ErrUnknownStream", err)
	}
}

func TestRegisterAccumulatesDistinctEvents(t *testing.T) {
	t.Parallel()

	repo := newMemoryBatchRepo()
	d, err := New(testRegistry(t), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	grouping := map[string]string{"user": "u1", "type": "reply"}
	for _, id := range []string{"e1", "e2", "e3"} {
		if err := d.Register(context.Background(), "replyNotification", grouping, id); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	key, _ := domain.NewDebounceKey("replyNotification", grouping)
	batch, err := repo.GetOpenByIdentity(context.Background(), key.Identity())
	if err != nil {
		t.Fatalf("GetOpenByIdentity() error = %v", err)
	}
	if len(batch.EventIDs) != 3 {
		t.Fatalf("len(EventIDs) = %d, want 3", len(batch.EventIDs))
	}
}

func TestRegisterIsIdempotentPerEventID(t *testing.T) {
	t.Parallel()

	repo := newMemoryBatchRepo()
	d, err := New(testRegistry(t), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	grouping := map[string]string{"user": "u1"}
	for i := 0; i < 3; i++ {
		if err := d.Register(context.Background(), "replyNotification", grouping, "e1"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	key, _ := domain.NewDebounceKey("replyNotification", grouping)
	batch, err := repo.GetOpenByIdentity(context.Background(), key.Identity())
	if err != nil {
		t.Fatalf("GetOpenByIdentity() error = %v", err)
	}
	if len(batch.EventIDs) != 1 {
		t.Fatalf("len(EventIDs) = %d, want 1 after duplicate registrations", len(batch.EventIDs))
	}
}

func TestRegisterFixedWindowDueTime(t *testing.T) {
	t.Parallel()

	repo := newMemoryBatchRepo()
	d, err := New(testRegistry(t), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	current := start
	d.now = func() time.Time { return current }

	grouping := map[string]string{"user": "u1"}
	if err := d.Register(context.Background(), "replyNotification", grouping, "e1"); err != nil {
		t.Fatalf("Register(e1) error = %v", err)
	}

	// A second event 10 minutes in must not move the window.
	current = start.Add(10 * time.Minute)
	if err := d.Register(context.Background(), "replyNotification", grouping, "e2"); err != nil {
		t.Fatalf("Register(e2) error = %v", err)
	}

	key, _ := domain.NewDebounceKey("replyNotification", grouping)
	batch, err := repo.GetOpenByIdentity(context.Background(), key.Identity())
	if err != nil {
		t.Fatalf("GetOpenByIdentity() error = %v", err)
	}

	want := start.Add(15 * time.Minute)
	if !batch.DueAt.Equal(want) {
		t.Fatalf("DueAt = %s, want fixed window %s", batch.DueAt, want)
	}
}

func TestRegisterConcurrentSameKeyLosesNothing(t *testing.T) {
	t.Parallel()

	repo := newMemoryBatchRepo()
	d, err := New(testRegistry(t), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	grouping := map[string]string{"user": "u1"}
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "e" + string(rune('A'+i%26)) + string(rune('0'+i/26))
			if err := d.Register(context.Background(), "replyNotification", grouping, id); err != nil {
				t.Errorf("Register(%s) error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	key, _ := domain.NewDebounceKey("replyNotification", grouping)
	batch, err := repo.GetOpenByIdentity(context.Background(), key.Identity())
	if err != nil {
		t.Fatalf("GetOpenByIdentity() error = %v", err)
	}

	distinct := make(map[string]struct{}, len(batch.EventIDs))
	for _, id := range batch.EventIDs {
		distinct[id] = struct{}{}
	}
	if len(distinct) != n {
		t.Fatalf("distinct events = %d, want %d (no loss, no duplication)", len(distinct), n)
	}
}

func TestRegisterImmediatePolicyWakesScheduler(t *testing.T) {
	t.Parallel()

	repo := newMemoryBatchRepo()
	d, err := New(testRegistry(t), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	woken := 0
	d.SetWake(func() { woken++ })

	if err := d.Register(context.Background(), "privateMessage", map[string]string{"user": "u1"}, "e1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if woken != 1 {
		t.Fatalf("wake count = %d, want 1 for immediate stream", woken)
	}

	if err := d.Register(context.Background(), "replyNotification", map[string]string{"user": "u1"}, "e2"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if woken != 1 {
		t.Fatalf("wake count = %d, want no wake for delayed stream", woken)
	}
}

func TestRegisterAfterClaimOpensNewBatch(t *testing.T) {
	t.Parallel()

	repo := newMemoryBatchRepo()
	d, err := New(testRegistry(t), repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	grouping := map[string]string{"user": "u1"}
	if err := d.Register(context.Background(), "replyNotification", grouping, "e1"); err != nil {
		t.Fatalf("Register(e1) error = %v", err)
	}

	key, _ := domain.NewDebounceKey("replyNotification", grouping)
	if _, err := repo.ClaimByIdentity(context.Background(), key.Identity()); err != nil {
		t.Fatalf("ClaimByIdentity() error = %v", err)
	}

	// Racing a claim: the late event lands in a fresh batch, never dropped.
	if err := d.Register(context.Background(), "replyNotification", grouping, "e2"); err != nil {
		t.Fatalf("Register(e2) error = %v", err)
	}

	batch, err := repo.GetOpenByIdentity(context.Background(), key.Identity())
	if err != nil {
		t.Fatalf("GetOpenByIdentity() error = %v", err)
	}
	if len(batch.EventIDs) != 1 || batch.EventIDs[0] != "e2" {
		t.Fatalf("new batch EventIDs = %v, want [e2]", batch.EventIDs)
	}
}
