package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forumnotify/debounce-engine/internal/delivery"
	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/stream"
	"go.uber.org/zap"
)

type fakePostRenderer struct {
	renderFn func(ctx context.Context, postID string) (domain.Descriptor, error)
}

func (f *fakePostRenderer) RenderPost(ctx context.Context, postID string) (domain.Descriptor, error) {
	if f.renderFn != nil {
		return f.renderFn(ctx, postID)
	}
	return domain.Descriptor{Subject: "Post " + postID, Body: "post body"}, nil
}

type previewEventSource struct {
	records []stream.RawEvent
}

func (f *previewEventSource) Lookup(ctx context.Context, eventIDs []string) ([]stream.RawEvent, error) {
	var out []stream.RawEvent
	for _, id := range eventIDs {
		for _, record := range f.records {
			if record.ID == id {
				out = append(out, record)
			}
		}
	}
	return out, nil
}

func (f *previewEventSource) MarkDelivered(ctx context.Context, eventIDs []string) error {
	return errors.New("preview must not mark anything delivered")
}

func newTestPreviewService(t *testing.T, events stream.EventSource) *PreviewService {
	t.Helper()

	registry, err := stream.NewRegistry(stream.Config{
		Name:       "replyNotification",
		Policy:     domain.DelayedBy(15 * time.Minute),
		Consumer:   &countingConsumer{combinable: true},
		Combinable: true,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	linker, err := delivery.NewHMACUnsubscribeLinker("https://forum.example.com", "secret")
	if err != nil {
		t.Fatalf("NewHMACUnsubscribeLinker() error = %v", err)
	}
	envelope, err := delivery.NewEnvelope("Example Forum", linker)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	svc, err := NewPreviewService(registry, events, envelope, &fakePostRenderer{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPreviewService() error = %v", err)
	}
	return svc
}

func adminViewer() delivery.Recipient {
	return delivery.Recipient{UserID: "admin", Email: "admin@example.com"}
}

func TestPreviewRejectsBothSelectors(t *testing.T) {
	t.Parallel()

	svc := newTestPreviewService(t, &previewEventSource{})
	_, err := svc.Preview(context.Background(), adminViewer(), PreviewQuery{
		NotificationIDs: []string{"e1"},
		PostID:          "p1",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Preview(both selectors) error = %v, want ErrValidation", err)
	}
}

func TestPreviewRejectsNeitherSelector(t *testing.T) {
	t.Parallel()

	svc := newTestPreviewService(t, &previewEventSource{})
	_, err := svc.Preview(context.Background(), adminViewer(), PreviewQuery{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Preview(no selector) error = %v, want ErrValidation", err)
	}
}

func TestPreviewRendersNotificationBatch(t *testing.T) {
	t.Parallel()

	events := &previewEventSource{records: []stream.RawEvent{
		{ID: "e1", StreamName: "replyNotification", Grouping: map[string]string{"user": "u1"}, Subject: "s1", Summary: "sum1"},
		{ID: "e2", StreamName: "replyNotification", Grouping: map[string]string{"user": "u1"}, Subject: "s2", Summary: "sum2"},
	}}
	svc := newTestPreviewService(t, events)

	previews, err := svc.Preview(context.Background(), adminViewer(), PreviewQuery{
		NotificationIDs: []string{"e1", "e2"},
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if len(previews) != 1 {
		t.Fatalf("preview count = %d, want 1 from combinable consumer", len(previews))
	}
	if previews[0].To != "admin@example.com" {
		t.Fatalf("To = %q, want viewer address", previews[0].To)
	}
	if !strings.Contains(previews[0].Body, "unsubscribe-all") {
		t.Fatalf("preview body missing envelope footer: %q", previews[0].Body)
	}
}

func TestPreviewRejectsMixedStreams(t *testing.T) {
	t.Parallel()

	events := &previewEventSource{records: []stream.RawEvent{
		{ID: "e1", StreamName: "replyNotification", Subject: "s1"},
		{ID: "e2", StreamName: "newPost", Subject: "s2"},
	}}
	svc := newTestPreviewService(t, events)

	_, err := svc.Preview(context.Background(), adminViewer(), PreviewQuery{
		NotificationIDs: []string{"e1", "e2"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Preview(mixed streams) error = %v, want ErrValidation", err)
	}
}

func TestPreviewRendersPost(t *testing.T) {
	t.Parallel()

	svc := newTestPreviewService(t, &previewEventSource{})
	previews, err := svc.Preview(context.Background(), adminViewer(), PreviewQuery{PostID: "p1"})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if len(previews) != 1 {
		t.Fatalf("preview count = %d, want 1", len(previews))
	}
	if previews[0].Subject != "Post p1" {
		t.Fatalf("Subject = %q, want rendered post subject", previews[0].Subject)
	}
}

func TestPreviewUnknownNotificationIDs(t *testing.T) {
	t.Parallel()

	svc := newTestPreviewService(t, &previewEventSource{})
	_, err := svc.Preview(context.Background(), adminViewer(), PreviewQuery{
		NotificationIDs: []string{"missing"},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Preview(unknown ids) error = %v, want ErrNotFound", err)
	}
}
