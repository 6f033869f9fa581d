package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/forumnotify/debounce-engine/internal/delivery"
	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/stream"
	"go.uber.org/zap"
)

// PostRenderer renders a single content page (post) into a message
// descriptor. External collaborator, used only by the admin preview.
type PostRenderer interface {
	RenderPost(ctx context.Context, postID string) (domain.Descriptor, error)
}

// PreviewQuery selects what to preview: stored notification events or one
// content source. Exactly one selector must be set.
type PreviewQuery struct {
	NotificationIDs []string
	PostID          string
}

// RenderedPreview is one would-be email, fully wrapped, never sent.
type RenderedPreview struct {
	To      string
	Subject string
	Body    string
}

// PreviewService synthesizes the messages a batch would produce without
// registering or flushing anything. Debug surface for privileged callers.
type PreviewService struct {
	registry *stream.Registry
	events   stream.EventSource
	envelope *delivery.Envelope
	posts    PostRenderer
	logger   *zap.Logger
}

func NewPreviewService(
	registry *stream.Registry,
	events stream.EventSource,
	envelope *delivery.Envelope,
	posts PostRenderer,
	logger *zap.Logger,
) (*PreviewService, error) {
	if registry == nil {
		return nil, fmt.Errorf("stream registry is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if envelope == nil {
		return nil, fmt.Errorf("envelope is required")
	}
	if posts == nil {
		return nil, fmt.Errorf("post renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PreviewService{
		registry: registry,
		events:   events,
		envelope: envelope,
		posts:    posts,
		logger:   logger,
	}, nil
}

// Preview renders the query for viewer. It has no side effects: no batch is
// claimed, no delivery-log entry is written, nothing is sent.
func (s *PreviewService) Preview(ctx context.Context, viewer delivery.Recipient, query PreviewQuery) ([]RenderedPreview, error) {
	hasNotifications := len(query.NotificationIDs) > 0
	hasPost := strings.TrimSpace(query.PostID) != ""

	if hasNotifications && hasPost {
		return nil, fmt.Errorf("%w: specify only one of notificationIds or postId", domain.ErrValidation)
	}
	if !hasNotifications && !hasPost {
		return nil, fmt.Errorf("%w: specify notificationIds or postId", domain.ErrValidation)
	}

	var descriptors []domain.Descriptor
	if hasNotifications {
		rendered, err := s.renderNotifications(ctx, query.NotificationIDs)
		if err != nil {
			return nil, err
		}
		descriptors = rendered
	} else {
		descriptor, err := s.posts.RenderPost(ctx, strings.TrimSpace(query.PostID))
		if err != nil {
			return nil, fmt.Errorf("failed to render post: %w", err)
		}
		descriptors = []domain.Descriptor{descriptor}
	}

	previews := make([]RenderedPreview, 0, len(descriptors))
	for _, descriptor := range descriptors {
		email, err := s.envelope.Wrap(viewer, descriptor)
		if err != nil {
			return nil, err
		}
		previews = append(previews, RenderedPreview{
			To:      email.To,
			Subject: email.Subject,
			Body:    email.Body,
		})
	}

	return previews, nil
}

func (s *PreviewService) renderNotifications(ctx context.Context, notificationIDs []string) ([]domain.Descriptor, error) {
	records, err := s.events.Lookup(ctx, notificationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no notifications for ids %v", domain.ErrNotFound, notificationIDs)
	}

	// All previewed notifications must share one stream, mirroring the batch
	// invariant the flush path relies on.
	streamName := records[0].StreamName
	ids := make([]string, 0, len(records))
	for _, record := range records {
		if record.StreamName != streamName {
			return nil, fmt.Errorf("%w: notifications span streams %q and %q", domain.ErrValidation, streamName, record.StreamName)
		}
		ids = append(ids, record.ID)
	}

	cfg, err := s.registry.Lookup(streamName)
	if err != nil {
		return nil, err
	}

	descriptors, err := cfg.Consumer.RenderBatch(ctx, records[0].Grouping, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to render preview batch: %w", err)
	}
	return descriptors, nil
}
