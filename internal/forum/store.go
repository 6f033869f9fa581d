package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/forumnotify/debounce-engine/internal/delivery"
	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/repository"
	"github.com/forumnotify/debounce-engine/internal/stream"
)

// NotificationModel maps the forum-owned notifications table. The engine only
// reads these rows and clears their pending marker; the forum application
// creates them.
type NotificationModel struct {
	ID           string             `gorm:"type:uuid;primaryKey"`
	StreamName   string             `gorm:"type:varchar(128);not null"`
	Grouping     repository.JSONMap `gorm:"type:jsonb;not null"`
	Subject      string             `gorm:"type:text;not null"`
	Summary      string             `gorm:"type:text;not null"`
	EmailPending bool               `gorm:"not null;default:true"`
	DeliveredAt  *time.Time         `gorm:"type:timestamptz"`
	CreatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// UserModel maps the forum-owned users table.
type UserModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Email       string `gorm:"type:varchar(255);not null"`
	DisplayName string `gorm:"type:varchar(255)"`
}

func (UserModel) TableName() string {
	return "users"
}

// PostModel maps the forum-owned posts table.
type PostModel struct {
	ID      string `gorm:"type:uuid;primaryKey"`
	Title   string `gorm:"type:text;not null"`
	Summary string `gorm:"type:text"`
}

func (PostModel) TableName() string {
	return "posts"
}

// Store adapts the forum's own tables to the engine ports: it is the event
// source for consumers, the recipient resolver for delivery, and the post
// renderer for the admin preview.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Lookup loads notification records preserving the order of the requested
// ids. Unknown ids are silently absent from the result.
func (s *Store) Lookup(ctx context.Context, eventIDs []string) ([]stream.RawEvent, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	var models []NotificationModel
	if err := s.db.WithContext(ctx).Where("id IN ?", eventIDs).Find(&models).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*NotificationModel, len(models))
	for i := range models {
		byID[models[i].ID] = &models[i]
	}

	events := make([]stream.RawEvent, 0, len(models))
	for _, id := range eventIDs {
		model, ok := byID[id]
		if !ok {
			continue
		}
		events = append(events, stream.RawEvent{
			ID:         model.ID,
			StreamName: model.StreamName,
			Grouping:   map[string]string(model.Grouping),
			Subject:    model.Subject,
			Summary:    model.Summary,
		})
	}
	return events, nil
}

// MarkDelivered clears the pending marker on the given notifications so the
// forum stops counting them toward a future batch.
func (s *Store) MarkDelivered(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	deliveredAt := s.now().UTC()
	return s.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id IN ?", eventIDs).
		Updates(map[string]any{
			"email_pending": false,
			"delivered_at":  deliveredAt,
		}).Error
}

// Resolve maps a debounce-key grouping to the user it addresses. Every
// configured stream groups by the "user" field.
func (s *Store) Resolve(ctx context.Context, grouping map[string]string) (delivery.Recipient, error) {
	userID := grouping["user"]
	if userID == "" {
		return delivery.Recipient{}, fmt.Errorf("%w: grouping has no user field", domain.ErrValidation)
	}

	var model UserModel
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return delivery.Recipient{}, fmt.Errorf("%w: user %q", domain.ErrNotFound, userID)
	}
	if err != nil {
		return delivery.Recipient{}, err
	}
	if model.Email == "" {
		return delivery.Recipient{}, fmt.Errorf("%w: user %q has no email address", domain.ErrValidation, userID)
	}

	return delivery.Recipient{UserID: model.ID, Email: model.Email}, nil
}

// RenderPost builds a single descriptor from one forum post, for the admin
// preview's post selector.
func (s *Store) RenderPost(ctx context.Context, postID string) (domain.Descriptor, error) {
	var model PostModel
	err := s.db.WithContext(ctx).Where("id = ?", postID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Descriptor{}, fmt.Errorf("%w: post %q", domain.ErrNotFound, postID)
	}
	if err != nil {
		return domain.Descriptor{}, err
	}

	body := model.Summary
	if body == "" {
		body = model.Title
	}
	return domain.Descriptor{
		Subject: model.Title,
		Body:    body,
	}, nil
}
