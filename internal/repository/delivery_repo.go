package repository

import (
	"context"
	"errors"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"gorm.io/gorm"
)

// DeliveryLogRepository is the append-only delivery audit log. Entries are
// keyed by idempotency token so a manual replay can be detected before the
// transport call.
type DeliveryLogRepository interface {
	Create(ctx context.Context, record *domain.DeliveryRecord) error
	SentTokenExists(ctx context.Context, token string) (bool, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.DeliveryRecord, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, record *domain.DeliveryRecord) error {
	model := deliveryModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryLogRepo) SentTokenExists(ctx context.Context, token string) (bool, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("idempotency_token = ? AND status = ?", token, domain.DeliverySent).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *GormDeliveryLogRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("descriptor_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records, nil
}
