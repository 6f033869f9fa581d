package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forumnotify/debounce-engine/internal/domain"
)

// JSONMap stores grouping fields as a jsonb column.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}

	return json.Unmarshal(data, m)
}

// JSONStringList stores an ordered list of event ids as a jsonb column.
// Insertion order is the array order.
type JSONStringList []string

func (l JSONStringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *JSONStringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}

	return json.Unmarshal(data, l)
}

// PendingBatchModel is the persistence model for the pending_batches table.
type PendingBatchModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	KeyIdentity string         `gorm:"type:varchar(512);not null"`
	StreamName  string         `gorm:"type:varchar(128);not null"`
	Grouping    JSONMap        `gorm:"type:jsonb;not null"`
	EventIDs    JSONStringList `gorm:"type:jsonb;not null"`
	DueAt       time.Time      `gorm:"type:timestamptz;not null"`
	Consumed    bool           `gorm:"not null;default:false"`
	ConsumedAt  *time.Time     `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PendingBatchModel) TableName() string {
	return "pending_batches"
}

// DeliveryRecordModel is the persistence model for the delivery_log table.
type DeliveryRecordModel struct {
	ID               string                `gorm:"type:uuid;primaryKey"`
	BatchID          string                `gorm:"type:uuid;not null"`
	DescriptorIndex  int                   `gorm:"not null"`
	Recipient        string                `gorm:"type:varchar(255);not null"`
	Subject          string                `gorm:"type:text;not null"`
	IdempotencyToken string                `gorm:"type:varchar(64);not null"`
	Status           domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	Error            *string               `gorm:"type:text"`
	CreatedAt        time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_log"
}

func batchModelFromDomain(b *domain.PendingBatch) *PendingBatchModel {
	if b == nil {
		return nil
	}

	return &PendingBatchModel{
		ID:          b.ID,
		KeyIdentity: b.KeyIdentity,
		StreamName:  b.StreamName,
		Grouping:    JSONMap(b.Grouping),
		EventIDs:    JSONStringList(b.EventIDs),
		DueAt:       b.DueAt,
		Consumed:    b.Consumed,
		ConsumedAt:  b.ConsumedAt,
		CreatedAt:   b.CreatedAt,
	}
}

func batchModelToDomain(m *PendingBatchModel) *domain.PendingBatch {
	if m == nil {
		return nil
	}

	return &domain.PendingBatch{
		ID:          m.ID,
		KeyIdentity: m.KeyIdentity,
		StreamName:  m.StreamName,
		Grouping:    map[string]string(m.Grouping),
		EventIDs:    []string(m.EventIDs),
		DueAt:       m.DueAt,
		Consumed:    m.Consumed,
		ConsumedAt:  m.ConsumedAt,
		CreatedAt:   m.CreatedAt,
	}
}

func deliveryModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}

	return &DeliveryRecordModel{
		ID:               r.ID,
		BatchID:          r.BatchID,
		DescriptorIndex:  r.DescriptorIndex,
		Recipient:        r.Recipient,
		Subject:          r.Subject,
		IdempotencyToken: r.IdempotencyToken,
		Status:           r.Status,
		Error:            r.Error,
		CreatedAt:        r.CreatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:               m.ID,
		BatchID:          m.BatchID,
		DescriptorIndex:  m.DescriptorIndex,
		Recipient:        m.Recipient,
		Subject:          m.Subject,
		IdempotencyToken: m.IdempotencyToken,
		Status:           m.Status,
		Error:            m.Error,
		CreatedAt:        m.CreatedAt,
	}
}
