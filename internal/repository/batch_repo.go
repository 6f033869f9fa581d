package repository

import (
	"context"
	"errors"
	"time"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	uniqueViolationCode = "23505"
	appendEventAttempts = 3
)

// isDuplicateKeyError reports whether err is a unique-index violation, either
// translated by gorm or raw from the postgres driver.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// withDuplicateKeyRetry runs fn up to attempts times, retrying only on
// unique-index violations. Any other error returns immediately.
func withDuplicateKeyRetry(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isDuplicateKeyError(err) {
			return err
		}
	}
	return err
}

// PendingBatchRepository is the durable pending-batch store. It is the only
// shared mutable resource of the engine: AppendEvent and the Claim operations
// must be atomic per key so concurrent registrations never lose an event id
// and a batch is claimable exactly once.
type PendingBatchRepository interface {
	// AppendEvent upserts the open batch for key: appends eventID to an existing
	// open batch (set semantics) or creates a fresh batch due at dueAt. Returns
	// whether a new batch was created. The due time of an existing batch is
	// never moved.
	AppendEvent(ctx context.Context, key domain.DebounceKey, eventID string, dueAt time.Time) (bool, error)
	// ClaimDue atomically marks up to limit due open batches consumed and
	// returns their snapshots. A claimed batch is never returned again.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.PendingBatch, error)
	// ClaimByIdentity claims the open batch for one key regardless of its due
	// time. Returns ErrNotFound when no open batch exists.
	ClaimByIdentity(ctx context.Context, keyIdentity string) (*domain.PendingBatch, error)
	// GetOpenByIdentity returns the open batch for a key, or ErrNotFound.
	GetOpenByIdentity(ctx context.Context, keyIdentity string) (*domain.PendingBatch, error)
	// DeleteConsumedBefore garbage-collects consumed batches older than cutoff.
	DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormPendingBatchRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormPendingBatchRepo(db *gorm.DB) *GormPendingBatchRepo {
	return &GormPendingBatchRepo{db: db, now: time.Now}
}

func (r *GormPendingBatchRepo) AppendEvent(ctx context.Context, key domain.DebounceKey, eventID string, dueAt time.Time) (bool, error) {
	created := false

	// Two registrations racing on a fresh key can both see no open row (FOR
	// UPDATE takes no lock on an absent row) and both insert. The partial
	// unique index on open keys rejects the loser, which re-runs and appends
	// to the winner's batch instead of surfacing the violation.
	err := withDuplicateKeyRetry(appendEventAttempts, func() error {
		created = false
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var model PendingBatchModel
			err := tx.
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("key_identity = ? AND consumed = ?", key.Identity(), false).
				First(&model).Error

			if errors.Is(err, gorm.ErrRecordNotFound) {
				// No open batch (or only consumed ones): start a fresh window.
				created = true
				return tx.Create(batchModelFromDomain(&domain.PendingBatch{
					ID:          uuid.NewString(),
					KeyIdentity: key.Identity(),
					StreamName:  key.StreamName,
					Grouping:    key.Grouping,
					EventIDs:    []string{eventID},
					DueAt:       dueAt,
					CreatedAt:   r.now().UTC(),
				})).Error
			}
			if err != nil {
				return err
			}

			for _, id := range model.EventIDs {
				if id == eventID {
					// Idempotent re-registration.
					return nil
				}
			}

			// Fixed-window coalescing: event_ids grows, due_at stays put.
			model.EventIDs = append(model.EventIDs, eventID)
			return tx.Model(&model).Update("event_ids", model.EventIDs).Error
		})
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

func (r *GormPendingBatchRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.PendingBatch, error) {
	if limit <= 0 {
		limit = 100
	}

	var claimed []domain.PendingBatch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []PendingBatchModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("consumed = ? AND due_at <= ?", false, now).
			Order("due_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}

		consumedAt := r.now().UTC()
		err = tx.Model(&PendingBatchModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"consumed":    true,
				"consumed_at": consumedAt,
			}).Error
		if err != nil {
			return err
		}

		claimed = make([]domain.PendingBatch, 0, len(models))
		for i := range models {
			models[i].Consumed = true
			models[i].ConsumedAt = &consumedAt
			claimed = append(claimed, *batchModelToDomain(&models[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *GormPendingBatchRepo) ClaimByIdentity(ctx context.Context, keyIdentity string) (*domain.PendingBatch, error) {
	var claimed *domain.PendingBatch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PendingBatchModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key_identity = ? AND consumed = ?", keyIdentity, false).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		consumedAt := r.now().UTC()
		err = tx.Model(&model).
			Updates(map[string]any{
				"consumed":    true,
				"consumed_at": consumedAt,
			}).Error
		if err != nil {
			return err
		}

		model.Consumed = true
		model.ConsumedAt = &consumedAt
		claimed = batchModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *GormPendingBatchRepo) GetOpenByIdentity(ctx context.Context, keyIdentity string) (*domain.PendingBatch, error) {
	var model PendingBatchModel
	err := r.db.WithContext(ctx).
		Where("key_identity = ? AND consumed = ?", keyIdentity, false).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormPendingBatchRepo) DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("consumed = ? AND consumed_at < ?", true, cutoff).
		Delete(&PendingBatchModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
