package migrations

import (
	"github.com/forumnotify/debounce-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_pending_batches",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.PendingBatchModel{}); err != nil {
					return err
				}
				indexes := []string{
					// One open batch per debounce key; upserts race on the row lock,
					// this index backstops the invariant.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_batches_open_key ON pending_batches (key_identity) WHERE consumed = false`,
					`CREATE INDEX IF NOT EXISTS idx_pending_batches_due ON pending_batches (due_at) WHERE consumed = false`,
					`CREATE INDEX IF NOT EXISTS idx_pending_batches_consumed_at ON pending_batches (consumed_at) WHERE consumed = true`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PendingBatchModel{})
			},
		},
		{
			ID: "000002_create_delivery_log",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryRecordModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_log_sent_token ON delivery_log (idempotency_token) WHERE status = 'SENT'`,
					`CREATE INDEX IF NOT EXISTS idx_delivery_log_batch_id ON delivery_log (batch_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
			},
		},
	})

	return m.Migrate()
}
