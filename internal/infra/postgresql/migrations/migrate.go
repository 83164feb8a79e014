package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/salesops/notify-relay/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createNotificationsTable(),
	})

	return m.Migrate()
}

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Dedupe key is unique only while the row is live; a FAILED
				// row releases the key so the event can be re-raised.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedupe_key ON notifications (dedupe_key) WHERE dedupe_key IS NOT NULL AND status IN ('PENDING','SENDING','SENT')`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (scheduled_for) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_stale ON notifications (updated_at) WHERE status = 'SENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_status_type_created ON notifications (status, type, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
