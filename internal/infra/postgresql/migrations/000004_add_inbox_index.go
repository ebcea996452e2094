package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addInboxIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_inbox_index",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_communications_inbox ON communications (occurred_at) WHERE direction = 'INBOUND' AND status = 'NEW'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_communications_inbox`,
			})
		},
	}
}
