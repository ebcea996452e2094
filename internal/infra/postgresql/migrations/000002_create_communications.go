package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/courier/internal/repository"
	"gorm.io/gorm"
)

func createCommunicationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_communications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CommunicationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_communications_client_direction_occurred ON communications (client_id, direction, occurred_at)`,
				`CREATE INDEX IF NOT EXISTS idx_communications_client_id ON communications (client_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CommunicationModel{})
		},
	}
}
