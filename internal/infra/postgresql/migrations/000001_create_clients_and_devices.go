package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/courier/internal/repository"
	"gorm.io/gorm"
)

func createClientsAndDevicesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_clients_and_devices",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ClientModel{}, &repository.DeviceModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_clients_created_at ON clients (created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeviceModel{}, &repository.ClientModel{})
		},
	}
}
