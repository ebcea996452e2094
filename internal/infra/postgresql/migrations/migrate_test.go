package migrations

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMigrateCreatesSchema(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, Migrate(db))
	// Applied migrations are recorded, so a second run is a no-op.
	require.NoError(t, Migrate(db))

	for _, model := range []any{
		&repository.ClientModel{},
		&repository.DeviceModel{},
		&repository.CommunicationModel{},
		&repository.DeliveryEventModel{},
	} {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
	assert.True(t, db.Migrator().HasIndex(&repository.CommunicationModel{}, "idx_communications_inbox"))
}
