package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(context.Background(), db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Migrate(db))

	for _, model := range []any{
		&models.User{},
		&models.ConfirmationRequest{},
		&models.DoctorPatientLink{},
		&models.TicEvent{},
		&models.AuditLog{},
		&models.CacheEntry{},
	} {
		require.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestActiveKeyUniqueIndexAllowsNulls(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	key := models.IntentKey("D1", "P1")
	first := models.ConfirmationRequest{DoctorID: "D1", PatientID: "P1", PatientEmail: "p@x.com", State: models.ConfirmationPending, ActiveKey: &key}
	require.NoError(t, db.Create(&first).Error)

	dup := models.ConfirmationRequest{DoctorID: "D1", PatientID: "P1", PatientEmail: "p@x.com", State: models.ConfirmationPending, ActiveKey: &key}
	require.Error(t, db.Create(&dup).Error)

	for i := 0; i < 2; i++ {
		done := models.ConfirmationRequest{DoctorID: "D1", PatientID: "P1", PatientEmail: "p@x.com", State: models.ConfirmationConfirmed}
		require.NoError(t, db.Create(&done).Error)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = Close(db)
	})

	return db
}
