package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/database/testutil"
	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db            *gorm.DB
	confirmations *store.GormConfirmationStore
	directory     *store.GormDirectory
	tics          *store.GormTicStore
	audit         *AuditService
	clock         *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	confirmations, err := store.NewGormConfirmationStore(db)
	require.NoError(t, err)
	directory, err := store.NewGormDirectory(db)
	require.NoError(t, err)
	tics, err := store.NewGormTicStore(db)
	require.NoError(t, err)
	audit, err := NewAuditService(db)
	require.NoError(t, err)

	clock := newTestClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	audit.now = clock.Now

	return &testEnv{
		db:            db,
		confirmations: confirmations,
		directory:     directory,
		tics:          tics,
		audit:         audit,
		clock:         clock,
	}
}

func (e *testEnv) mustCreateUser(t *testing.T, id, email, role string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		DisplayName:  email,
		Role:         role,
		PasswordHash: "unused",
	}
	user.ID = id
	require.NoError(t, e.directory.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) countAudit(t *testing.T, action, result string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.AuditLog{}).
		Where("action = ? AND result = ?", action, result).
		Count(&count).Error)
	return count
}

func (e *testEnv) mustLink(t *testing.T, doctorID, patientID string, confirmedAt time.Time) {
	t.Helper()
	link := &models.DoctorPatientLink{
		DoctorID:    doctorID,
		PatientID:   patientID,
		RequestID:   "R-" + doctorID + "-" + patientID,
		ConfirmedAt: confirmedAt,
	}
	require.NoError(t, e.db.Create(link).Error)
}
