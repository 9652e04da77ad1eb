package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ticvision/portal/internal/models"
)

type storeFactory func(t *testing.T) (ConfirmationStore, Directory)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPending(doctorID, patientID string, createdAt time.Time) *models.ConfirmationRequest {
	req := &models.ConfirmationRequest{
		DoctorID:     doctorID,
		PatientID:    patientID,
		PatientEmail: "p@x.com",
	}
	req.CreatedAt = createdAt
	return req
}

func runConfirmationStoreContract(t *testing.T, factory storeFactory) {
	t.Run("create pending enforces one active request per pair", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		doctorID, patientID := uuid.NewString(), uuid.NewString()

		first := newPending(doctorID, patientID, baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, first))
		require.NotEmpty(t, first.ID)
		require.Equal(t, models.ConfirmationPending, first.State)

		err := confirmations.CreatePending(ctx, newPending(doctorID, patientID, baseTime))
		require.ErrorIs(t, err, ErrDuplicate)

		active, err := confirmations.FindActive(ctx, doctorID, patientID)
		require.NoError(t, err)
		require.Equal(t, first.ID, active.ID)

		other := newPending(doctorID, uuid.NewString(), baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, other))

		requests, err := confirmations.ListRequests(ctx, doctorID, "")
		require.NoError(t, err)
		require.Len(t, requests, 2)
	})

	t.Run("issue token is a compare and swap on pending", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		req := newPending(uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, req))

		issuedAt := baseTime.Add(time.Minute)
		require.NoError(t, confirmations.IssueToken(ctx, req.ID, "hash-1", issuedAt))
		require.ErrorIs(t, confirmations.IssueToken(ctx, req.ID, "hash-2", issuedAt), ErrStateMismatch)

		stored, err := confirmations.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, models.ConfirmationTokenIssued, stored.State)
		require.NotNil(t, stored.TokenHash)
		require.Equal(t, "hash-1", *stored.TokenHash)
		require.Equal(t, req.DoctorID, stored.DoctorID)
		require.Equal(t, req.PatientID, stored.PatientID)
		require.True(t, stored.TokenIssuedAt.Equal(issuedAt))
	})

	t.Run("concurrent issue token has exactly one winner", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		req := newPending(uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, req))

		const callers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			winners  int
			failures []error
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := confirmations.IssueToken(ctx, req.ID, uuid.NewString(), baseTime)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners++
					return
				}
				failures = append(failures, err)
			}()
		}
		wg.Wait()

		require.Equal(t, 1, winners)
		require.Len(t, failures, callers-1)
		for _, err := range failures {
			require.ErrorIs(t, err, ErrStateMismatch)
		}
	})

	t.Run("confirm token commits request and link together", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		req := newPending(uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, req))
		require.NoError(t, confirmations.IssueToken(ctx, req.ID, "hash-ok", baseTime))

		confirmedAt := baseTime.Add(2 * time.Minute)
		confirmed, link, err := confirmations.ConfirmToken(ctx, "hash-ok", confirmedAt, nil)
		require.NoError(t, err)
		require.Equal(t, models.ConfirmationConfirmed, confirmed.State)
		require.Equal(t, req.DoctorID, link.DoctorID)
		require.Equal(t, req.PatientID, link.PatientID)
		require.Equal(t, req.ID, link.RequestID)

		linked, err := confirmations.IsLinked(ctx, req.DoctorID, req.PatientID)
		require.NoError(t, err)
		require.True(t, linked)

		links, err := confirmations.ListLinks(ctx, req.DoctorID)
		require.NoError(t, err)
		require.Len(t, links, 1)

		_, _, err = confirmations.ConfirmToken(ctx, "hash-ok", confirmedAt, nil)
		require.ErrorIs(t, err, ErrStateMismatch)

		_, err = confirmations.FindActive(ctx, req.DoctorID, req.PatientID)
		require.ErrorIs(t, err, ErrNotFound)

		stored, err := confirmations.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, models.ConfirmationConfirmed, stored.State)
		require.Nil(t, stored.ActiveKey)
	})

	t.Run("confirm token updates an existing link for the pair", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		doctorID, patientID := uuid.NewString(), uuid.NewString()

		first := newPending(doctorID, patientID, baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, first))
		require.NoError(t, confirmations.IssueToken(ctx, first.ID, "hash-first", baseTime))
		_, firstLink, err := confirmations.ConfirmToken(ctx, "hash-first", baseTime.Add(time.Minute), nil)
		require.NoError(t, err)

		second := newPending(doctorID, patientID, baseTime.Add(time.Hour))
		require.NoError(t, confirmations.CreatePending(ctx, second))
		require.NoError(t, confirmations.IssueToken(ctx, second.ID, "hash-second", baseTime.Add(time.Hour)))

		reconfirmedAt := baseTime.Add(2 * time.Hour)
		confirmed, link, err := confirmations.ConfirmToken(ctx, "hash-second", reconfirmedAt, nil)
		require.NoError(t, err)
		require.Equal(t, models.ConfirmationConfirmed, confirmed.State)
		require.Equal(t, firstLink.ID, link.ID)
		require.Equal(t, second.ID, link.RequestID)
		require.True(t, link.ConfirmedAt.Equal(reconfirmedAt))

		links, err := confirmations.ListLinks(ctx, doctorID)
		require.NoError(t, err)
		require.Len(t, links, 1)
		require.Equal(t, second.ID, links[0].RequestID)
	})

	t.Run("confirm check aborts without writes", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		req := newPending(uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, req))
		require.NoError(t, confirmations.IssueToken(ctx, req.ID, "hash-check", baseTime))

		rejected := errors.New("rejected")
		_, _, err := confirmations.ConfirmToken(ctx, "hash-check", baseTime, func(*models.ConfirmationRequest) error {
			return rejected
		})
		require.ErrorIs(t, err, rejected)

		linked, err := confirmations.IsLinked(ctx, req.DoctorID, req.PatientID)
		require.NoError(t, err)
		require.False(t, linked)

		stored, err := confirmations.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, models.ConfirmationTokenIssued, stored.State)

		_, _, err = confirmations.ConfirmToken(ctx, "unknown", baseTime, nil)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expire releases the intent key", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		req := newPending(uuid.NewString(), uuid.NewString(), baseTime)
		require.NoError(t, confirmations.CreatePending(ctx, req))

		require.ErrorIs(t, confirmations.Expire(ctx, req.ID, models.ConfirmationTokenIssued, baseTime), ErrStateMismatch)
		require.NoError(t, confirmations.Expire(ctx, req.ID, models.ConfirmationPending, baseTime))
		require.ErrorIs(t, confirmations.Expire(ctx, req.ID, models.ConfirmationPending, baseTime), ErrStateMismatch)

		replacement := newPending(req.DoctorID, req.PatientID, baseTime.Add(time.Hour))
		require.NoError(t, confirmations.CreatePending(ctx, replacement))

		expired, err := confirmations.ListRequests(ctx, req.DoctorID, models.ConfirmationExpired)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, req.ID, expired[0].ID)
	})

	t.Run("expire stale sweeps by age and state", func(t *testing.T) {
		confirmations, _ := factory(t)
		ctx := context.Background()
		doctorID := uuid.NewString()

		oldPending := newPending(doctorID, uuid.NewString(), baseTime.Add(-2*time.Hour))
		freshPending := newPending(doctorID, uuid.NewString(), baseTime)
		issued := newPending(doctorID, uuid.NewString(), baseTime.Add(-3*time.Hour))
		for _, req := range []*models.ConfirmationRequest{oldPending, freshPending, issued} {
			require.NoError(t, confirmations.CreatePending(ctx, req))
		}
		require.NoError(t, confirmations.IssueToken(ctx, issued.ID, "hash-stale", baseTime.Add(-10*time.Minute)))

		count, err := confirmations.ExpireStale(ctx, baseTime.Add(-time.Hour), baseTime.Add(-30*time.Minute), baseTime)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)

		count, err = confirmations.ExpireStale(ctx, baseTime.Add(-time.Hour), baseTime, baseTime)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)

		pending, err := confirmations.ListRequests(ctx, doctorID, models.ConfirmationPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, freshPending.ID, pending[0].ID)
	})
}

func runDirectoryContract(t *testing.T, factory storeFactory) {
	t.Run("create and look up users", func(t *testing.T) {
		_, directory := factory(t)
		ctx := context.Background()

		user := &models.User{Email: "  P@X.com ", DisplayName: "Pat", Role: models.RolePatient, PasswordHash: "hash"}
		require.NoError(t, directory.CreateUser(ctx, user))
		require.NotEmpty(t, user.ID)
		require.Equal(t, "p@x.com", user.Email)

		found, err := directory.FindByEmail(ctx, "p@X.COM")
		require.NoError(t, err)
		require.Equal(t, user.ID, found.ID)

		byID, err := directory.FindByID(ctx, user.ID)
		require.NoError(t, err)
		require.Equal(t, "Pat", byID.DisplayName)

		err = directory.CreateUser(ctx, &models.User{Email: "p@x.com", Role: models.RolePatient, PasswordHash: "hash"})
		require.ErrorIs(t, err, ErrDuplicate)

		_, err = directory.FindByEmail(ctx, "missing@x.com")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("counters and batch lookups", func(t *testing.T) {
		_, directory := factory(t)
		ctx := context.Background()

		a := &models.User{Email: "a@x.com", Role: models.RolePatient, PasswordHash: "hash"}
		b := &models.User{Email: "b@x.com", Role: models.RolePatient, PasswordHash: "hash"}
		require.NoError(t, directory.CreateUser(ctx, a))
		require.NoError(t, directory.CreateUser(ctx, b))

		require.NoError(t, directory.IncrementTicCounter(ctx, a.ID, 1))
		require.NoError(t, directory.IncrementTicCounter(ctx, a.ID, 2))
		require.ErrorIs(t, directory.IncrementTicCounter(ctx, uuid.NewString(), 1), ErrNotFound)
		require.NoError(t, directory.TouchLastLogin(ctx, b.ID, baseTime))

		users, err := directory.FindByIDs(ctx, []string{a.ID, b.ID})
		require.NoError(t, err)
		require.Len(t, users, 2)
		for _, u := range users {
			switch u.ID {
			case a.ID:
				require.Equal(t, 3, u.TicCounter)
			case b.ID:
				require.NotNil(t, u.LastLoginAt)
				require.True(t, u.LastLoginAt.Equal(baseTime))
			}
		}

		none, err := directory.FindByIDs(ctx, nil)
		require.NoError(t, err)
		require.Empty(t, none)
	})
}
