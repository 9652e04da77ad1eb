package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ticvision/portal/internal/models"
)

func TestDashboardServiceListPatients(t *testing.T) {
	env := newTestEnv(t)
	svc, err := NewDashboardService(env.confirmations, env.directory)
	require.NoError(t, err)
	ctx := context.Background()

	env.mustCreateUser(t, "D1", "d@x.com", models.RoleDoctor)
	env.mustCreateUser(t, "P1", "p1@x.com", models.RolePatient)
	env.mustCreateUser(t, "P2", "p2@x.com", models.RolePatient)
	require.NoError(t, env.directory.IncrementTicCounter(ctx, "P2", 3))

	base := env.clock.Now()
	env.mustLink(t, "D1", "P1", base)
	env.mustLink(t, "D1", "P2", base.Add(time.Hour))
	env.mustLink(t, "D2", "P1", base)

	patients, err := svc.ListPatients(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, patients, 2)
	require.Equal(t, "P2", patients[0].ID)
	require.Equal(t, 3, patients[0].TicCounter)
	require.Equal(t, "p2@x.com", patients[0].Email)
	require.Equal(t, "P1", patients[1].ID)
	require.True(t, patients[1].ConfirmedAt.Equal(base))

	empty, err := svc.ListPatients(ctx, "D9")
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	_, err = svc.ListPatients(ctx, " ")
	require.ErrorIs(t, err, ErrConfirmationInvalidArgument)
}
