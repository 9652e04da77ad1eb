package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ticvision/portal/internal/database/testutil"
	"github.com/ticvision/portal/internal/models"
)

type ticStoreFactory func(t *testing.T) (TicStore, Directory)

func seedPatients(t *testing.T, directory Directory, ids ...string) {
	t.Helper()
	for _, id := range ids {
		user := &models.User{Email: id + "@x.com", Role: models.RolePatient, PasswordHash: "hash"}
		user.ID = id
		require.NoError(t, directory.CreateUser(context.Background(), user))
	}
}

func seedTics(t *testing.T, tics TicStore) {
	t.Helper()
	for _, event := range []models.TicEvent{
		{PatientID: "P1", Date: "2024-04-28", TimeOfDay: models.TimeOfDayMorning, Location: "Eyes", Intensity: 3},
		{PatientID: "P1", Date: "2024-05-01", TimeOfDay: models.TimeOfDayEvening, Location: "Neck", Intensity: 7},
		{PatientID: "P1", Date: "2024-03-15", TimeOfDay: models.TimeOfDayNight, Location: "Eyes", Intensity: 5},
		{PatientID: "P2", Date: "2024-05-01", TimeOfDay: models.TimeOfDayMorning, Location: "Shoulder", Intensity: 2},
	} {
		event := event
		require.NoError(t, tics.RecordTic(context.Background(), &event))
		require.NotEmpty(t, event.ID)
	}
}

func runTicStoreContract(t *testing.T, factory ticStoreFactory) {
	t.Helper()
	ctx := context.Background()

	seeded := func(t *testing.T) (TicStore, Directory) {
		t.Helper()
		tics, directory := factory(t)
		seedPatients(t, directory, "P1", "P2")
		seedTics(t, tics)
		return tics, directory
	}

	t.Run("RecordBumpsTicCounter", func(t *testing.T) {
		_, directory := seeded(t)

		p1, err := directory.FindByID(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, 3, p1.TicCounter)

		p2, err := directory.FindByID(ctx, "P2")
		require.NoError(t, err)
		require.Equal(t, 1, p2.TicCounter)
	})

	t.Run("RecordForUnknownPatientWritesNothing", func(t *testing.T) {
		tics, _ := factory(t)

		event := models.TicEvent{PatientID: "ghost", Date: "2024-05-01", TimeOfDay: models.TimeOfDayMorning, Location: "Eyes", Intensity: 4}
		require.ErrorIs(t, tics.RecordTic(ctx, &event), ErrNotFound)

		events, err := tics.ListTics(ctx, TicQuery{PatientID: "ghost"})
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("ListOrdersByDate", func(t *testing.T) {
		tics, _ := seeded(t)

		desc, err := tics.ListTics(ctx, TicQuery{PatientID: "P1"})
		require.NoError(t, err)
		require.Len(t, desc, 3)
		require.Equal(t, []string{"2024-05-01", "2024-04-28", "2024-03-15"}, ticDates(desc))

		asc, err := tics.ListTics(ctx, TicQuery{PatientID: "P1", Ascending: true})
		require.NoError(t, err)
		require.Equal(t, []string{"2024-03-15", "2024-04-28", "2024-05-01"}, ticDates(asc))
	})

	t.Run("ListAppliesBoundsAndLocations", func(t *testing.T) {
		tics, _ := seeded(t)

		ranged, err := tics.ListTics(ctx, TicQuery{PatientID: "P1", From: "2024-04-01", To: "2024-04-30"})
		require.NoError(t, err)
		require.Equal(t, []string{"2024-04-28"}, ticDates(ranged))

		eyes, err := tics.ListTics(ctx, TicQuery{PatientID: "P1", Locations: []string{"Eyes"}})
		require.NoError(t, err)
		require.Len(t, eyes, 2)
		for _, event := range eyes {
			require.Equal(t, "Eyes", event.Location)
		}

		none, err := tics.ListTics(ctx, TicQuery{PatientID: "P3"})
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("LocationsAreDistinctPerPatient", func(t *testing.T) {
		tics, _ := seeded(t)

		locations, err := tics.TicLocations(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, []string{"Eyes", "Neck"}, locations)

		locations, err = tics.TicLocations(ctx, "P3")
		require.NoError(t, err)
		require.Empty(t, locations)
	})
}

func ticDates(events []models.TicEvent) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Date)
	}
	return out
}

func TestGormTicStore(t *testing.T) {
	runTicStoreContract(t, func(t *testing.T) (TicStore, Directory) {
		db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
		tics, err := NewGormTicStore(db)
		require.NoError(t, err)
		directory, err := NewGormDirectory(db)
		require.NoError(t, err)
		return tics, directory
	})
}
