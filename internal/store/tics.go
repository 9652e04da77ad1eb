package store

import (
	"context"

	"github.com/ticvision/portal/internal/models"
)

// TicQuery selects a patient's tic events. From and To are inclusive
// YYYY-MM-DD bounds; an empty bound is open.
type TicQuery struct {
	PatientID string
	From      string
	To        string
	Locations []string
	Ascending bool
}

// TicStore persists tic events logged by patients.
type TicStore interface {
	// RecordTic stores the event and increments the patient's tic counter in
	// one transaction. ErrNotFound means the patient does not exist and
	// nothing was written.
	RecordTic(ctx context.Context, event *models.TicEvent) error
	// ListTics returns matching events ordered by date, then creation time.
	ListTics(ctx context.Context, query TicQuery) ([]models.TicEvent, error)
	// TicLocations returns the patient's distinct locations in lexical order.
	TicLocations(ctx context.Context, patientID string) ([]string, error)
}
