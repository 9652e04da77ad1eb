package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ticvision/portal/internal/store"
)

// LinkedPatient is a dashboard row for a patient who confirmed a doctor.
type LinkedPatient struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	TicCounter  int       `json:"tic_counter"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// DashboardService assembles the doctor's patient list.
type DashboardService struct {
	links     store.ConfirmationStore
	directory store.Directory
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(links store.ConfirmationStore, directory store.Directory) (*DashboardService, error) {
	if links == nil {
		return nil, errors.New("dashboard service: confirmation store is required")
	}
	if directory == nil {
		return nil, errors.New("dashboard service: directory is required")
	}
	return &DashboardService{links: links, directory: directory}, nil
}

// ListPatients returns the doctor's linked patients, most recently confirmed first.
// Links whose patient account no longer resolves are skipped.
func (s *DashboardService) ListPatients(ctx context.Context, doctorID string) ([]LinkedPatient, error) {
	ctx = ensureContext(ctx)

	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor id is required", ErrConfirmationInvalidArgument)
	}

	links, err := s.links.ListLinks(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("dashboard service: list links: %w", err)
	}
	if len(links) == 0 {
		return []LinkedPatient{}, nil
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.PatientID)
	}
	users, err := s.directory.FindByIDs(ctx, normaliseIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("dashboard service: load patients: %w", err)
	}

	byID := make(map[string]int, len(users))
	for i := range users {
		byID[users[i].ID] = i
	}

	patients := make([]LinkedPatient, 0, len(links))
	for _, link := range links {
		idx, ok := byID[link.PatientID]
		if !ok {
			continue
		}
		user := users[idx]
		patients = append(patients, LinkedPatient{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			Email:       user.Email,
			TicCounter:  user.TicCounter,
			ConfirmedAt: link.ConfirmedAt,
		})
	}
	return patients, nil
}
