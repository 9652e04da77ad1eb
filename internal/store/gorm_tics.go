package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/models"
)

// GormTicStore implements TicStore on the tic_events table.
type GormTicStore struct {
	db *gorm.DB
}

// NewGormTicStore constructs a relational TicStore.
func NewGormTicStore(db *gorm.DB) (*GormTicStore, error) {
	if db == nil {
		return nil, errors.New("tic store: db is required")
	}
	return &GormTicStore{db: db}, nil
}

func (s *GormTicStore) RecordTic(ctx context.Context, event *models.TicEvent) error {
	if event == nil {
		return errors.New("tic store: event is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("tic store: record: %w", err)
		}
		return incrementTicCounter(tx, event.PatientID, 1)
	})
}

func (s *GormTicStore) ListTics(ctx context.Context, query TicQuery) ([]models.TicEvent, error) {
	tx := s.db.WithContext(ctx).Model(&models.TicEvent{}).Where("patient_id = ?", query.PatientID)
	if query.From != "" {
		tx = tx.Where("date >= ?", query.From)
	}
	if query.To != "" {
		tx = tx.Where("date <= ?", query.To)
	}
	if len(query.Locations) > 0 {
		tx = tx.Where("location IN ?", query.Locations)
	}
	if query.Ascending {
		tx = tx.Order("date ASC").Order("created_at ASC")
	} else {
		tx = tx.Order("date DESC").Order("created_at DESC")
	}

	var events []models.TicEvent
	if err := tx.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("tic store: list: %w", err)
	}
	return events, nil
}

func (s *GormTicStore) TicLocations(ctx context.Context, patientID string) ([]string, error) {
	var locations []string
	err := s.db.WithContext(ctx).
		Model(&models.TicEvent{}).
		Where("patient_id = ?", patientID).
		Distinct("location").
		Order("location ASC").
		Pluck("location", &locations).Error
	if err != nil {
		return nil, fmt.Errorf("tic store: locations: %w", err)
	}
	return locations, nil
}

var _ TicStore = (*GormTicStore)(nil)
