package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ticvision/portal/internal/models"
)

// GormConfirmationStore implements ConfirmationStore on a relational database.
type GormConfirmationStore struct {
	db *gorm.DB
}

// NewGormConfirmationStore constructs a relational ConfirmationStore.
func NewGormConfirmationStore(db *gorm.DB) (*GormConfirmationStore, error) {
	if db == nil {
		return nil, errors.New("confirmation store: db is required")
	}
	return &GormConfirmationStore{db: db}, nil
}

func (s *GormConfirmationStore) CreatePending(ctx context.Context, req *models.ConfirmationRequest) error {
	if req == nil {
		return errors.New("confirmation store: request is required")
	}
	req.State = models.ConfirmationPending
	req.ActiveKey = activeKeyFor(req)
	req.TokenHash = nil
	req.TokenIssuedAt = nil

	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("confirmation store: create pending: %w", err)
	}
	return nil
}

func (s *GormConfirmationStore) FindActive(ctx context.Context, doctorID, patientID string) (*models.ConfirmationRequest, error) {
	var req models.ConfirmationRequest
	err := s.db.WithContext(ctx).
		Where("active_key = ?", models.IntentKey(doctorID, patientID)).
		Take(&req).Error
	if err != nil {
		return nil, translateFind("find active", err)
	}
	return &req, nil
}

func (s *GormConfirmationStore) GetRequest(ctx context.Context, id string) (*models.ConfirmationRequest, error) {
	var req models.ConfirmationRequest
	if err := s.db.WithContext(ctx).Take(&req, "id = ?", id).Error; err != nil {
		return nil, translateFind("get request", err)
	}
	return &req, nil
}

func (s *GormConfirmationStore) ListRequests(ctx context.Context, doctorID string, state models.ConfirmationState) ([]models.ConfirmationRequest, error) {
	query := s.db.WithContext(ctx).Where("doctor_id = ?", doctorID)
	if state != "" {
		query = query.Where("state = ?", state)
	}

	var requests []models.ConfirmationRequest
	if err := query.Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("confirmation store: list requests: %w", err)
	}
	return requests, nil
}

func (s *GormConfirmationStore) IssueToken(ctx context.Context, requestID, tokenHash string, issuedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.ConfirmationRequest{}).
		Where("id = ? AND state = ?", requestID, models.ConfirmationPending).
		Updates(map[string]any{
			"state":           models.ConfirmationTokenIssued,
			"token_hash":      tokenHash,
			"token_issued_at": issuedAt,
		})
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return ErrDuplicate
		}
		return fmt.Errorf("confirmation store: issue token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateMismatch
	}
	return nil
}

func (s *GormConfirmationStore) Expire(ctx context.Context, requestID string, from models.ConfirmationState, at time.Time) error {
	if !from.Active() {
		return ErrStateMismatch
	}
	res := s.db.WithContext(ctx).
		Model(&models.ConfirmationRequest{}).
		Where("id = ? AND state = ?", requestID, from).
		Updates(expireColumns(at))
	if res.Error != nil {
		return fmt.Errorf("confirmation store: expire: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateMismatch
	}
	return nil
}

func (s *GormConfirmationStore) ExpireStale(ctx context.Context, pendingBefore, issuedBefore, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ConfirmationRequest{}).
		Where("(state = ? AND created_at < ?) OR (state = ? AND token_issued_at < ?)",
			models.ConfirmationPending, pendingBefore,
			models.ConfirmationTokenIssued, issuedBefore).
		Updates(expireColumns(at))
	if res.Error != nil {
		return 0, fmt.Errorf("confirmation store: expire stale: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormConfirmationStore) ConfirmToken(ctx context.Context, tokenHash string, confirmedAt time.Time, check ConfirmCheck) (*models.ConfirmationRequest, *models.DoctorPatientLink, error) {
	var (
		req  models.ConfirmationRequest
		link models.DoctorPatientLink
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&req, "token_hash = ?", tokenHash).Error; err != nil {
			return translateFind("confirm lookup", err)
		}
		if check != nil {
			if err := check(&req); err != nil {
				return err
			}
		}

		res := tx.Model(&models.ConfirmationRequest{}).
			Where("id = ? AND state = ?", req.ID, models.ConfirmationTokenIssued).
			Updates(map[string]any{
				"state":        models.ConfirmationConfirmed,
				"confirmed_at": confirmedAt,
				"active_key":   nil,
			})
		if res.Error != nil {
			return fmt.Errorf("confirmation store: confirm: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStateMismatch
		}

		link = models.DoctorPatientLink{
			DoctorID:    req.DoctorID,
			PatientID:   req.PatientID,
			RequestID:   req.ID,
			ConfirmedAt: confirmedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "doctor_id"}, {Name: "patient_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"request_id", "confirmed_at", "updated_at"}),
		}).Create(&link).Error; err != nil {
			return fmt.Errorf("confirmation store: upsert link: %w", err)
		}

		// On conflict the existing row keeps its id, so re-read by pair.
		var stored models.DoctorPatientLink
		if err := tx.Where("doctor_id = ? AND patient_id = ?", req.DoctorID, req.PatientID).Take(&stored).Error; err != nil {
			return fmt.Errorf("confirmation store: reload link: %w", err)
		}
		link = stored
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	req.State = models.ConfirmationConfirmed
	req.ConfirmedAt = &confirmedAt
	req.ActiveKey = nil
	return &req, &link, nil
}

func (s *GormConfirmationStore) IsLinked(ctx context.Context, doctorID, patientID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.DoctorPatientLink{}).
		Where("doctor_id = ? AND patient_id = ?", doctorID, patientID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("confirmation store: is linked: %w", err)
	}
	return count > 0, nil
}

func (s *GormConfirmationStore) ListLinks(ctx context.Context, doctorID string) ([]models.DoctorPatientLink, error) {
	var links []models.DoctorPatientLink
	err := s.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("confirmed_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("confirmation store: list links: %w", err)
	}
	return links, nil
}

func expireColumns(at time.Time) map[string]any {
	return map[string]any{
		"state":      models.ConfirmationExpired,
		"expired_at": at,
		"active_key": nil,
	}
}

func translateFind(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("confirmation store: %s: %w", op, err)
}

var _ ConfirmationStore = (*GormConfirmationStore)(nil)
