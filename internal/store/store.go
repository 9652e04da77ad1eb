// Package store persists confirmation requests, doctor-patient links and the
// user directory. Every multi-step mutation is a conditional write or a
// transaction so concurrent callers observe at-most-once transitions.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrStateMismatch is returned when a conditional update finds the record in another state.
	ErrStateMismatch = errors.New("store: state mismatch")
)

// ConfirmCheck inspects a request inside the confirm transaction; a non-nil
// error aborts the transaction and is returned unchanged.
type ConfirmCheck func(req *models.ConfirmationRequest) error

// ConfirmationStore persists confirmation requests and doctor-patient links.
type ConfirmationStore interface {
	// CreatePending inserts req as Pending and claims the pair's intent key.
	// ErrDuplicate means another active request already holds the key.
	CreatePending(ctx context.Context, req *models.ConfirmationRequest) error
	// FindActive returns the Pending or TokenIssued request for the pair.
	FindActive(ctx context.Context, doctorID, patientID string) (*models.ConfirmationRequest, error)
	// GetRequest loads a request by id.
	GetRequest(ctx context.Context, id string) (*models.ConfirmationRequest, error)
	// ListRequests returns a doctor's requests, newest first, optionally filtered by state.
	ListRequests(ctx context.Context, doctorID string, state models.ConfirmationState) ([]models.ConfirmationRequest, error)
	// IssueToken moves a Pending request to TokenIssued, conditioned on it still being Pending.
	IssueToken(ctx context.Context, requestID, tokenHash string, issuedAt time.Time) error
	// Expire moves an active request from the given state to Expired and releases its intent key.
	Expire(ctx context.Context, requestID string, from models.ConfirmationState, at time.Time) error
	// ExpireStale expires Pending requests created before pendingBefore and
	// TokenIssued requests issued before issuedBefore.
	ExpireStale(ctx context.Context, pendingBefore, issuedBefore, at time.Time) (int64, error)
	// ConfirmToken atomically moves the request holding tokenHash from
	// TokenIssued to Confirmed and upserts the doctor-patient link.
	ConfirmToken(ctx context.Context, tokenHash string, confirmedAt time.Time, check ConfirmCheck) (*models.ConfirmationRequest, *models.DoctorPatientLink, error)
	// IsLinked reports whether a confirmed link exists for the pair.
	IsLinked(ctx context.Context, doctorID, patientID string) (bool, error)
	// ListLinks returns the doctor's links, most recent first.
	ListLinks(ctx context.Context, doctorID string) ([]models.DoctorPatientLink, error)
}

// Directory resolves and maintains user identities.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	IncrementTicCounter(ctx context.Context, userID string, delta int) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// NormalizeEmail lower-cases and trims an address for directory lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isDuplicateKey recognises unique violations across the supported SQL drivers.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

func activeKeyFor(req *models.ConfirmationRequest) *string {
	key := models.IntentKey(req.DoctorID, req.PatientID)
	return &key
}
