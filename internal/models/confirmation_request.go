package models

import (
	"strings"
	"time"
)

// ConfirmationState enumerates the lifecycle of a confirmation request.
type ConfirmationState string

const (
	ConfirmationPending     ConfirmationState = "pending"
	ConfirmationTokenIssued ConfirmationState = "token_issued"
	ConfirmationConfirmed   ConfirmationState = "confirmed"
	ConfirmationExpired     ConfirmationState = "expired"
)

// Active reports whether the state still holds the pair's intent key.
func (s ConfirmationState) Active() bool {
	return s == ConfirmationPending || s == ConfirmationTokenIssued
}

// Valid reports whether s is a known state.
func (s ConfirmationState) Valid() bool {
	switch s {
	case ConfirmationPending, ConfirmationTokenIssued, ConfirmationConfirmed, ConfirmationExpired:
		return true
	}
	return false
}

// ConfirmationRequest records a doctor's invitation to a patient.
// DoctorID, PatientID, PatientEmail and CreatedAt never change after creation.
type ConfirmationRequest struct {
	BaseModel

	DoctorID     string            `gorm:"type:uuid;not null;index:idx_confirmation_pair" json:"doctor_id"`
	PatientID    string            `gorm:"type:uuid;not null;index:idx_confirmation_pair" json:"patient_id"`
	PatientEmail string            `gorm:"size:320;not null" json:"patient_email"`
	State        ConfirmationState `gorm:"size:32;not null;index" json:"state"`

	// ActiveKey is "doctorID|patientID" while the request is active and NULL afterwards.
	ActiveKey     *string    `gorm:"size:128;uniqueIndex" json:"-"`
	TokenHash     *string    `gorm:"size:64;uniqueIndex" json:"-"`
	TokenIssuedAt *time.Time `json:"token_issued_at,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
}

// IntentKey derives the uniqueness key guarding a doctor/patient pair.
func IntentKey(doctorID, patientID string) string {
	return strings.TrimSpace(doctorID) + "|" + strings.TrimSpace(patientID)
}

// LinkExpired reports whether a pending request has outlived ttl.
func (r *ConfirmationRequest) LinkExpired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && r.State == ConfirmationPending && now.After(r.CreatedAt.Add(ttl))
}

// TokenExpired reports whether an issued token has outlived ttl.
func (r *ConfirmationRequest) TokenExpired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || r.TokenIssuedAt == nil {
		return false
	}
	return now.After(r.TokenIssuedAt.Add(ttl))
}
