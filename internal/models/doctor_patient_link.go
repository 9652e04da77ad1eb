package models

import "time"

// DoctorPatientLink is the authorization record created by a successful confirmation.
type DoctorPatientLink struct {
	BaseModel

	DoctorID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_link_pair" json:"doctor_id"`
	PatientID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_link_pair;index" json:"patient_id"`
	RequestID   string    `gorm:"type:uuid;not null" json:"request_id"`
	ConfirmedAt time.Time `gorm:"not null" json:"confirmed_at"`
}
