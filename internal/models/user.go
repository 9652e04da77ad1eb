package models

import "time"

// Roles understood by the portal.
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// User is a directory entry for doctors and patients.
type User struct {
	BaseModel

	Email        string `gorm:"uniqueIndex;size:320;not null" json:"email"`
	DisplayName  string `gorm:"size:255" json:"display_name"`
	Role         string `gorm:"size:32;not null;index" json:"role"`
	PasswordHash string `gorm:"not null" json:"-"`
	TicCounter   int    `gorm:"not null;default:0" json:"tic_counter"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// IsDoctor reports whether the user signs in as a doctor.
func (u *User) IsDoctor() bool { return u != nil && u.Role == RoleDoctor }

// IsPatient reports whether the user signs in as a patient.
func (u *User) IsPatient() bool { return u != nil && u.Role == RolePatient }
