package models

import "gorm.io/datatypes"

// AuditLog captures workflow and authentication events.
type AuditLog struct {
	BaseModel

	UserID    *string        `gorm:"type:uuid;index" json:"user_id"`
	Action    string         `gorm:"size:128;not null;index" json:"action"`
	Resource  string         `gorm:"size:255;index" json:"resource"`
	Result    string         `gorm:"size:32;not null" json:"result"`
	IPAddr    string         `gorm:"column:ip_address;size:64" json:"ip_address"`
	UserAgent string         `gorm:"size:512" json:"user_agent,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
}
