package models

// Times of day a tic can be logged against.
const (
	TimeOfDayMorning   = "Morning"
	TimeOfDayAfternoon = "Afternoon"
	TimeOfDayEvening   = "Evening"
	TimeOfDayNight     = "Night"
)

// TicEvent is a single tic logged by a patient.
type TicEvent struct {
	BaseModel

	PatientID string `gorm:"type:uuid;not null;index:idx_tic_patient_date" json:"patient_id"`
	// Date is the calendar day in YYYY-MM-DD form.
	Date      string `gorm:"size:10;not null;index:idx_tic_patient_date" json:"date"`
	TimeOfDay string `gorm:"size:32;not null" json:"time_of_day"`
	Location  string `gorm:"size:128;not null" json:"location"`
	Intensity int    `gorm:"not null" json:"intensity"`
}
