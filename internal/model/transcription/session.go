package transcription

import "time"

// Status is the advisory lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// PatientInfo describes the patient attached to a session. Every field is
// optional; a nil field means "not provided".
type PatientInfo struct {
	Name   *string `json:"patient_name,omitempty"`
	Age    *int    `json:"patient_age,omitempty"`
	Gender *string `json:"patient_gender,omitempty"`
}

// Merge applies the provided fields of update onto p (last write wins).
func (p PatientInfo) Merge(update PatientInfo) PatientInfo {
	if update.Name != nil {
		p.Name = update.Name
	}
	if update.Age != nil {
		p.Age = update.Age
	}
	if update.Gender != nil {
		p.Gender = update.Gender
	}
	return p
}

// Session is a point-in-time snapshot of one transcription conversation.
type Session struct {
	ID         string      `json:"session_id"`
	OwnerID    string      `json:"owner_id"`
	Transcript string      `json:"transcript"`
	Patient    PatientInfo `json:"patient"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}
