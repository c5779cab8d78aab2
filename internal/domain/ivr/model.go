package ivr

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// CallType identifies what a reminder call is about.
type CallType string

const (
	CallWeeklyCheckin      CallType = "weekly_checkin"
	CallMedicationReminder CallType = "medication_reminder"
	CallHighRiskMonitoring CallType = "high_risk_monitoring"
)

// Status is the state of a call entry. completed and cancelled are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var (
	ErrNotFound         = errors.New("call entry not found")
	ErrAlreadyCompleted = errors.New("call already completed")
	ErrCancelled        = errors.New("call was cancelled")
	ErrInFlight         = errors.New("call is already being executed")
	ErrPersist          = errors.New("persist schedule")
)

// Medication is one prescribed medication with its reminder pattern.
// Weekdays holds tags like "Mon" and Time is "HH:MM" in 24h form.
type Medication struct {
	Name     string   `json:"name" yaml:"name"`
	Dosage   string   `json:"dosage" yaml:"dosage"`
	Weekdays []string `json:"frequency" yaml:"frequency"`
	Time     string   `json:"time" yaml:"time"`
}

// Descriptor is the short form used in reminder text, e.g. "Folic acid 400mcg".
func (m Medication) Descriptor() string {
	return strings.TrimSpace(m.Name + " " + m.Dosage)
}

// Summary includes the weekday pattern, e.g. "Iron 65mg (Mon, Thu)".
func (m Medication) Summary() string {
	s := m.Descriptor()
	if len(m.Weekdays) > 0 {
		s += " (" + strings.Join(m.Weekdays, ", ") + ")"
	}
	return s
}

// PatientProfile is the clinical input to schedule generation.
type PatientProfile struct {
	PatientID           uuid.UUID    `json:"patient_id" yaml:"-"`
	Name                string       `json:"name" yaml:"name"`
	Phone               string       `json:"phone" yaml:"phone"`
	GestationalAgeWeeks int          `json:"gestational_age_weeks" yaml:"gestational_age_weeks"`
	RiskCategory        string       `json:"risk_category" yaml:"risk_category"`
	RiskFactors         []string     `json:"risk_factors" yaml:"risk_factors"`
	Medications         []Medication `json:"medications" yaml:"medications"`
}

func (p PatientProfile) medicationSummaries() []string {
	return lo.Map(p.Medications, func(m Medication, _ int) string { return m.Summary() })
}

// CallEntry maps to the call_log table.
type CallEntry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	CallType       CallType   `db:"call_type" json:"call_type"`
	ScheduledTime  time.Time  `db:"scheduled_time" json:"scheduled_time"`
	MessageText    string     `db:"message_text" json:"message_text"`
	Status         Status     `db:"status" json:"status"`
	MedicationName *string    `db:"medication_name" json:"medication_name,omitempty"`
	DeliveryID     *string    `db:"delivery_id" json:"delivery_id,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	// Populated by join with patient for delivery and listings.
	PatientName  string `json:"patient_name,omitempty"`
	PatientPhone string `json:"patient_phone,omitempty"`
}

// Schedule is the result of one generation run.
type Schedule struct {
	PatientID   uuid.UUID    `json:"patient_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Entries     []*CallEntry `json:"entries"`
	// Skipped counts entries dropped because message text could not be produced.
	Skipped int `json:"skipped"`
}

// CountByType tallies entries per call type.
func (s *Schedule) CountByType() map[CallType]int {
	return lo.CountValuesBy(s.Entries, func(e *CallEntry) CallType { return e.CallType })
}
