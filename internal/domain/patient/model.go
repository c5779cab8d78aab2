package patient

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sabcare/careline/internal/domain/ivr"
)

var (
	ErrNotFound       = errors.New("patient not found")
	ErrDuplicatePhone = errors.New("phone number already registered")
	ErrValidation     = errors.New("invalid patient")
)

// Patient maps to the patient table.
type Patient struct {
	ID                  uuid.UUID        `db:"id" json:"id"`
	Name                string           `db:"name" json:"name"`
	Phone               string           `db:"phone" json:"phone"`
	GestationalAgeWeeks int              `db:"gestational_age_weeks" json:"gestational_age_weeks"`
	RiskCategory        string           `db:"risk_category" json:"risk_category"`
	RiskFactors         []string         `db:"risk_factors" json:"risk_factors"`
	Medications         []ivr.Medication `db:"medications" json:"medications"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// ToProfile returns the clinical input used for schedule generation.
func (p *Patient) ToProfile() ivr.PatientProfile {
	return ivr.PatientProfile{
		PatientID:           p.ID,
		Name:                p.Name,
		Phone:               p.Phone,
		GestationalAgeWeeks: p.GestationalAgeWeeks,
		RiskCategory:        p.RiskCategory,
		RiskFactors:         p.RiskFactors,
		Medications:         p.Medications,
	}
}

// affectsSchedule reports whether moving from p to next changes any input
// of schedule generation. The phone number is read at delivery time and
// does not count.
func (p *Patient) affectsSchedule(next *Patient) bool {
	return p.Name != next.Name ||
		p.GestationalAgeWeeks != next.GestationalAgeWeeks ||
		p.RiskCategory != next.RiskCategory ||
		!slices.Equal(p.RiskFactors, next.RiskFactors) ||
		!slices.EqualFunc(p.Medications, next.Medications, medicationEqual)
}

func medicationEqual(a, b ivr.Medication) bool {
	return a.Name == b.Name && a.Dosage == b.Dosage && a.Time == b.Time && slices.Equal(a.Weekdays, b.Weekdays)
}

// ScheduleSummary is returned from endpoints that generate calls.
type ScheduleSummary struct {
	Scheduled int                  `json:"scheduled"`
	Skipped   int                  `json:"skipped"`
	ByType    map[ivr.CallType]int `json:"by_type"`
	Error     string               `json:"error,omitempty"`
}

func summarize(s *ivr.Schedule, err error) *ScheduleSummary {
	if s == nil {
		s = &ivr.Schedule{}
	}
	out := &ScheduleSummary{Skipped: s.Skipped, ByType: s.CountByType()}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Scheduled = len(s.Entries)
	return out
}
