package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/sabcare/careline/internal/domain/ivr"
)

// MaxGestationalAgeWeeks bounds the accepted gestational age.
const MaxGestationalAgeWeeks = 45

// ScheduleGenerator is satisfied by *ivr.Generator.
type ScheduleGenerator interface {
	Generate(ctx context.Context, p ivr.PatientProfile, now time.Time) (*ivr.Schedule, error)
}

type Service struct {
	patients  PatientRepository
	schedules ScheduleGenerator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(patients PatientRepository, schedules ScheduleGenerator, logger zerolog.Logger) *Service {
	return &Service{patients: patients, schedules: schedules, logger: logger, now: time.Now}
}

// normalize trims input and applies defaults, then validates what remains.
func normalize(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	p.RiskCategory = strings.ToLower(strings.TrimSpace(p.RiskCategory))
	if p.RiskCategory == "" {
		p.RiskCategory = ivr.RiskLow
	}
	p.RiskFactors = lo.FilterMap(p.RiskFactors, func(f string, _ int) (string, bool) {
		f = strings.TrimSpace(f)
		return f, f != ""
	})
	for i := range p.Medications {
		p.Medications[i].Name = strings.TrimSpace(p.Medications[i].Name)
		p.Medications[i].Dosage = strings.TrimSpace(p.Medications[i].Dosage)
		p.Medications[i].Time = strings.TrimSpace(p.Medications[i].Time)
	}

	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case p.Phone == "":
		return fmt.Errorf("%w: phone is required", ErrValidation)
	case p.GestationalAgeWeeks < 0 || p.GestationalAgeWeeks > MaxGestationalAgeWeeks:
		return fmt.Errorf("%w: gestational_age_weeks must be between 0 and %d", ErrValidation, MaxGestationalAgeWeeks)
	case !lo.Contains([]string{ivr.RiskLow, ivr.RiskMedium, ivr.RiskHigh}, p.RiskCategory):
		return fmt.Errorf("%w: risk_category must be low, medium or high", ErrValidation)
	}
	for i, m := range p.Medications {
		if m.Name == "" {
			return fmt.Errorf("%w: medications[%d].name is required", ErrValidation, i)
		}
	}
	return nil
}

// CreatePatient stores p and generates its first call schedule. A schedule
// failure does not undo the patient; it is reported in the summary.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) (*ScheduleSummary, error) {
	if err := normalize(p); err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.generate(ctx, p), nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// UpdatePatient replaces the stored record. When a schedule input changed a
// new schedule is appended; existing entries are kept. The summary is nil
// when nothing was regenerated.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) (*ScheduleSummary, error) {
	if err := normalize(p); err != nil {
		return nil, err
	}
	current, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	if !current.affectsSchedule(p) {
		return nil, nil
	}
	return s.generate(ctx, p), nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

// RegenerateSchedule appends a fresh schedule for the stored patient.
func (s *Service) RegenerateSchedule(ctx context.Context, id uuid.UUID) (*ScheduleSummary, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, p), nil
}

func (s *Service) generate(ctx context.Context, p *Patient) *ScheduleSummary {
	sched, err := s.schedules.Generate(ctx, p.ToProfile(), s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", p.ID.String()).Msg("schedule generation failed")
	}
	return summarize(sched, err)
}
