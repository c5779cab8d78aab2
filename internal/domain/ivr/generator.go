package ivr

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabcare/careline/internal/platform/events"
	"github.com/sabcare/careline/internal/platform/textgen"
)

// TextProvider renders the spoken message for one call.
type TextProvider interface {
	Render(ctx context.Context, req textgen.Request) (string, error)
}

// Generator turns a patient profile into future call entries.
type Generator struct {
	store     CallRecordStore
	text      TextProvider
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewGenerator(store CallRecordStore, text TextProvider, publisher events.Publisher, logger zerolog.Logger) *Generator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Generator{store: store, text: text, publisher: publisher, logger: logger}
}

// Plan computes the schedule for p relative to now without persisting it.
// Entries come out as all weekly check-ins, then medication reminders, then
// high-risk calls. Entries whose text cannot be rendered are skipped.
func (g *Generator) Plan(ctx context.Context, p PatientProfile, now time.Time) *Schedule {
	s := &Schedule{PatientID: p.PatientID, GeneratedAt: now}

	cycles := HorizonCycles(p.GestationalAgeWeeks)
	interval := IntervalDays(p.RiskCategory)
	summaries := p.medicationSummaries()

	for w := 0; w < cycles; w++ {
		g.add(ctx, s, p, CallWeeklyCheckin,
			atTimeOfDay(now, 1+w*interval, defaultTimeOfDay()),
			p.GestationalAgeWeeks+w, summaries, nil)
	}

	for _, med := range p.Medications {
		days := ParseWeekdays(med.Weekdays)
		if len(days) == 0 {
			continue
		}
		tod := ParseTimeOfDay(med.Time)
		name := med.Name
		for occ := range PlanOccurrences(now, days, tod, cycles) {
			g.add(ctx, s, p, CallMedicationReminder, occ.At,
				p.GestationalAgeWeeks+occ.Cycle, []string{med.Descriptor()}, &name)
		}
	}

	if IsHighRisk(p.RiskCategory) {
		for w := 0; w < cycles; w++ {
			g.add(ctx, s, p, CallHighRiskMonitoring,
				atTimeOfDay(now, 1+w*interval+1, defaultTimeOfDay()),
				p.GestationalAgeWeeks+w, summaries, nil)
		}
	}

	return s
}

func (g *Generator) add(ctx context.Context, s *Schedule, p PatientProfile, ct CallType, at time.Time, ga int, meds []string, medName *string) {
	if !at.After(s.GeneratedAt) {
		return
	}
	text, err := g.text.Render(ctx, textgen.Request{
		Topic:               string(ct),
		PatientName:         p.Name,
		GestationalAgeWeeks: ga,
		RiskFactors:         p.RiskFactors,
		RiskCategory:        p.RiskCategory,
		Medications:         meds,
	})
	if err != nil {
		s.Skipped++
		g.logger.Warn().Err(err).
			Str("patient_id", p.PatientID.String()).
			Str("call_type", string(ct)).
			Time("scheduled_time", at).
			Msg("failed to render call text, skipping entry")
		return
	}
	s.Entries = append(s.Entries, &CallEntry{
		PatientID:      p.PatientID,
		CallType:       ct,
		ScheduledTime:  at,
		MessageText:    text,
		Status:         StatusScheduled,
		MedicationName: medName,
		PatientName:    p.Name,
		PatientPhone:   p.Phone,
	})
}

// Generate plans and persists a schedule in one batch. On a storage failure
// the computed schedule is still returned together with an error wrapping
// ErrPersist. Earlier schedules for the same patient are left untouched.
func (g *Generator) Generate(ctx context.Context, p PatientProfile, now time.Time) (*Schedule, error) {
	s := g.Plan(ctx, p, now)
	if len(s.Entries) == 0 {
		return s, nil
	}

	if _, err := g.store.InsertBatch(ctx, s.Entries); err != nil {
		g.logger.Error().Err(err).
			Str("patient_id", p.PatientID.String()).
			Int("entries", len(s.Entries)).
			Msg("failed to persist call schedule")
		return s, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	g.logger.Info().
		Str("patient_id", p.PatientID.String()).
		Int("entries", len(s.Entries)).
		Int("skipped", s.Skipped).
		Msg("call schedule generated")

	if err := g.publisher.Publish(ctx, events.Event{
		Type:       events.ScheduleGenerated,
		PatientID:  p.PatientID,
		Count:      len(s.Entries),
		OccurredAt: now,
	}); err != nil {
		g.logger.Warn().Err(err).Str("patient_id", p.PatientID.String()).Msg("failed to publish schedule event")
	}
	return s, nil
}
