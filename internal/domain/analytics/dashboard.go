package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/sabcare/careline/internal/domain/ivr"
)

// DefaultUpcoming is how many upcoming calls the dashboard lists.
const DefaultUpcoming = 10

// RiskCounter is satisfied by patient.PatientRepository.
type RiskCounter interface {
	CountByRisk(ctx context.Context) (map[string]int, error)
}

// CallReader is the read side of ivr.CallRecordStore the dashboard needs.
type CallReader interface {
	ListUpcoming(ctx context.Context, now time.Time, limit int) ([]*ivr.CallEntry, error)
	CountByStatus(ctx context.Context) (map[ivr.Status]int, error)
}

type PatientStats struct {
	Total  int            `json:"total"`
	ByRisk map[string]int `json:"by_risk"`
}

type CallStats struct {
	Total    int                `json:"total"`
	ByStatus map[ivr.Status]int `json:"by_status"`
	Upcoming []*ivr.CallEntry   `json:"upcoming"`
}

type Dashboard struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Patients    PatientStats `json:"patients"`
	Calls       CallStats    `json:"calls"`
}

type Service struct {
	patients RiskCounter
	calls    CallReader
	now      func() time.Time
}

func NewService(patients RiskCounter, calls CallReader) *Service {
	return &Service{patients: patients, calls: calls, now: time.Now}
}

// Dashboard aggregates registry and call log counts. Every status is present
// in ByStatus, zero when no entry has it.
func (s *Service) Dashboard(ctx context.Context, upcoming int) (*Dashboard, error) {
	if upcoming <= 0 {
		upcoming = DefaultUpcoming
	}
	now := s.now()

	byRisk, err := s.patients.CountByRisk(ctx)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}
	byStatus, err := s.calls.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}
	next, err := s.calls.ListUpcoming(ctx, now, upcoming)
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}

	statuses := map[ivr.Status]int{ivr.StatusScheduled: 0, ivr.StatusCompleted: 0, ivr.StatusCancelled: 0}
	for st, n := range byStatus {
		statuses[st] = n
	}
	if next == nil {
		next = []*ivr.CallEntry{}
	}

	return &Dashboard{
		GeneratedAt: now,
		Patients: PatientStats{
			Total:  lo.Sum(lo.Values(byRisk)),
			ByRisk: byRisk,
		},
		Calls: CallStats{
			Total:    lo.Sum(lo.Values(statuses)),
			ByStatus: statuses,
			Upcoming: next,
		},
	}, nil
}
