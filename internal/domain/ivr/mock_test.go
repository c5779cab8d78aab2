package ivr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabcare/careline/internal/platform/events"
	"github.com/sabcare/careline/internal/platform/textgen"
)

// -- Mock Store --

type mockCallStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*CallEntry

	insertErr error
	selectErr error
	casErr    error
	getErr    error
	inserts   int
	casCalls  int
}

func newMockCallStore() *mockCallStore {
	return &mockCallStore{entries: make(map[uuid.UUID]*CallEntry)}
}

func clone(e *CallEntry) *CallEntry {
	c := *e
	return &c
}

func (m *mockCallStore) InsertBatch(_ context.Context, entries []*CallEntry) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	ids := make([]uuid.UUID, 0, len(entries))
	now := time.Now()
	for _, e := range entries {
		e.ID = uuid.New()
		e.Status = StatusScheduled
		e.CreatedAt = now
		e.UpdatedAt = now
		m.entries[e.ID] = clone(e)
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// put stores an entry directly, bypassing InsertBatch bookkeeping.
func (m *mockCallStore) put(e *CallEntry) *CallEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = StatusScheduled
	}
	m.entries[e.ID] = clone(e)
	return e
}

func (m *mockCallStore) get(id uuid.UUID) *CallEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return clone(e)
	}
	return nil
}

func (m *mockCallStore) SelectDue(_ context.Context, now time.Time, limit int) ([]*CallEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	var due []*CallEntry
	for _, e := range m.entries {
		if e.Status == StatusScheduled && !e.ScheduledTime.After(now) {
			due = append(due, clone(e))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockCallStore) CompareAndSetStatus(_ context.Context, id uuid.UUID, expected, next Status, completedAt *time.Time, deliveryID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	if m.casErr != nil {
		return false, m.casErr
	}
	e, ok := m.entries[id]
	if !ok || e.Status != expected {
		return false, nil
	}
	e.Status = next
	if completedAt != nil {
		at := *completedAt
		e.CompletedAt = &at
	}
	if deliveryID != nil {
		d := *deliveryID
		e.DeliveryID = &d
	}
	return true, nil
}

func (m *mockCallStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	e.Status = StatusCancelled
	if e.CancelledAt == nil {
		now := time.Now()
		e.CancelledAt = &now
	}
	return true, nil
}

func (m *mockCallStore) GetByID(_ context.Context, id uuid.UUID) (*CallEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if e := m.get(id); e != nil {
		return e, nil
	}
	return nil, ErrNotFound
}

func (m *mockCallStore) ListUpcoming(_ context.Context, now time.Time, limit int) ([]*CallEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CallEntry
	for _, e := range m.entries {
		if e.Status == StatusScheduled && e.ScheduledTime.After(now) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockCallStore) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*CallEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CallEntry
	for _, e := range m.entries {
		if e.PatientID == patientID {
			out = append(out, clone(e))
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockCallStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[Status]int{}
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// -- Mock Delivery --

type deliveryCall struct {
	Phone     string
	Message   string
	PatientID uuid.UUID
}

type mockDelivery struct {
	mu         sync.Mutex
	calls      []deliveryCall
	ShouldFail bool
	FailError  error
	// OnCall runs inside PlaceCall before the result is returned.
	OnCall func(ctx context.Context, call deliveryCall) error
}

func (m *mockDelivery) PlaceCall(ctx context.Context, phone, message string, patientID uuid.UUID) (string, error) {
	call := deliveryCall{Phone: phone, Message: message, PatientID: patientID}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	n := len(m.calls)
	m.mu.Unlock()

	if m.OnCall != nil {
		if err := m.OnCall(ctx, call); err != nil {
			return "", err
		}
	}
	if m.ShouldFail {
		if m.FailError != nil {
			return "", m.FailError
		}
		return "", errors.New("mock delivery failure")
	}
	return fmt.Sprintf("CA%04d", n), nil
}

func (m *mockDelivery) callsFor(patientID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.PatientID == patientID {
			n++
		}
	}
	return n
}

func (m *mockDelivery) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// -- Mock Text Provider --

type mockText struct {
	mu       sync.Mutex
	requests []textgen.Request
	failFor  map[string]bool
}

func (m *mockText) Render(_ context.Context, req textgen.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.failFor[req.Topic] {
		return "", errors.New("text provider unavailable")
	}
	return fmt.Sprintf("%s for %s at week %d", req.Topic, req.PatientName, req.GestationalAgeWeeks), nil
}

// -- Mock Publisher --

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, evs ...events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evs...)
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) ofType(t events.Type) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
