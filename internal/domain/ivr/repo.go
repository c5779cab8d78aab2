package ivr

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CallRecordStore persists call entries and guards their status transitions.
//
// CompareAndSetStatus must be a single conditional write: it returns false
// without error when the entry's current status is not expected.
type CallRecordStore interface {
	InsertBatch(ctx context.Context, entries []*CallEntry) ([]uuid.UUID, error)
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*CallEntry, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next Status, completedAt *time.Time, deliveryID *string) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	GetByID(ctx context.Context, id uuid.UUID) (*CallEntry, error)
	ListUpcoming(ctx context.Context, now time.Time, limit int) ([]*CallEntry, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*CallEntry, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
