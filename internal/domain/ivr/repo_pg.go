package ivr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sabcare/careline/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type callRepoPG struct{ pool *pgxpool.Pool }

func NewCallRepoPG(pool *pgxpool.Pool) CallRecordStore { return &callRepoPG{pool: pool} }

func (r *callRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const callCols = `c.id, c.patient_id, c.call_type, c.scheduled_time, c.message_text, c.status,
	c.medication_name, c.delivery_id, c.completed_at, c.cancelled_at, c.created_at, c.updated_at,
	p.name, p.phone`

const callFrom = ` FROM call_log c JOIN patient p ON p.id = c.patient_id`

func (r *callRepoPG) scanCall(row pgx.Row) (*CallEntry, error) {
	var e CallEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.CallType, &e.ScheduledTime, &e.MessageText, &e.Status,
		&e.MedicationName, &e.DeliveryID, &e.CompletedAt, &e.CancelledAt, &e.CreatedAt, &e.UpdatedAt,
		&e.PatientName, &e.PatientPhone)
	return &e, err
}

func (r *callRepoPG) scanCalls(rows pgx.Rows) ([]*CallEntry, error) {
	defer rows.Close()
	var items []*CallEntry
	for rows.Next() {
		e, err := r.scanCall(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// InsertBatch writes all entries in one transaction. IDs and timestamps are
// assigned by the database and copied back onto the entries.
func (r *callRepoPG) InsertBatch(ctx context.Context, entries []*CallEntry) ([]uuid.UUID, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(entries))
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		b := &pgx.Batch{}
		for _, e := range entries {
			b.Queue(`
				INSERT INTO call_log (patient_id, call_type, scheduled_time, message_text, status, medication_name)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id, created_at, updated_at`,
				e.PatientID, e.CallType, e.ScheduledTime, e.MessageText, StatusScheduled, e.MedicationName)
		}

		br := r.conn(ctx).SendBatch(ctx, b)
		defer br.Close()
		for i, e := range entries {
			if err := br.QueryRow().Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
				return fmt.Errorf("insert call entry %d: %w", i, err)
			}
			e.Status = StatusScheduled
			ids = append(ids, e.ID)
		}
		return br.Close()
	})
	if err != nil {
		for _, e := range entries {
			e.ID = uuid.Nil
		}
		return nil, err
	}
	return ids, nil
}

func (r *callRepoPG) SelectDue(ctx context.Context, now time.Time, limit int) ([]*CallEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+callCols+callFrom+`
		WHERE c.status = $1 AND c.scheduled_time <= $2
		ORDER BY c.scheduled_time ASC, c.id ASC
		LIMIT $3`, StatusScheduled, now, limit)
	if err != nil {
		return nil, err
	}
	return r.scanCalls(rows)
}

// CompareAndSetStatus moves an entry from expected to next in a single
// conditional UPDATE. A concurrent writer that got there first leaves zero
// rows affected.
func (r *callRepoPG) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next Status, completedAt *time.Time, deliveryID *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE call_log
		SET status = $3,
			completed_at = COALESCE($4, completed_at),
			delivery_id = COALESCE($5, delivery_id),
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN COALESCE(cancelled_at, NOW()) ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, expected, next, completedAt, deliveryID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel marks the entry cancelled from any state. completed_at is kept.
func (r *callRepoPG) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE call_log
		SET status = 'cancelled', cancelled_at = COALESCE(cancelled_at, NOW()), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *callRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CallEntry, error) {
	e, err := r.scanCall(r.conn(ctx).QueryRow(ctx, `SELECT `+callCols+callFrom+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *callRepoPG) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]*CallEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+callCols+callFrom+`
		WHERE c.status = $1 AND c.scheduled_time > $2
		ORDER BY c.scheduled_time ASC
		LIMIT $3`, StatusScheduled, now, limit)
	if err != nil {
		return nil, err
	}
	return r.scanCalls(rows)
}

func (r *callRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*CallEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM call_log WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+callCols+callFrom+`
		WHERE c.patient_id = $1
		ORDER BY c.scheduled_time DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanCalls(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *callRepoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM call_log GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{StatusScheduled: 0, StatusCompleted: 0, StatusCancelled: 0}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
