package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sabcare/careline/internal/domain/ivr"
	"github.com/sabcare/careline/internal/platform/db"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, name, phone, gestational_age_weeks, risk_category, risk_factors, medications,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.GestationalAgeWeeks, &p.RiskCategory,
		&p.RiskFactors, &p.Medications, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicatePhone
	}
	return err
}

func nonNil(p *Patient) ([]string, []ivr.Medication) {
	factors, meds := p.RiskFactors, p.Medications
	if factors == nil {
		factors = []string{}
	}
	if meds == nil {
		meds = []ivr.Medication{}
	}
	return factors, meds
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	factors, meds := nonNil(p)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (name, phone, gestational_age_weeks, risk_category, risk_factors, medications)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Phone, p.GestationalAgeWeeks, p.RiskCategory, factors, meds,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return mapWriteErr(err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	factors, meds := nonNil(p)
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			name = $2, phone = $3, gestational_age_weeks = $4, risk_category = $5,
			risk_factors = $6, medications = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.GestationalAgeWeeks, p.RiskCategory, factors, meds,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteErr(err)
}

// Delete removes the patient; call_log rows go with it via ON DELETE CASCADE.
func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) CountByRisk(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT risk_category, COUNT(*) FROM patient GROUP BY risk_category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{ivr.RiskLow: 0, ivr.RiskMedium: 0, ivr.RiskHigh: 0}
	for rows.Next() {
		var risk string
		var n int
		if err := rows.Scan(&risk, &n); err != nil {
			return nil, err
		}
		counts[risk] = n
	}
	return counts, rows.Err()
}
