package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearledger/clearledger/internal/rbac"
)

// Repository persists violation records as flat rows. Violations are only
// ever inserted or status-transitioned; rows are never deleted.
type Repository interface {
	InsertViolation(ctx context.Context, v Violation) error
	UpdateViolationStatus(ctx context.Context, id string, status ViolationStatus, resolvedAt time.Time) error
}

// PGRepository is the PostgreSQL-backed Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository returns a Repository backed by the provided pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertViolation appends one violation row. Duplicate ids count as already
// persisted.
func (r *PGRepository) InsertViolation(ctx context.Context, v Violation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO compliance_violations (id, standard, severity, description, resource_type, resource_id, detected_at, remediation_required, remediation_deadline, remediation_steps, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		v.ID, string(v.Standard), string(v.Severity), v.Description, string(v.ResourceType), v.ResourceID,
		v.DetectedAt, v.RemediationRequired, v.RemediationDeadline, v.RemediationSteps, string(v.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("compliance: insert violation: %w", err)
	}
	return nil
}

// OpenViolations loads every violation still awaiting remediation, oldest
// first.
func (r *PGRepository) OpenViolations(ctx context.Context) ([]Violation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, standard, severity, description, resource_type, resource_id, detected_at, remediation_required, remediation_deadline, remediation_steps, status
		FROM compliance_violations
		WHERE status = $1
		ORDER BY detected_at ASC`, string(ViolationOpen))
	if err != nil {
		return nil, fmt.Errorf("compliance: query open violations: %w", err)
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var v Violation
		var standard, severity, resourceType, status string
		if err := rows.Scan(&v.ID, &standard, &severity, &v.Description, &resourceType, &v.ResourceID,
			&v.DetectedAt, &v.RemediationRequired, &v.RemediationDeadline, &v.RemediationSteps, &status); err != nil {
			return nil, fmt.Errorf("compliance: scan violation: %w", err)
		}
		v.Standard = Standard(standard)
		v.Severity = Severity(severity)
		v.ResourceType = rbac.ResourceType(resourceType)
		v.Status = ViolationStatus(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateViolationStatus transitions a violation's lifecycle state.
func (r *PGRepository) UpdateViolationStatus(ctx context.Context, id string, status ViolationStatus, resolvedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE compliance_violations SET status = $2, resolved_at = $3 WHERE id = $1`,
		id, string(status), resolvedAt)
	if err != nil {
		return fmt.Errorf("compliance: update violation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
