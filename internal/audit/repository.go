package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists audit entries as flat records. There is deliberately
// no update or delete: the table is append-only and rows expire via the
// backend's 30-day TTL sweep.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	Window(ctx context.Context, filter Filter) ([]Entry, error)
}

// PGRepository is the PostgreSQL-backed Repository. It also satisfies Sink
// so it can be wired directly into a Trail.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository returns a Repository backed by the provided pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends one entry. Duplicate entry ids are treated as already
// persisted, not as failures.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, occurred_at, user_id, tenant_id, session_id, ip_address, action, resource_type, resource_id, success, error_message, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		entry.ID, entry.At, entry.UserID, entry.TenantID, entry.SessionID, entry.IPAddress,
		entry.Action, entry.ResourceType, entry.ResourceID, entry.Success, entry.Error, metaJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Write satisfies Sink.
func (r *PGRepository) Write(ctx context.Context, entry Entry) error {
	return r.Insert(ctx, entry)
}

// PurgeExpired enforces the storage backend's TTL by removing entries older
// than the cutoff. This is a storage concern, not part of the Trail API:
// entries remain immutable from the caller's perspective.
func (r *PGRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_entries WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("audit: purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Window returns persisted entries matching the filter, newest first.
func (r *PGRepository) Window(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	from := filter.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, occurred_at, user_id, tenant_id, session_id, ip_address, action, resource_type, resource_id, success, error_message, metadata
		FROM audit_entries
		WHERE occurred_at BETWEEN $1 AND $2
		  AND ($3 = '' OR user_id = $3)
		  AND ($4 = '' OR tenant_id = $4)
		  AND ($5 = '' OR action = $5)
		  AND ($6 = '' OR resource_type = $6)
		ORDER BY occurred_at DESC
		LIMIT $7`,
		from, to, filter.UserID, filter.TenantID, filter.Action, filter.ResourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query window: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.At, &e.UserID, &e.TenantID, &e.SessionID, &e.IPAddress, &e.Action, &e.ResourceType, &e.ResourceID, &e.Success, &e.Error, &metaJSON); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		if filter.Success == nil || e.Success == *filter.Success {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}
