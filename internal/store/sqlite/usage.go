package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autobiz/abp/backend/internal/model/usage"
)

// UsageRepository implements usage.Repository.
type UsageRepository struct {
	db *sql.DB
}

var _ usage.Repository = (*UsageRepository)(nil)

const callColumns = `id, provider, model, operation, cost, success, error, duration_ms, job_id, at`

// Record stores one call.
func (r *UsageRepository) Record(ctx context.Context, c usage.Call) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	success := 0
	if c.Success {
		success = 1
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO api_calls (`+callColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Provider, c.Model, c.Operation, c.Cost, success, c.Error, c.DurationMs, c.JobID, formatTime(c.At))
	if err != nil {
		return fmt.Errorf("record api call: %w", err)
	}
	return nil
}

// Since returns calls at or after t, oldest first.
func (r *UsageRepository) Since(ctx context.Context, t time.Time) ([]usage.Call, error) {
	return r.query(ctx, `SELECT `+callColumns+` FROM api_calls WHERE at >= ? ORDER BY at ASC`, formatTime(t))
}

// Recent returns the latest calls, newest first.
func (r *UsageRepository) Recent(ctx context.Context, limit int) ([]usage.Call, error) {
	if limit <= 0 {
		return r.query(ctx, `SELECT `+callColumns+` FROM api_calls ORDER BY at DESC`)
	}
	return r.query(ctx, `SELECT `+callColumns+` FROM api_calls ORDER BY at DESC LIMIT ?`, limit)
}

func (r *UsageRepository) query(ctx context.Context, q string, args ...any) ([]usage.Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query api calls: %w", err)
	}
	defer rows.Close()

	out := make([]usage.Call, 0)
	for rows.Next() {
		var (
			c       usage.Call
			success int
			at      string
		)
		if err := rows.Scan(&c.ID, &c.Provider, &c.Model, &c.Operation, &c.Cost, &success,
			&c.Error, &c.DurationMs, &c.JobID, &at); err != nil {
			return nil, err
		}
		c.Success = success != 0
		if c.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
