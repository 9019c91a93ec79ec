package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobiz/abp/backend/internal/model/job"
)

// JobRepository implements job.Repository.
type JobRepository struct {
	db *sql.DB
}

var _ job.Repository = (*JobRepository)(nil)

const jobColumns = `id, kind, source, description, status, priority, payload, result, error,
	progress, worker, metadata_json, created_at, started_at, completed_at`

// Save inserts or replaces a job.
func (r *JobRepository) Save(ctx context.Context, j job.Job) error {
	var metadata sql.NullString
	if len(j.Metadata) > 0 {
		raw, err := json.Marshal(j.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Source, j.Description, string(j.Status), j.Priority,
		nullRaw(j.Payload), nullRaw(j.Result), j.Error,
		j.Progress, j.Worker, metadata,
		formatTime(j.CreatedAt), formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// Get looks up a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (job.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, job.ErrNotFound
	}
	return j, err
}

// List returns matching jobs newest first.
func (r *JobRepository) List(ctx context.Context, f job.Filter) ([]job.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// FailInterrupted marks jobs left running by a previous process as failed.
func (r *JobRepository) FailInterrupted(ctx context.Context, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE status = ?`,
		string(job.StatusFailed), reason, formatTime(time.Now()), string(job.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (job.Job, error) {
	var (
		j                     job.Job
		status                string
		payload, result, meta sql.NullString
		created               string
		started, completed    sql.NullString
	)
	if err := s.Scan(&j.ID, &j.Kind, &j.Source, &j.Description, &status, &j.Priority,
		&payload, &result, &j.Error, &j.Progress, &j.Worker, &meta,
		&created, &started, &completed); err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &j.Metadata); err != nil {
			return job.Job{}, fmt.Errorf("decode metadata for %s: %w", j.ID, err)
		}
	}

	var err error
	if j.CreatedAt, err = parseTime(created); err != nil {
		return job.Job{}, err
	}
	if j.StartedAt, err = parseTimePtr(started); err != nil {
		return job.Job{}, err
	}
	if j.CompletedAt, err = parseTimePtr(completed); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
