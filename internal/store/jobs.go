package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// JobRecord is a stored remediation job.
type JobRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	FileName  string    `json:"fileName"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"-"`
}

const jobColumns = `id, tenant_id, file_name, state, error_message, created_at, updated_at, version`

func scanJob(r rowScanner) (*JobRecord, error) {
	var (
		j       JobRecord
		errMsg  sql.NullString
		created int64
		updated int64
	)
	if err := r.Scan(&j.ID, &j.TenantID, &j.FileName, &j.State, &errMsg, &created, &updated, &j.Version); err != nil {
		return nil, err
	}
	j.Error = errMsg.String
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	return &j, nil
}

// AdmitJob inserts job if the tenant has fewer than limit jobs in any of the
// inflight states. Counting and inserting share one transaction so two
// simultaneous submissions cannot both pass the check. A limit <= 0
// disables the cap.
func (s *Store) AdmitJob(ctx context.Context, job *JobRecord, inflight []string, limit int) error {
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Version = 1

	return s.runInTx(ctx, func(tx *sql.Tx) error {
		if limit > 0 && len(inflight) > 0 {
			args := []any{job.TenantID}
			for _, st := range inflight {
				args = append(args, st)
			}
			// On mysql the locking read blocks a concurrent admission for the
			// same tenant until this transaction ends.
			var count int
			if err := tx.QueryRowContext(ctx, s.lock(
				`SELECT COUNT(*) FROM jobs WHERE tenant_id = ? AND state IN (`+placeholders(len(inflight))+`)`),
				args...,
			).Scan(&count); err != nil {
				return fmt.Errorf("count in-flight jobs: %w", err)
			}
			if count >= limit {
				return fmt.Errorf("%w: %d of %d in flight", ErrAtCapacity, count, limit)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.TenantID, job.FileName, job.State, nullString(job.Error),
			millis(job.CreatedAt), millis(job.UpdatedAt), job.Version,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

// GetJob reads one job.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	return j, nil
}

// UpdateJob applies fn to a job row under the same optimistic version
// scheme as UpdateTask.
func (s *Store) UpdateJob(ctx context.Context, id string, fn func(*JobRecord) error) (*JobRecord, error) {
	var updated *JobRecord
	err := s.withConflictRetry(ctx, func() error {
		return s.runInTx(ctx, func(tx *sql.Tx) error {
			j, err := scanJob(tx.QueryRowContext(ctx, s.lock(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id))
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("read job: %w", err)
			}
			if err := fn(j); err != nil {
				return err
			}
			j.UpdatedAt = s.now().UTC()

			res, err := tx.ExecContext(ctx,
				`UPDATE jobs SET state = ?, error_message = ?, updated_at = ?, version = version + 1
				 WHERE id = ? AND version = ?`,
				j.State, nullString(j.Error), millis(j.UpdatedAt), id, j.Version)
			if err != nil {
				return fmt.Errorf("update job: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("update job: %w", err)
			} else if n == 0 {
				return ErrConflict
			}
			j.Version++
			updated = j
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListJobs returns jobs in any of states (all jobs when empty), oldest first.
func (s *Store) ListJobs(ctx context.Context, states ...string) ([]JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += ` WHERE state IN (` + placeholders(len(states)) + `)`
		for _, st := range states {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at, id`
	return s.queryJobs(ctx, query, args...)
}

// ListStale returns jobs in any of states not updated since before.
func (s *Store) ListStale(ctx context.Context, states []string, before time.Time) ([]JobRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(states)+1)
	for _, st := range states {
		args = append(args, st)
	}
	args = append(args, millis(before))
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state IN (`+placeholders(len(states))+`) AND updated_at < ?
		 ORDER BY updated_at, id`, args...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	s.logger.Debug("listed jobs", zap.Int("count", len(out)))
	return out, nil
}
