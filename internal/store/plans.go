package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
)

const taskColumns = `task_id, issue_id, issue_code, source, severity, priority, tier, status,
	location, resolution, resolved_by, resolved_at, version`

// CreatePlan appends p as the newest snapshot for its job and sets p.Seq.
// Earlier snapshots are kept but no longer read.
func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if p == nil || p.JobID == "" {
		return fmt.Errorf("plan with job id required")
	}

	tallies, err := json.Marshal(p.Tallies)
	if err != nil {
		return fmt.Errorf("encode tallies: %w", err)
	}
	issues, err := json.Marshal(p.Issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	err = s.runInTx(ctx, func(tx *sql.Tx) error {
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			s.lock(`SELECT MAX(seq) FROM plans WHERE job_id = ?`), p.JobID,
		).Scan(&maxSeq); err != nil {
			return fmt.Errorf("read plan seq: %w", err)
		}
		seq := maxSeq.Int64 + 1

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plans (job_id, seq, file_name, total_issues, deduplicated, dropped, tallies_json, issues_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.JobID, seq, p.FileName, len(p.Tasks), p.Deduplicated, p.Dropped,
			string(tallies), string(issues), millis(createdAt),
		); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO plan_tasks (job_id, seq, task_id, ord, issue_id, issue_code, source, severity,
			 priority, tier, status, location, resolution, resolved_by, resolved_at, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`)
		if err != nil {
			return fmt.Errorf("prepare task insert: %w", err)
		}
		defer stmt.Close()

		for i, t := range p.Tasks {
			if _, err := stmt.ExecContext(ctx,
				p.JobID, seq, t.ID, i, t.IssueID, t.IssueCode, string(t.Source), string(t.Severity),
				int(t.Priority), string(t.Tier), string(t.Status), t.Location,
				nullString(t.Resolution), nullString(t.ResolvedBy), nullMillis(t.ResolvedAt),
				millis(createdAt),
			); err != nil {
				return fmt.Errorf("insert task %s: %w", t.ID, err)
			}
		}

		p.Seq = seq
		return nil
	})
	if err != nil {
		return err
	}

	for i := range p.Tasks {
		p.Tasks[i].Version = 1
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = createdAt
	s.logger.Debug("plan snapshot created",
		zap.String("job_id", p.JobID), zap.Int64("seq", p.Seq), zap.Int("tasks", len(p.Tasks)))
	return nil
}

// LatestPlan reads the newest snapshot for jobID with its current task rows.
// Stats are recomputed from the rows.
func (s *Store) LatestPlan(ctx context.Context, jobID string) (*plan.Plan, error) {
	return latestPlan(ctx, s.db, jobID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestPlan(ctx context.Context, q queryer, jobID string) (*plan.Plan, error) {
	p := &plan.Plan{JobID: jobID}
	var (
		tallies, issues string
		createdAt       int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT seq, file_name, deduplicated, dropped, tallies_json, issues_json, created_at
		 FROM plans WHERE job_id = ? ORDER BY seq DESC LIMIT 1`, jobID,
	).Scan(&p.Seq, &p.FileName, &p.Deduplicated, &p.Dropped, &tallies, &issues, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrPlanNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	if err := json.Unmarshal([]byte(tallies), &p.Tallies); err != nil {
		return nil, fmt.Errorf("decode tallies: %w", err)
	}
	if err := json.Unmarshal([]byte(issues), &p.Issues); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)

	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+`, updated_at FROM plan_tasks WHERE job_id = ? AND seq = ? ORDER BY ord`,
		jobID, p.Seq)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	defer rows.Close()

	p.UpdatedAt = p.CreatedAt
	for rows.Next() {
		var updatedAt int64
		t, err := scanTask(rows, &updatedAt)
		if err != nil {
			return nil, err
		}
		if u := fromMillis(updatedAt); u.After(p.UpdatedAt) {
			p.UpdatedAt = u
		}
		p.Tasks = append(p.Tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}

	p.RecomputeStats()
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner, extra ...any) (*plan.Task, error) {
	var (
		t                      plan.Task
		source, severity, tier string
		status                 string
		priority               int
		resolution, resolvedBy sql.NullString
		resolvedAt             sql.NullInt64
	)
	dest := []any{
		&t.ID, &t.IssueID, &t.IssueCode, &source, &severity, &priority, &tier, &status,
		&t.Location, &resolution, &resolvedBy, &resolvedAt, &t.Version,
	}
	dest = append(dest, extra...)
	if err := r.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Source = issue.Source(source)
	t.Severity = issue.Severity(severity)
	t.Priority = plan.Priority(priority)
	t.Tier = classify.Tier(tier)
	t.Status = plan.Status(status)
	t.Resolution = resolution.String
	t.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		at := fromMillis(resolvedAt.Int64)
		t.ResolvedAt = &at
	}
	return &t, nil
}

// UpdateTask applies fn to one task of the latest plan inside a transaction
// and writes it back guarded by the row version. A concurrent writer causes
// ErrConflict, which is retried with a fresh read. Returns the stored task
// and stats recomputed from the full task list.
func (s *Store) UpdateTask(ctx context.Context, jobID, taskID string, fn func(*plan.Task) error) (*plan.Task, plan.Stats, error) {
	var (
		updated *plan.Task
		stats   plan.Stats
	)
	err := s.withConflictRetry(ctx, func() error {
		return s.runInTx(ctx, func(tx *sql.Tx) error {
			var seq int64
			err := tx.QueryRowContext(ctx,
				`SELECT seq FROM plans WHERE job_id = ? ORDER BY seq DESC LIMIT 1`, jobID,
			).Scan(&seq)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: job %s", ErrPlanNotFound, jobID)
			}
			if err != nil {
				return fmt.Errorf("read plan seq: %w", err)
			}

			row := tx.QueryRowContext(ctx, s.lock(
				`SELECT `+taskColumns+` FROM plan_tasks WHERE job_id = ? AND seq = ? AND task_id = ?`),
				jobID, seq, taskID)
			task, err := scanTask(row)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: %s in job %s", ErrTaskNotFound, taskID, jobID)
				}
				return err
			}

			if err := fn(task); err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx,
				`UPDATE plan_tasks SET status = ?, resolution = ?, resolved_by = ?, resolved_at = ?,
				 updated_at = ?, version = version + 1
				 WHERE job_id = ? AND seq = ? AND task_id = ? AND version = ?`,
				string(task.Status), nullString(task.Resolution), nullString(task.ResolvedBy),
				nullMillis(task.ResolvedAt), millis(s.now()),
				jobID, seq, taskID, task.Version)
			if err != nil {
				return fmt.Errorf("update task: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("update task: %w", err)
			} else if n == 0 {
				return ErrConflict
			}
			task.Version++

			stats, err = taskStats(ctx, tx, jobID, seq)
			if err != nil {
				return err
			}
			updated = task
			return nil
		})
	})
	if err != nil {
		return nil, plan.Stats{}, err
	}
	return updated, stats, nil
}

// taskStats recomputes stats from every row of the snapshot.
func taskStats(ctx context.Context, q queryer, jobID string, seq int64) (plan.Stats, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status, tier FROM plan_tasks WHERE job_id = ? AND seq = ?`, jobID, seq)
	if err != nil {
		return plan.Stats{}, fmt.Errorf("read task stats: %w", err)
	}
	defer rows.Close()

	var tasks []plan.Task
	for rows.Next() {
		var status, tier string
		if err := rows.Scan(&status, &tier); err != nil {
			return plan.Stats{}, fmt.Errorf("scan task stats: %w", err)
		}
		tasks = append(tasks, plan.Task{Status: plan.Status(status), Tier: classify.Tier(tier)})
	}
	if err := rows.Err(); err != nil {
		return plan.Stats{}, fmt.Errorf("read task stats: %w", err)
	}
	return plan.ComputeStats(tasks), nil
}

// AppendModifications records successful element changes for a run.
func (s *Store) AppendModifications(ctx context.Context, mods []plan.Modification) error {
	if len(mods) == 0 {
		return nil
	}
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO modifications (id, job_id, run_id, issue_code, description, before_value, after_value, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare modification insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range mods {
			if _, err := stmt.ExecContext(ctx,
				m.ID, m.JobID, m.RunID, m.IssueCode, m.Description,
				nullString(m.Before), nullString(m.After), millis(m.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert modification: %w", err)
			}
		}
		return nil
	})
}

// ListModifications returns a job's modification log, oldest first.
func (s *Store) ListModifications(ctx context.Context, jobID string) ([]plan.Modification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, issue_code, description, before_value, after_value, created_at
		 FROM modifications WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list modifications: %w", err)
	}
	defer rows.Close()

	var out []plan.Modification
	for rows.Next() {
		m := plan.Modification{JobID: jobID}
		var before, after sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.RunID, &m.IssueCode, &m.Description, &before, &after, &createdAt); err != nil {
			return nil, fmt.Errorf("scan modification: %w", err)
		}
		m.Before, m.After = before.String, after.String
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}
