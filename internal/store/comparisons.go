package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ComparisonRecord is an archived verification report. Body is opaque JSON.
type ComparisonRecord struct {
	ID        string
	JobID     string
	Body      json.RawMessage
	CreatedAt time.Time
}

// SaveComparison archives a report. Comparisons never touch task rows.
func (s *Store) SaveComparison(ctx context.Context, rec ComparisonRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO comparisons (id, job_id, body, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.JobID, string(rec.Body), millis(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}
	return nil
}

// ListComparisons returns a job's archived reports, newest first.
func (s *Store) ListComparisons(ctx context.Context, jobID string) ([]ComparisonRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, created_at FROM comparisons WHERE job_id = ? ORDER BY created_at DESC, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list comparisons: %w", err)
	}
	defer rows.Close()

	var out []ComparisonRecord
	for rows.Next() {
		rec := ComparisonRecord{JobID: jobID}
		var body string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comparison: %w", err)
		}
		rec.Body = json.RawMessage(body)
		rec.CreatedAt = fromMillis(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
