// Package store persists jobs, plan snapshots, per-task rows, modification
// logs and verification comparisons in SQL.
//
// Plans are append-only per job: each build inserts a new snapshot with a
// higher seq and reads always resolve the latest one. Task status changes
// update that snapshot's task rows one at a time under a version check, and
// aggregate stats are recomputed from the full row set on every read.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrPlanNotFound means no plan snapshot exists for the job.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrTaskNotFound means the task id is absent from the latest plan.
	ErrTaskNotFound = errors.New("task not found")
	// ErrJobNotFound means no job row exists.
	ErrJobNotFound = errors.New("job not found")
	// ErrConflict is an optimistic version mismatch. Retried internally.
	ErrConflict = errors.New("concurrent modification")
	// ErrAtCapacity means the tenant already has the maximum in-flight jobs.
	ErrAtCapacity = errors.New("tenant at job capacity")
)

// Config selects and tunes the backing database.
type Config struct {
	// Driver is "sqlite" or "mysql".
	Driver string
	// DSN is a file path for sqlite or a go-sql-driver DSN for mysql.
	DSN string
	// MaxRetries bounds ErrConflict retries per mutation.
	MaxRetries int
}

// Store is the SQL-backed job and plan store. Safe for concurrent use.
type Store struct {
	db         *sql.DB
	dialect    dialect
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		d = sqliteDialect
		db, err = openSQLite(cfg.DSN)
	case "mysql":
		d = mysqlDialect
		db, err = openMySQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:         db,
		dialect:    d,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		now:        time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store opened", zap.String("driver", d.driver))
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn = "file:" + dsn + "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; transactions must only use tx.
	db.SetMaxOpenConns(1)
	return db, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.MultiStatements = false
	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.statements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// isDuplicateIndex matches mysql error 1061, raised when re-creating an index.
func isDuplicateIndex(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1061
}

// runInTx executes fn in a transaction, rolling back on error or panic.
func (s *Store) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// withConflictRetry retries op on ErrConflict with exponential backoff.
// Any other error stops immediately.
func (s *Store) withConflictRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("retrying after version conflict", zap.Int("attempt", attempt))
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Store) lock(query string) string {
	return query + s.dialect.lockSuffix
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
