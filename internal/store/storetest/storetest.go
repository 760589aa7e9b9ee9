// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/store"
)

// Open returns a store backed by a database file in t.TempDir, closed on cleanup.
func Open(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "remedyd.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// WithPlan opens a store and persists p.
func WithPlan(t testing.TB, p *plan.Plan) *store.Store {
	t.Helper()
	s := Open(t)
	require.NoError(t, s.CreatePlan(context.Background(), p))
	return s
}
