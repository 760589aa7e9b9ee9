package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/store/storetest"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/tenant"
)

type recordingPublisher struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, kind events.Kind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := payload.(Transition); ok && kind == events.JobTransitioned {
		r.transitions = append(r.transitions, tr)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateAnalyzing, true},
		{StateAnalyzing, StateAwaitingReview, true},
		{StateAwaitingReview, StateRemediating, true},
		{StateAwaitingReview, StateAnalyzing, true},
		{StateRemediating, StateVerifying, true},
		{StateVerifying, StateCompleted, true},
		{StateQueued, StateFailed, true},
		{StateAwaitingReview, StateFailed, true},
		{StateQueued, StateRemediating, false},
		{StateVerifying, StateAnalyzing, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAdmit(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	m := NewManager(storetest.Open(t), WithMaxConcurrentPerTenant(2), WithTracer(tt.Tracer("jobs")))
	ctx := context.Background()

	j1, err := m.Admit(ctx, "acme", "a.json")
	require.NoError(t, err)
	assert.Equal(t, string(StateQueued), j1.State)
	_, err = m.Admit(ctx, "acme", "b.json")
	require.NoError(t, err)

	_, err = m.Admit(ctx, "acme", "c.json")
	require.ErrorIs(t, err, ErrTooManyConcurrentJobs)
	tt.AssertSpanStatusError(t, "jobs.admit")

	// Another tenant is unaffected.
	_, err = m.Admit(ctx, "globex", "a.json")
	require.NoError(t, err)

	// Jobs waiting for review do not count.
	_, err = m.Transition(ctx, j1.ID, StateAnalyzing)
	require.NoError(t, err)
	_, err = m.Transition(ctx, j1.ID, StateAwaitingReview)
	require.NoError(t, err)
	_, err = m.Admit(ctx, "acme", "c.json")
	require.NoError(t, err)
}

func TestAdmit_Validation(t *testing.T) {
	m := NewManager(storetest.Open(t))
	_, err := m.Admit(context.Background(), "Bad Tenant", "a.json")
	require.ErrorIs(t, err, tenant.ErrInvalidTenantID)
	_, err = m.Admit(context.Background(), "acme", "")
	require.Error(t, err)
}

func TestAdmit_ConcurrentRequestsRespectCap(t *testing.T) {
	m := NewManager(storetest.Open(t), WithMaxConcurrentPerTenant(3))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Admit(context.Background(), "acme", "a.json")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if assert.ErrorIs(t, err, ErrTooManyConcurrentJobs) {
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
	assert.Equal(t, 7, rejected)
}

func TestTransition(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(storetest.Open(t), WithPublisher(pub))
	ctx := context.Background()

	j, err := m.Admit(ctx, "acme", "a.json")
	require.NoError(t, err)

	_, err = m.Transition(ctx, j.ID, StateRemediating)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Transition(ctx, j.ID, StateAnalyzing)
	require.NoError(t, err)
	failed, err := m.Fail(ctx, j.ID, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, string(StateFailed), failed.State)
	assert.Equal(t, assert.AnError.Error(), failed.Error)

	_, err = m.Transition(ctx, j.ID, StateAnalyzing)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Len(t, pub.transitions, 2)
	assert.Equal(t, Transition{JobID: j.ID, From: StateQueued, To: StateAnalyzing}, pub.transitions[0])
	assert.Equal(t, StateFailed, pub.transitions[1].To)
}

func TestSweeper_FailsStaleActiveJobs(t *testing.T) {
	s := storetest.Open(t)
	tl := logging.NewTestLogger()
	m := NewManager(s, WithLogger(tl.Underlying()))
	ctx := context.Background()

	stuck, err := m.Admit(ctx, "acme", "a.json")
	require.NoError(t, err)
	_, err = m.Transition(ctx, stuck.ID, StateAnalyzing)
	require.NoError(t, err)

	waiting, err := m.Admit(ctx, "acme", "b.json")
	require.NoError(t, err)
	_, err = m.Transition(ctx, waiting.ID, StateAnalyzing)
	require.NoError(t, err)
	_, err = m.Transition(ctx, waiting.ID, StateAwaitingReview)
	require.NoError(t, err)

	queued, err := m.Admit(ctx, "acme", "c.json")
	require.NoError(t, err)

	// Nothing is old enough yet.
	sw, err := NewSweeper(m, time.Hour, time.Minute)
	require.NoError(t, err)
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StateFailed), got.State)
	assert.Equal(t, StaleMessage, got.Error)

	for _, id := range []string{waiting.ID, queued.ID} {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, string(StateFailed), got.State)
	}
	tl.AssertLogged(t, zapcore.WarnLevel, "swept stale job")
}

func TestSweeper_StartStop(t *testing.T) {
	m := NewManager(storetest.Open(t))
	sw, err := NewSweeper(m, time.Hour, 10*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, sw.Start())
	require.Error(t, sw.Start())
	time.Sleep(30 * time.Millisecond)
	sw.Stop()
	sw.Stop()
}

func TestNewSweeper_Validation(t *testing.T) {
	_, err := NewSweeper(nil, time.Hour, time.Minute)
	require.Error(t, err)
	_, err = NewSweeper(NewManager(storetest.Open(t)), 0, time.Minute)
	require.Error(t, err)
}
