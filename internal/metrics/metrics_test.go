package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_Singleton(t *testing.T) {
	m1 := New()
	m2 := New()
	assert.Same(t, m1, m2)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	before := testutil.ToFloat64(m.DispatchGroups.WithLabelValues("failed"))
	m.DispatchGroups.WithLabelValues("failed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.DispatchGroups.WithLabelValues("failed")))

	before = testutil.ToFloat64(m.TallyMismatches)
	m.TallyMismatches.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.TallyMismatches))
}
