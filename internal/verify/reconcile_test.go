package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
)

func iss(code, loc string, sev issue.Severity) issue.Issue {
	return issue.Issue{Code: code, Source: issue.SourceAce, Severity: sev, Location: loc}
}

func locs(issues []issue.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code + "@" + is.Location
	}
	return out
}

func TestReconcile_StrictMatch(t *testing.T) {
	original := []issue.Issue{
		iss("A", "loc1", issue.SeveritySerious),
		iss("A", "loc2", issue.SeverityModerate),
		iss("B", "loc1", issue.SeverityMinor),
	}
	current := []issue.Issue{iss("A", "loc1", issue.SeveritySerious)}

	r := Reconcile(original, current, nil)
	assert.Equal(t, []string{"A@loc2", "B@loc1"}, locs(r.Resolved))
	assert.Equal(t, []string{"A@loc1"}, locs(r.Remaining))
	assert.Empty(t, r.Regressions)
	assert.Zero(t, r.FuzzyMatches)
	assert.InDelta(t, 66.666, r.Metrics.ResolutionRate, 0.01)
}

func TestReconcile_FuzzyFallback(t *testing.T) {
	original := []issue.Issue{iss("A", "loc1", issue.SeverityCritical)}
	current := []issue.Issue{iss("A", "loc9", issue.SeverityCritical)}

	r := Reconcile(original, current, nil)
	assert.Empty(t, r.Resolved)
	assert.Equal(t, []string{"A@loc9"}, locs(r.Remaining))
	assert.Empty(t, r.Regressions)
	assert.Equal(t, 1, r.FuzzyMatches)
	assert.Equal(t, 1, r.Metrics.CriticalRemaining)
	assert.Zero(t, r.Metrics.CriticalResolved)
}

func TestReconcile_FuzzyRequiresSameSeverity(t *testing.T) {
	original := []issue.Issue{iss("A", "loc1", issue.SeverityCritical)}
	current := []issue.Issue{iss("A", "loc9", issue.SeverityMinor)}

	r := Reconcile(original, current, nil)
	assert.Equal(t, []string{"A@loc1"}, locs(r.Resolved))
	assert.Equal(t, []string{"A@loc9"}, locs(r.Regressions))
}

func TestReconcile_Regression(t *testing.T) {
	r := Reconcile(nil, []issue.Issue{iss("C", "loc1", issue.SeverityModerate)}, nil)
	assert.Empty(t, r.Resolved)
	assert.Empty(t, r.Remaining)
	assert.Equal(t, []string{"C@loc1"}, locs(r.Regressions))
	assert.Equal(t, 0.0, r.Metrics.ResolutionRate)
}

func TestReconcile_EmptyIsZeroNotNaN(t *testing.T) {
	r := Reconcile(nil, nil, nil)
	assert.False(t, math.IsNaN(r.Metrics.ResolutionRate))
	assert.Equal(t, 0.0, r.Metrics.ResolutionRate)
	assert.NotNil(t, r.Resolved)
	assert.Len(t, r.Metrics.BySeverity, len(issue.Severities))
}

func TestReconcile_StrictPassRunsBeforeFuzzy(t *testing.T) {
	// A fuzzy scan in a single pass would let the first original steal
	// the exact match of the second.
	original := []issue.Issue{
		iss("A", "loc1", issue.SeveritySerious),
		iss("A", "loc2", issue.SeveritySerious),
	}
	current := []issue.Issue{
		iss("A", "loc2", issue.SeveritySerious),
		iss("A", "loc7", issue.SeveritySerious),
	}

	r := Reconcile(original, current, nil)
	assert.Equal(t, []string{"A@loc7", "A@loc2"}, locs(r.Remaining))
	assert.Equal(t, 1, r.FuzzyMatches)
	assert.Empty(t, r.Resolved)
	assert.Empty(t, r.Regressions)
}

func TestReconcile_EachIssueConsumedOnce(t *testing.T) {
	original := []issue.Issue{
		iss("A", "loc1", issue.SeveritySerious),
		iss("A", "loc1", issue.SeveritySerious),
	}
	current := []issue.Issue{iss("A", "loc1", issue.SeveritySerious)}

	r := Reconcile(original, current, nil)
	assert.Len(t, r.Remaining, 1)
	assert.Len(t, r.Resolved, 1)
	assert.Equal(t, 50.0, r.Metrics.ResolutionRate)
}

func TestReconcile_NormalizesCodeAndLocation(t *testing.T) {
	original := []issue.Issue{{Code: "EPUB-META-001", Source: issue.SourceEPUBCheck, Severity: issue.SeveritySerious, Location: "OEBPS/content.opf(12,4)"}}
	current := []issue.Issue{{Code: "epub-meta-001", Source: issue.SourceBuiltin, Severity: issue.SeverityMinor, Location: "content.opf"}}

	r := Reconcile(original, current, nil)
	assert.Len(t, r.Remaining, 1)
	assert.Zero(t, r.FuzzyMatches)
}

func TestReconcile_BySeverity(t *testing.T) {
	original := []issue.Issue{
		iss("A", "1", issue.SeverityCritical),
		iss("B", "1", issue.SeverityCritical),
		iss("C", "1", issue.SeverityMinor),
	}
	current := []issue.Issue{iss("B", "1", issue.SeverityCritical)}

	m := Reconcile(original, current, nil).Metrics
	assert.Equal(t, SeverityCounts{Resolved: 1, Remaining: 1}, m.BySeverity[issue.SeverityCritical])
	assert.Equal(t, SeverityCounts{Resolved: 1}, m.BySeverity[issue.SeverityMinor])
	assert.Equal(t, SeverityCounts{}, m.BySeverity[issue.SeveritySerious])
	assert.Equal(t, 1, m.CriticalResolved)
	assert.Equal(t, 1, m.CriticalRemaining)
}

func TestResolutionRate(t *testing.T) {
	assert.Equal(t, 0.0, ResolutionRate(0, 0))
	assert.Equal(t, 100.0, ResolutionRate(3, 0))
	assert.Equal(t, 0.0, ResolutionRate(0, 4))
	assert.Equal(t, 25.0, ResolutionRate(1, 3))
}

func TestReconcile_AliasMatchesCanonicalCode(t *testing.T) {
	c, err := classify.Default()
	require.NoError(t, err)

	original := []issue.Issue{{Code: "EPUB-META-001", Source: issue.SourceBuiltin, Severity: issue.SeveritySerious, Location: "content.opf"}}
	current := []issue.Issue{iss("epub-lang", "content.opf", issue.SeveritySerious)}

	r := Reconcile(original, current, c)
	assert.Zero(t, r.Metrics.Resolved)
	assert.Equal(t, 1, r.Metrics.Remaining)
	assert.Zero(t, r.Metrics.Regressions)

	// Without a classifier the two codes are unrelated.
	r = Reconcile(original, current, nil)
	assert.Equal(t, 1, r.Metrics.Resolved)
	assert.Equal(t, 1, r.Metrics.Regressions)
}
