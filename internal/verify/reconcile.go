package verify

import (
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
)

// Reconciliation is the diff of an original audit against a re-audit.
type Reconciliation struct {
	// Resolved are original issues with no counterpart in the re-audit.
	Resolved []issue.Issue `json:"resolved"`
	// Remaining are re-audit issues matched to an original issue.
	Remaining []issue.Issue `json:"remaining"`
	// Regressions are re-audit issues matched to no original issue.
	Regressions []issue.Issue `json:"regressions"`
	// FuzzyMatches counts remaining issues matched by code and severity
	// after the location changed.
	FuzzyMatches int     `json:"fuzzyMatches"`
	Metrics      Metrics `json:"metrics"`
}

// SeverityCounts is one severity bucket.
type SeverityCounts struct {
	Resolved  int `json:"resolved"`
	Remaining int `json:"remaining"`
}

// Metrics are the headline numbers of a reconciliation.
type Metrics struct {
	// ResolutionRate is resolved / (resolved + remaining) * 100, or 0 when
	// both are zero.
	ResolutionRate    float64                           `json:"resolutionRate"`
	Resolved          int                               `json:"resolved"`
	Remaining         int                               `json:"remaining"`
	Regressions       int                               `json:"regressions"`
	BySeverity        map[issue.Severity]SeverityCounts `json:"bySeverity"`
	CriticalResolved  int                               `json:"criticalResolved"`
	CriticalRemaining int                               `json:"criticalRemaining"`
}

// Reconcile matches original against current in two greedy passes. Codes
// compare by their canonical form when c is non-nil, so an alias reported
// by another engine matches the code it duplicates.
//
// Pass one pairs issues with the same code and normalized location. Pass
// two pairs the still-unmatched originals with the same code and severity,
// tolerating location drift from content reflow. Both passes scan original
// in list order and take the first unconsumed candidate from current in
// list order, so the result depends on input order. Each issue is used at
// most once.
func Reconcile(original, current []issue.Issue, c *classify.Classifier) Reconciliation {
	matched := make([]int, len(original)) // index into current, -1 if none
	consumed := make([]bool, len(current))
	for i := range matched {
		matched[i] = -1
	}

	type key struct{ code, loc string }
	currentKeys := make([]key, len(current))
	codeKey := func(code string) string {
		if c != nil {
			code = c.CanonicalOrSelf(code)
		}
		return classify.NormalizeCode(code)
	}
	for j, cur := range current {
		currentKeys[j] = key{codeKey(cur.Code), cur.NormalizedLocation()}
	}

	for i, o := range original {
		k := key{codeKey(o.Code), o.NormalizedLocation()}
		for j := range current {
			if !consumed[j] && currentKeys[j] == k {
				matched[i], consumed[j] = j, true
				break
			}
		}
	}

	fuzzy := 0
	for i, o := range original {
		if matched[i] >= 0 {
			continue
		}
		code := codeKey(o.Code)
		for j, cur := range current {
			if !consumed[j] && currentKeys[j].code == code && cur.Severity == o.Severity {
				matched[i], consumed[j] = j, true
				fuzzy++
				break
			}
		}
	}

	r := Reconciliation{
		Resolved:     []issue.Issue{},
		Remaining:    []issue.Issue{},
		Regressions:  []issue.Issue{},
		FuzzyMatches: fuzzy,
	}
	for i, o := range original {
		if matched[i] < 0 {
			r.Resolved = append(r.Resolved, o)
		} else {
			r.Remaining = append(r.Remaining, current[matched[i]])
		}
	}
	for j, cur := range current {
		if !consumed[j] {
			r.Regressions = append(r.Regressions, cur)
		}
	}
	r.Metrics = computeMetrics(r)
	return r
}

func computeMetrics(r Reconciliation) Metrics {
	m := Metrics{
		Resolved:    len(r.Resolved),
		Remaining:   len(r.Remaining),
		Regressions: len(r.Regressions),
		BySeverity:  make(map[issue.Severity]SeverityCounts, len(issue.Severities)),
	}
	for _, sev := range issue.Severities {
		m.BySeverity[sev] = SeverityCounts{}
	}
	for _, i := range r.Resolved {
		c := m.BySeverity[i.Severity]
		c.Resolved++
		m.BySeverity[i.Severity] = c
	}
	for _, i := range r.Remaining {
		c := m.BySeverity[i.Severity]
		c.Remaining++
		m.BySeverity[i.Severity] = c
	}
	m.CriticalResolved = m.BySeverity[issue.SeverityCritical].Resolved
	m.CriticalRemaining = m.BySeverity[issue.SeverityCritical].Remaining
	m.ResolutionRate = ResolutionRate(m.Resolved, m.Remaining)
	return m
}

// ResolutionRate returns resolved / (resolved + remaining) * 100, defined
// as 0 when nothing was resolved or remains.
func ResolutionRate(resolved, remaining int) float64 {
	total := resolved + remaining
	if total == 0 {
		return 0
	}
	return float64(resolved) / float64(total) * 100
}
