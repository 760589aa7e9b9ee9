// Package review defines the decisions a reviewer makes at the
// human-review gate, keyed by issue code.
package review

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
)

// Decision is a reviewer verdict for every pending task of one code.
type Decision string

const (
	// Approve leaves tasks PENDING for the dispatcher.
	Approve Decision = "APPROVE"
	// Skip marks PENDING tasks SKIPPED.
	Skip Decision = "SKIP"
	// Defer hands PENDING tasks to manual work: they move to IN_PROGRESS,
	// which the dispatcher never selects.
	Defer Decision = "DEFER"
)

const (
	// SkipResolution is recorded on tasks skipped by a reviewer.
	SkipResolution = "skipped by reviewer"
	// DeferResolution is recorded on tasks deferred by a reviewer.
	DeferResolution = "deferred by reviewer"
)

// ParseDecision parses a decision case-insensitively.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case Approve, Skip, Defer:
		return d, nil
	}
	return "", fmt.Errorf("unknown review decision %q", s)
}

// Decisions maps normalized issue codes to decisions.
type Decisions map[string]Decision

// Set records d for code.
func (ds Decisions) Set(code string, d Decision) {
	ds[classify.NormalizeCode(code)] = d
}

// For returns the decision for code, falling back to the decision made for
// its canonical alias.
func (ds Decisions) For(code string, c *classify.Classifier) (Decision, bool) {
	if d, ok := ds[classify.NormalizeCode(code)]; ok {
		return d, true
	}
	if c != nil {
		if canonical, ok := c.Canonical(code); ok {
			d, ok := ds[classify.NormalizeCode(canonical)]
			return d, ok
		}
	}
	return "", false
}

// Parse builds Decisions from "CODE=DECISION" pairs.
func Parse(pairs []string) (Decisions, error) {
	ds := make(Decisions, len(pairs))
	for _, p := range pairs {
		code, verdict, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("decision %q: want CODE=APPROVE|SKIP|DEFER", p)
		}
		d, err := ParseDecision(verdict)
		if err != nil {
			return nil, err
		}
		ds.Set(code, d)
	}
	return ds, nil
}
