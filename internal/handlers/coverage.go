package handlers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
)

// CoverageReport compares the registry against the classification catalog.
type CoverageReport struct {
	// MissingAutoFixable are AUTO_FIXABLE codes with no handler, directly
	// or through their canonical alias.
	MissingAutoFixable []string `json:"missingAutoFixable"`
	// ManualWithHandler are MANUAL codes that have a handler.
	ManualWithHandler []string `json:"manualWithHandler"`
	// Unclassified are handler codes absent from the catalog.
	Unclassified []string `json:"unclassified"`
	// QuickFixWithoutHandler is informational: quick fixes may be manual.
	QuickFixWithoutHandler []string `json:"quickFixWithoutHandler"`
}

// OK reports whether the registry and catalog agree.
func (r CoverageReport) OK() bool {
	return len(r.MissingAutoFixable) == 0 && len(r.ManualWithHandler) == 0 && len(r.Unclassified) == 0
}

// Err summarizes a failed report, or returns nil.
func (r CoverageReport) Err() error {
	if r.OK() {
		return nil
	}
	var parts []string
	if len(r.MissingAutoFixable) > 0 {
		parts = append(parts, "auto-fixable without handler: "+strings.Join(r.MissingAutoFixable, ", "))
	}
	if len(r.ManualWithHandler) > 0 {
		parts = append(parts, "manual codes with handler: "+strings.Join(r.ManualWithHandler, ", "))
	}
	if len(r.Unclassified) > 0 {
		parts = append(parts, "unclassified handler codes: "+strings.Join(r.Unclassified, ", "))
	}
	return fmt.Errorf("handler coverage: %s", strings.Join(parts, "; "))
}

// CheckCoverage verifies every AUTO_FIXABLE code has a handler and that no
// handler is registered for a MANUAL or unknown code.
func CheckCoverage(reg *Registry, c *classify.Classifier) CoverageReport {
	var rep CoverageReport
	for _, code := range c.Codes(classify.TierAutoFixable) {
		if _, ok := reg.Resolve(code, c); !ok {
			rep.MissingAutoFixable = append(rep.MissingAutoFixable, code)
		}
	}
	for _, code := range c.Codes(classify.TierQuickFix) {
		if _, ok := reg.Resolve(code, c); !ok {
			rep.QuickFixWithoutHandler = append(rep.QuickFixWithoutHandler, code)
		}
	}
	for _, code := range reg.Codes() {
		switch {
		case !c.Known(code):
			rep.Unclassified = append(rep.Unclassified, code)
		case c.Classify(code) == classify.TierManual:
			rep.ManualWithHandler = append(rep.ManualWithHandler, code)
		}
	}
	sort.Strings(rep.Unclassified)
	sort.Strings(rep.ManualWithHandler)
	return rep
}
