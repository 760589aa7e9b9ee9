// Package issue defines the validated accessibility finding produced by an
// audit engine. Shape checks happen once, here; downstream packages trust it.
package issue

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks an entry that cannot become an Issue.
var ErrMalformed = errors.New("malformed issue")

// Severity is the impact reported by the audit engine.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeveritySerious  Severity = "serious"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityCritical, SeveritySerious, SeverityModerate, SeverityMinor}

// ParseSeverity parses a severity case-insensitively.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sev {
	case SeverityCritical, SeveritySerious, SeverityModerate, SeverityMinor:
		return sev, true
	}
	return "", false
}

// Source identifies the audit engine that produced an issue.
type Source string

const (
	// SourceAce is the DAISY Ace EPUB checker.
	SourceAce Source = "ace"
	// SourceEPUBCheck is the W3C EPUBCheck validator.
	SourceEPUBCheck Source = "epubcheck"
	// SourcePDF is the PDF accessibility checker.
	SourcePDF Source = "pdf"
	// SourceBuiltin is remedyd's own document auditor.
	SourceBuiltin Source = "builtin"
)

// Valid reports whether s is a known engine.
func (s Source) Valid() bool {
	switch s {
	case SourceAce, SourceEPUBCheck, SourcePDF, SourceBuiltin:
		return true
	}
	return false
}

// AceDetail carries Ace-specific fields.
type AceDetail struct {
	// Rule is the axe rule id, e.g. "image-alt".
	Rule string `json:"rule,omitempty"`
	// Impact is Ace's own impact label.
	Impact string `json:"impact,omitempty"`
	// HTML is the offending element snippet.
	HTML string `json:"html,omitempty"`
	// WCAG lists referenced success criteria.
	WCAG []string `json:"wcag,omitempty"`
}

// EPUBCheckDetail carries EPUBCheck-specific fields.
type EPUBCheckDetail struct {
	MessageID string `json:"message_id,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

// PDFDetail carries PDF checker fields.
type PDFDetail struct {
	Page   int    `json:"page,omitempty"`
	Object string `json:"object,omitempty"`
}

// Issue is one accessibility finding. Immutable once parsed.
type Issue struct {
	// ID identifies the issue within its audit. Derived when absent.
	ID string `json:"id"`

	// Code is the engine-specific issue code.
	Code string `json:"code"`

	// Source is the engine that reported the issue.
	Source Source `json:"source"`

	// Severity is the normalized severity.
	Severity Severity `json:"severity"`

	// Location is the raw location as reported.
	Location string `json:"location,omitempty"`

	Message    string `json:"message,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`

	// At most one detail payload is set and it matches Source.
	Ace       *AceDetail       `json:"ace,omitempty"`
	EPUBCheck *EPUBCheckDetail `json:"epubcheck,omitempty"`
	PDF       *PDFDetail       `json:"pdf,omitempty"`
}

// NormalizedLocation returns the location in the cross-engine form.
func (i Issue) NormalizedLocation() string {
	return NormalizeLocation(i.Source, i.Location)
}

// Validate checks the shape invariants of an Issue.
func (i Issue) Validate() error {
	if strings.TrimSpace(i.Code) == "" {
		return fmt.Errorf("%w: empty code", ErrMalformed)
	}
	if !i.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrMalformed, i.Source)
	}
	if _, ok := ParseSeverity(string(i.Severity)); !ok {
		return fmt.Errorf("%w: unknown severity %q", ErrMalformed, i.Severity)
	}

	details := 0
	if i.Ace != nil {
		details++
		if i.Source != SourceAce {
			return fmt.Errorf("%w: ace detail on %s issue", ErrMalformed, i.Source)
		}
	}
	if i.EPUBCheck != nil {
		details++
		if i.Source != SourceEPUBCheck {
			return fmt.Errorf("%w: epubcheck detail on %s issue", ErrMalformed, i.Source)
		}
	}
	if i.PDF != nil {
		details++
		if i.Source != SourcePDF {
			return fmt.Errorf("%w: pdf detail on %s issue", ErrMalformed, i.Source)
		}
	}
	if details > 1 {
		return fmt.Errorf("%w: multiple detail payloads", ErrMalformed)
	}
	return nil
}

// Parse validates one raw entry. Non-objects, wrongly typed fields and
// unknown enums yield an error wrapping ErrMalformed.
func Parse(raw json.RawMessage) (Issue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Issue{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var i Issue
	if err := json.Unmarshal(trimmed, &i); err != nil {
		return Issue{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	i.Code = strings.TrimSpace(i.Code)
	i.Source = Source(strings.ToLower(strings.TrimSpace(string(i.Source))))
	if sev, ok := ParseSeverity(string(i.Severity)); ok {
		i.Severity = sev
	}
	if err := i.Validate(); err != nil {
		return Issue{}, err
	}
	if i.ID == "" {
		i.ID = DeriveID(i)
	}
	return i, nil
}

// ParseAll validates every entry, returning the valid issues in input order
// and the number of entries dropped.
func ParseAll(raws []json.RawMessage) ([]Issue, int) {
	out := make([]Issue, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		i, err := Parse(raw)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, i)
	}
	return out, dropped
}

// ParseList decodes a JSON array of entries and validates each element.
func ParseList(data []byte) ([]Issue, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decoding issue list: %w", err)
	}
	issues, dropped := ParseAll(raws)
	return issues, dropped, nil
}

// DeriveID builds a stable identifier from the issue content.
func DeriveID(i Issue) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		string(i.Source), i.Code, i.NormalizedLocation(), i.Message,
	}, "|")))
	return "iss-" + hex.EncodeToString(h[:])[:12]
}
