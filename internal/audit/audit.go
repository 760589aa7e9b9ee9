// Package audit runs accessibility checks over a document artifact.
package audit

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remedyd/internal/document"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
)

// Auditor produces the issue list for an artifact. It is used for the
// initial plan input and for full re-audit verification.
type Auditor interface {
	Run(ctx context.Context, artifact []byte) ([]issue.Issue, error)
}

// DocumentAuditor applies the built-in rule set to the document model.
type DocumentAuditor struct {
	logger *zap.Logger
}

// NewDocumentAuditor creates the built-in auditor.
func NewDocumentAuditor(logger *zap.Logger) *DocumentAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentAuditor{logger: logger}
}

// Run implements Auditor.
func (a *DocumentAuditor) Run(ctx context.Context, artifact []byte) ([]issue.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := document.Decode(artifact)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	var issues []issue.Issue
	switch doc.Format {
	case document.FormatEPUB:
		issues = auditEPUB(doc)
	case document.FormatPDF:
		issues = auditPDF(doc)
	}
	for i := range issues {
		issues[i].ID = issue.DeriveID(issues[i])
	}
	a.logger.Debug("audit complete",
		zap.String("format", string(doc.Format)),
		zap.Int("issues", len(issues)),
	)
	return issues, nil
}

func builtin(code string, sev issue.Severity, loc, msg string) issue.Issue {
	return issue.Issue{Code: code, Source: issue.SourceBuiltin, Severity: sev, Location: loc, Message: msg}
}

var epubMetadataRules = []struct {
	code string
	key  string
	sev  issue.Severity
	msg  string
}{
	{"EPUB-META-002", document.MetaAccessMode, issue.SeverityModerate, "missing schema:accessMode"},
	{"EPUB-META-003", document.MetaAccessibilityFeature, issue.SeverityModerate, "missing schema:accessibilityFeature"},
	{"EPUB-META-004", document.MetaAccessibilitySummary, issue.SeverityMinor, "missing schema:accessibilitySummary"},
	{"EPUB-META-005", document.MetaAccessibilityHazard, issue.SeverityMinor, "missing schema:accessibilityHazard"},
}

func auditEPUB(doc *document.Document) []issue.Issue {
	var out []issue.Issue
	if doc.Language == "" {
		out = append(out, builtin("EPUB-META-001", issue.SeveritySerious, doc.Package, "publication language not declared"))
	}
	for _, r := range epubMetadataRules {
		if !doc.HasMeta(r.key) {
			out = append(out, builtin(r.code, r.sev, doc.Package, r.msg))
		}
	}
	for _, c := range doc.Contents {
		if c.Lang == "" {
			out = append(out, builtin("EPUB-SEM-001", issue.SeverityModerate, c.Path, "content document has no lang attribute"))
		}
		for _, img := range c.Images {
			if img.MissingAlt() {
				out = append(out, builtin("EPUB-IMG-001", issue.SeverityCritical, c.Path+"#"+img.ID, "image has no alternative text"))
			}
		}
	}
	if len(doc.Contents) > 1 && len(doc.Nav) == 0 {
		out = append(out, builtin("EPUB-NAV-001", issue.SeverityMinor, "nav.xhtml", "no page list"))
	}
	return out
}

func auditPDF(doc *document.Document) []issue.Issue {
	var out []issue.Issue
	if doc.Language == "" {
		out = append(out, issue.Issue{
			Code: "PDF-LANG-001", Source: issue.SourcePDF, Severity: issue.SeveritySerious,
			Location: "document", Message: "document language not set",
		})
	}
	if doc.Title == "" {
		out = append(out, issue.Issue{
			Code: "PDF-TITLE-001", Source: issue.SourcePDF, Severity: issue.SeverityModerate,
			Location: "document", Message: "document title not set",
		})
	}
	for i, c := range doc.Contents {
		for _, img := range c.Images {
			if !img.MissingAlt() {
				continue
			}
			page := i + 1
			out = append(out, issue.Issue{
				Code: "PDF-IMG-ALT-001", Source: issue.SourcePDF, Severity: issue.SeveritySerious,
				Location: "page " + strconv.Itoa(page), Message: "figure has no alternate text",
				PDF: &issue.PDFDetail{Page: page, Object: img.ID},
			})
		}
	}
	return out
}

// RateLimited throttles an Auditor. Re-audits are expensive and the
// external engines behind an Auditor are shared between jobs.
type RateLimited struct {
	next    Auditor
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond audits with the given burst. A
// non-positive rate disables limiting.
func NewRateLimited(next Auditor, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Run implements Auditor.
func (r *RateLimited) Run(ctx context.Context, artifact []byte) ([]issue.Issue, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("audit rate limit: %w", err)
	}
	return r.next.Run(ctx, artifact)
}
