package plan

import (
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// Statuses lists every status.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Resolving reports whether entering s stamps resolution fields.
func (s Status) Resolving() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders tasks; lower is more urgent.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityMedium   Priority = 3
	PriorityLow      Priority = 4
)

var severityPriority = map[issue.Severity]Priority{
	issue.SeverityCritical: PriorityCritical,
	issue.SeveritySerious:  PriorityHigh,
	issue.SeverityModerate: PriorityMedium,
	issue.SeverityMinor:    PriorityLow,
}

// PriorityFor maps a severity onto the fixed priority table.
func PriorityFor(sev issue.Severity) Priority {
	if p, ok := severityPriority[sev]; ok {
		return p
	}
	return PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Task is one remediation unit derived from a surviving issue.
type Task struct {
	ID         string         `json:"id"`
	IssueID    string         `json:"issueId"`
	IssueCode  string         `json:"issueCode"`
	Source     issue.Source   `json:"source,omitempty"`
	Severity   issue.Severity `json:"severity"`
	Priority   Priority       `json:"priority"`
	Tier       classify.Tier  `json:"type"`
	Status     Status         `json:"status"`
	Location   string         `json:"location,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
	ResolvedBy string         `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`

	// Version is the optimistic concurrency counter of the stored row.
	Version int64 `json:"-"`
}

// Stats summarizes a task list. Always recomputed from the full list.
type Stats struct {
	ByStatus map[Status]int        `json:"byStatus"`
	ByType   map[classify.Tier]int `json:"byType"`
	Total    int                   `json:"total"`
}

// Tally counts a collection by source, severity and classification.
type Tally struct {
	BySource   map[issue.Source]int   `json:"bySource"`
	BySeverity map[issue.Severity]int `json:"bySeverity"`
	ByTier     map[classify.Tier]int  `json:"byClassification"`
	GrandTotal int                    `json:"grandTotal"`
}

// Tallies pairs the audit-side and plan-side tallies.
type Tallies struct {
	Audit Tally `json:"audit"`
	Plan  Tally `json:"plan"`
}

// TallyCheck is the result of the conservation check.
type TallyCheck struct {
	Audit        int  `json:"audit"`
	Plan         int  `json:"plan"`
	Deduplicated int  `json:"deduplicated"`
	OK           bool `json:"ok"`
}

// Plan is one immutable snapshot of a job's remediation plan. Task status
// changes after creation live in the store's per-task rows.
type Plan struct {
	JobID    string `json:"jobId"`
	FileName string `json:"fileName"`

	// Seq orders snapshots of the same job; the highest wins.
	Seq int64 `json:"seq"`

	Tasks   []Task  `json:"tasks"`
	Stats   Stats   `json:"stats"`
	Tallies Tallies `json:"tallies"`

	Deduplicated int `json:"deduplicated"`
	Dropped      int `json:"dropped"`

	// Issues are the validated audit issues that survived deduplication,
	// one per task. Full verification reconciles against them.
	Issues []issue.Issue `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Record is the persisted, language-neutral JSON shape of a plan.
type Record struct {
	JobID       string    `json:"jobId"`
	FileName    string    `json:"fileName"`
	TotalIssues int       `json:"totalIssues"`
	Tasks       []Task    `json:"tasks"`
	Stats       Stats     `json:"stats"`
	Tallies     Tallies   `json:"tallies"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Modification is one audit-trail entry for a successful element change.
type Modification struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	RunID       string    `json:"runId"`
	IssueCode   string    `json:"issueCode"`
	Description string    `json:"description"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
