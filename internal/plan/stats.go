package plan

import (
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
)

// ComputeStats rebuilds the aggregate view from a full task list. Every
// status and tier key is present, zero or not.
func ComputeStats(tasks []Task) Stats {
	s := Stats{
		ByStatus: make(map[Status]int, len(Statuses)),
		ByType:   make(map[classify.Tier]int, len(classify.Tiers)),
		Total:    len(tasks),
	}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, tier := range classify.Tiers {
		s.ByType[tier] = 0
	}
	for _, t := range tasks {
		s.ByStatus[t.Status]++
		s.ByType[t.Tier]++
	}
	return s
}

// RecomputeStats refreshes p.Stats from p.Tasks.
func (p *Plan) RecomputeStats() {
	p.Stats = ComputeStats(p.Tasks)
}

// TotalIssues is the number of tasks in the plan.
func (p *Plan) TotalIssues() int {
	return len(p.Tasks)
}

// Task returns the task with id, if present.
func (p *Plan) Task(id string) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// Record produces the persisted JSON record of the plan.
func (p *Plan) Record() Record {
	return Record{
		JobID:       p.JobID,
		FileName:    p.FileName,
		TotalIssues: p.TotalIssues(),
		Tasks:       p.Tasks,
		Stats:       p.Stats,
		Tallies:     p.Tallies,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func newTally() Tally {
	return Tally{
		BySource:   make(map[issue.Source]int),
		BySeverity: make(map[issue.Severity]int),
		ByTier:     make(map[classify.Tier]int),
	}
}

// AuditTally counts validated issues, classifying each code.
func AuditTally(issues []issue.Issue, c *classify.Classifier) Tally {
	t := newTally()
	for _, i := range issues {
		t.BySource[i.Source]++
		t.BySeverity[i.Severity]++
		t.ByTier[c.Classify(i.Code)]++
		t.GrandTotal++
	}
	return t
}

// TaskTally counts plan tasks.
func TaskTally(tasks []Task) Tally {
	t := newTally()
	for _, task := range tasks {
		t.BySource[task.Source]++
		t.BySeverity[task.Severity]++
		t.ByTier[task.Tier]++
		t.GrandTotal++
	}
	return t
}

// ValidateConservation checks audit == plan + deduplicated.
func ValidateConservation(audit, planTally Tally, deduplicated int) TallyCheck {
	return TallyCheck{
		Audit:        audit.GrandTotal,
		Plan:         planTally.GrandTotal,
		Deduplicated: deduplicated,
		OK:           audit.GrandTotal == planTally.GrandTotal+deduplicated,
	}
}
