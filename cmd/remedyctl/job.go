package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/review"
	"github.com/fyrsmithlabs/remedyd/internal/tenant"
)

var (
	jobTenantID   string
	jobTemporal   bool
	jobIssuesPath string
	jobStates     []string
)

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(advanceCmd)

	submitCmd.Flags().StringVar(&jobTenantID, "tenant-id", "", "Tenant identifier (defaults to $REMEDYD_TENANT or $USER)")
	submitCmd.Flags().BoolVar(&jobTemporal, "temporal", false, "Start a job workflow after admission")
	submitCmd.Flags().StringVar(&jobIssuesPath, "issues", "", "Audit output (.json/.yaml) handed to the workflow instead of auditing")

	analyzeCmd.Flags().StringVar(&jobIssuesPath, "issues", "", "Audit output (.json/.yaml) to build the plan from instead of auditing")

	jobsCmd.Flags().StringSliceVar(&jobStates, "state", nil, "Filter by job state (repeatable)")
}

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Admit a job for a document artifact",
	Long: `Admit a remediation job and store its artifact.

Examples:
  # Submit an EPUB document
  remedyctl submit book.json --tenant-id acme

  # Submit and let a Temporal workflow drive the job
  remedyctl submit book.json --tenant-id acme --temporal`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <job-id>",
	Short: "Build the remediation plan and park the job for review",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE:  runJobs,
}

var reviewCmd = &cobra.Command{
	Use:   "review <job-id> CODE=DECISION...",
	Short: "Apply review decisions to a job's pending tasks",
	Long: `Apply APPROVE, SKIP or DEFER to every pending task of an issue code.
DEFER hands the tasks to manual work (IN_PROGRESS); the dispatcher skips them.
The job stays at the review gate.

Examples:
  remedyctl review job-123 EPUB-NAV-001=SKIP EPUB-IMG-001=DEFER`,
	Args: cobra.MinimumNArgs(2),
	RunE: runReview,
}

var advanceCmd = &cobra.Command{
	Use:   "advance <job-id> [CODE=DECISION...]",
	Short: "Review, remediate and verify a job",
	Long: `Advance a job from the review gate to completion. When the config
enables Temporal, the decisions are signalled to the job's workflow.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdvance,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}

	tenantID := jobTenantID
	if tenantID == "" {
		tenantID = tenant.Default()
	}
	tenantID, err = tenant.Normalize(tenantID)
	if err != nil {
		return err
	}

	var issues []json.RawMessage
	if jobIssuesPath != "" {
		if issues, _, err = issue.LoadRaw(jobIssuesPath); err != nil {
			return err
		}
	}

	return withEnv(cmd, jobTemporal, func(ctx context.Context, e *env) error {
		if jobTemporal && e.signaler == nil {
			return fmt.Errorf("--temporal requires temporal.enabled in the config")
		}
		job, err := e.reg.Pipeline().Submit(ctx, tenantID, filepath.Base(path), data)
		if err != nil {
			return err
		}

		out := struct {
			Job   any    `json:"job"`
			RunID string `json:"runId,omitempty"`
		}{Job: job}

		if jobTemporal {
			if out.RunID, err = e.signaler.Start(ctx, job.ID, issues); err != nil {
				return err
			}
		}

		return render(cmd.OutOrStdout(), out, func(w io.Writer) error {
			fmt.Fprintf(w, "Job %s admitted for tenant %s (%s)\n", job.ID, job.TenantID, job.FileName)
			if out.RunID != "" {
				fmt.Fprintf(w, "Workflow run: %s\n", out.RunID)
			}
			return nil
		})
	})
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var (
		supplied []json.RawMessage
		err      error
	)
	if jobIssuesPath != "" {
		if supplied, _, err = issue.LoadRaw(jobIssuesPath); err != nil {
			return err
		}
		if supplied == nil {
			supplied = []json.RawMessage{}
		}
	}

	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		pl, err := e.reg.Pipeline().Analyze(ctx, args[0], supplied)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), pl.Record(), func(w io.Writer) error {
			fmt.Fprintf(w, "Plan for %s: %d tasks (%d deduplicated, %d dropped)\n",
				pl.JobID, pl.Stats.Total, pl.Deduplicated, pl.Dropped)
			return writeTasks(w, pl.Tasks)
		})
	})
}

func runJobs(cmd *cobra.Command, _ []string) error {
	states := make([]jobs.State, 0, len(jobStates))
	for _, s := range jobStates {
		states = append(states, jobs.State(s))
	}

	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		list, err := e.reg.Pipeline().Jobs.List(ctx, states...)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), list, func(w io.Writer) error {
			if len(list) == 0 {
				fmt.Fprintln(w, "No jobs found.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTENANT\tFILE\tSTATE\tUPDATED\tERROR")
			for _, j := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.TenantID, j.FileName, j.State, j.UpdatedAt.Format("2006-01-02 15:04:05"), j.Error)
			}
			return tw.Flush()
		})
	})
}

func runReview(cmd *cobra.Command, args []string) error {
	decisions, err := review.Parse(args[1:])
	if err != nil {
		return err
	}

	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		res, err := e.reg.Pipeline().ApplyReview(ctx, args[0], decisions)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			fmt.Fprintf(w, "Review applied to %s: %d skipped, %d deferred, %d approved, %d undecided\n",
				res.JobID, res.Skipped, res.Deferred, res.Approved, res.Undecided)
			return nil
		})
	})
}

func runAdvance(cmd *cobra.Command, args []string) error {
	decisions, err := review.Parse(args[1:])
	if err != nil {
		return err
	}

	return withEnv(cmd, true, func(ctx context.Context, e *env) error {
		jobID := args[0]
		if e.signaler != nil {
			if err := e.signaler.Advance(ctx, jobID, decisions); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Review decision signalled to job %s\n", jobID)
			return nil
		}

		if err := e.reg.Pipeline().Advance(ctx, jobID, decisions); err != nil {
			return err
		}
		job, err := e.reg.Pipeline().Jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), job, func(w io.Writer) error {
			fmt.Fprintf(w, "Job %s is %s\n", job.ID, job.State)
			return nil
		})
	})
}
