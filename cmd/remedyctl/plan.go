package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/tracker"
)

var (
	taskStatus     string
	taskResolution string
	taskResolvedBy string
)

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planShowCmd)
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskUpdateCmd)

	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "New status: PENDING, IN_PROGRESS, COMPLETED, FAILED or SKIPPED (required)")
	taskUpdateCmd.Flags().StringVar(&taskResolution, "resolution", "", "Resolution note")
	taskUpdateCmd.Flags().StringVar(&taskResolvedBy, "resolved-by", "", "Who resolved the task")
	_ = taskUpdateCmd.MarkFlagRequired("status")
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect remediation plans",
}

var planShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the latest plan of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage plan tasks",
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <job-id> <task-id>",
	Short: "Set a task's status",
	Long: `Set a task's status. Any transition is allowed; COMPLETED and FAILED
stamp the resolution time.

Examples:
  remedyctl task update job-123 task-abc --status COMPLETED --resolution "alt text written" --resolved-by editor`,
	Args: cobra.ExactArgs(2),
	RunE: runTaskUpdate,
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		pl, err := e.reg.Store().LatestPlan(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), pl.Record(), func(w io.Writer) error {
			fmt.Fprintf(w, "Plan %s (%s), snapshot %d\n", pl.JobID, pl.FileName, pl.Seq)
			writeStats(w, pl.Stats)
			fmt.Fprintln(w)
			return writeTasks(w, pl.Tasks)
		})
	})
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	status := plan.Status(taskStatus)
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", taskStatus)
	}

	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		res, err := e.reg.Pipeline().Tracker.UpdateStatus(ctx, args[0], args[1], tracker.Update{
			Status:     status,
			Resolution: taskResolution,
			ResolvedBy: taskResolvedBy,
		})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			fmt.Fprintf(w, "Task %s is %s\n", res.Task.ID, res.Task.Status)
			writeStats(w, res.Stats)
			return nil
		})
	})
}

func writeTasks(w io.Writer, tasks []plan.Task) error {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tTYPE\tPRIORITY\tSTATUS\tLOCATION")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.IssueCode, t.Tier, t.Priority, t.Status, t.Location)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, s plan.Stats) {
	fmt.Fprintf(w, "Total: %d\n", s.Total)
	for _, st := range plan.Statuses {
		if n := s.ByStatus[st]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", st, n)
		}
	}
	for _, tier := range classify.Tiers {
		if n := s.ByType[tier]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", tier, n)
		}
	}
}
