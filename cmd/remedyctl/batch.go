package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/review"
)

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchClustersCmd)
	batchCmd.AddCommand(batchDecideCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(sweepCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Review pending tasks across every job at the review gate",
}

var batchClustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Group pending tasks of awaiting-review jobs by issue code",
	RunE:  runBatchClusters,
}

var batchDecideCmd = &cobra.Command{
	Use:   "decide CODE=DECISION...",
	Short: "Apply decisions to every awaiting-review job they concern",
	Long: `Apply review decisions by issue code across jobs and advance each
affected job. With Temporal enabled the decisions are signalled to the job
workflows.

Examples:
  remedyctl batch decide EPUB-IMG-001=DEFER EPUB-NAV-001=SKIP`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatchDecide,
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Check fix handlers against the classification catalog",
	RunE:  runCoverage,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail jobs stuck in an active state past the configured age",
	RunE:  runSweep,
}

func runBatchClusters(cmd *cobra.Command, _ []string) error {
	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		clusters, err := e.reg.Batch().Clusters(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), clusters, func(w io.Writer) error {
			if len(clusters) == 0 {
				fmt.Fprintln(w, "No pending tasks awaiting review.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tTYPE\tTASKS\tJOBS\tEXAMPLE")
			for _, c := range clusters {
				example := ""
				if len(c.Examples) > 0 {
					example = c.Examples[0].JobID + " " + c.Examples[0].Location
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", c.Code, c.Tier, c.Total, len(c.Jobs), example)
			}
			return tw.Flush()
		})
	})
}

func runBatchDecide(cmd *cobra.Command, args []string) error {
	decisions, err := review.Parse(args)
	if err != nil {
		return err
	}

	return withEnv(cmd, true, func(ctx context.Context, e *env) error {
		res, err := e.reg.Batch().Decide(ctx, decisions)
		if err != nil {
			return err
		}
		if err := render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			fmt.Fprintf(w, "Advanced %d jobs\n", len(res.Advanced))
			for _, id := range res.Advanced {
				fmt.Fprintf(w, "  %s\n", id)
			}
			ids := make([]string, 0, len(res.Errors))
			for id := range res.Errors {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(w, "  %s: %s\n", id, res.Errors[id])
			}
			return nil
		}); err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d jobs failed to advance", len(res.Errors))
		}
		return nil
	})
}

func runCoverage(cmd *cobra.Command, _ []string) error {
	return withEnv(cmd, false, func(_ context.Context, e *env) error {
		report := handlers.CheckCoverage(e.reg.Handlers(), e.reg.Classifier())
		if err := render(cmd.OutOrStdout(), report, func(w io.Writer) error {
			if report.OK() {
				fmt.Fprintln(w, "Handlers cover every auto-fixable code.")
			} else {
				fmt.Fprintln(w, report.Err())
			}
			if len(report.QuickFixWithoutHandler) > 0 {
				fmt.Fprintf(w, "Quick fixes without a handler: %v\n", report.QuickFixWithoutHandler)
			}
			return nil
		}); err != nil {
			return err
		}
		return report.Err()
	})
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		swept, err := e.reg.Sweeper().SweepOnce(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), map[string]int{"swept": swept}, func(w io.Writer) error {
			fmt.Fprintf(w, "Swept %d stale jobs\n", swept)
			return nil
		})
	})
}
