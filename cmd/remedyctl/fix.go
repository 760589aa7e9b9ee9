package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remedyd/internal/dispatch"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
)

var (
	fixCode    string
	fixOptions []string
	verifyTgt  bool
	verifyFull bool
)

func init() {
	rootCmd.AddCommand(fixCmd)
	fixCmd.AddCommand(fixRunCmd)
	rootCmd.AddCommand(verifyCmd)

	fixRunCmd.Flags().StringVar(&fixCode, "code", "", "Fix only this issue code, allowing quick fixes")
	fixRunCmd.Flags().StringArrayVar(&fixOptions, "opt", nil, "Handler option as key=value (repeatable, needs --code)")

	verifyCmd.Flags().BoolVar(&verifyTgt, "targeted", false, "Only re-check completed tasks against the document")
	verifyCmd.Flags().BoolVar(&verifyFull, "full", false, "Only re-audit the document and reconcile")
	verifyCmd.MarkFlagsMutuallyExclusive("targeted", "full")
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Run remediation handlers",
}

var fixRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run auto-remediation for a job",
	Long: `Without --code, move the job out of review and fix every pending
AUTO_FIXABLE task. With --code, fix the pending tasks of one code in place,
which also serves QUICK_FIX codes that need reviewer input.

Examples:
  # Auto-fix a reviewed job
  remedyctl fix run job-123

  # Supply alt text for images
  remedyctl fix run job-123 --code EPUB-IMG-001 --opt alt="Cover illustration"`,
	Args: cobra.ExactArgs(1),
	RunE: runFix,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <job-id>",
	Short: "Verify a remediated job",
	Long: `Without flags, run targeted then full verification and complete the
job. --targeted or --full run a single pass without moving the job.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func parseOptions(pairs []string) (handlers.Options, error) {
	opts := handlers.Options{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("option %q: want key=value", p)
		}
		opts[strings.TrimSpace(k)] = v
	}
	return opts, nil
}

func runFix(cmd *cobra.Command, args []string) error {
	if fixCode == "" && len(fixOptions) > 0 {
		return fmt.Errorf("--opt needs --code")
	}
	opts, err := parseOptions(fixOptions)
	if err != nil {
		return err
	}

	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		var res *dispatch.Result
		if fixCode != "" {
			res, err = e.reg.Pipeline().Dispatcher.RunCode(ctx, args[0], fixCode, opts)
		} else {
			res, err = e.reg.Pipeline().Remediate(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			fmt.Fprintf(w, "Run %s: %d completed, %d failed, %d skipped, %d modifications\n",
				res.RunID, res.Completed, res.Failed, res.Skipped, len(res.Modifications))
			if len(res.Groups) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tOUTCOME\tTASKS\tMESSAGE")
			for _, g := range res.Groups {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.Code, g.Outcome, len(g.TaskIDs), g.Message)
			}
			return tw.Flush()
		})
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, false, func(ctx context.Context, e *env) error {
		p := e.reg.Pipeline()
		jobID := args[0]

		switch {
		case verifyTgt:
			res, err := p.Verifier.Targeted(ctx, jobID)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
				fmt.Fprintf(w, "Checked %d, confirmed %d, demoted %d\n", res.Checked, res.Confirmed, len(res.Demoted))
				for _, d := range res.Demoted {
					fmt.Fprintf(w, "  %s %s: %s\n", d.TaskID, d.IssueCode, d.Reason)
				}
				return nil
			})
		case verifyFull:
			cmp, err := p.Verifier.Full(ctx, jobID)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), cmp, func(w io.Writer) error {
				m := cmp.Reconciliation.Metrics
				fmt.Fprintf(w, "Comparison %s: %d -> %d issues\n", cmp.ID, cmp.OriginalTotal, cmp.CurrentTotal)
				fmt.Fprintf(w, "Resolved %d, remaining %d, regressions %d, resolution rate %.1f%%\n",
					m.Resolved, m.Remaining, m.Regressions, m.ResolutionRate)
				return nil
			})
		default:
			res, err := p.Verify(ctx, jobID)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
				m := res.Comparison.Reconciliation.Metrics
				fmt.Fprintf(w, "Job %s verified: %d demoted, resolution rate %.1f%%, %d regressions\n",
					jobID, len(res.Targeted.Demoted), m.ResolutionRate, m.Regressions)
				return nil
			})
		}
	})
}
