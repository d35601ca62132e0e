package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/engine"
	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/ledger"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	History bool
	Limit   int
}

// StatusReport is the JSON payload of the status command.
type StatusReport struct {
	Changesets []engine.StatusEntry           `json:"changesets"`
	Counts     map[engine.ChangesetStatus]int `json:"counts"`
	Lock       *ledger.LockInfo               `json:"lock,omitempty"`
	History    []ir.RunSummary                `json:"history,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and unknown changesets",
		Long: `Compare the changelog with the ledger.

Each changeset is reported as applied, changed (edited since it was
applied), pending, or unknown (in the ledger but no longer in the
changelog). Status never takes the ledger lock or touches the target.

Example:
  changeling status
  changeling status --history --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.History, "history", false, "include past apply and rollback runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of runs shown with --history (0 for all)")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	changesets, xerr := opts.loadChangelog()
	if xerr != nil {
		return formatter.Fail(xerr)
	}

	l, xerr := opts.openLedger()
	if xerr != nil {
		return formatter.Fail(xerr)
	}
	defer func() {
		if closeErr := l.Close(); closeErr != nil {
			opts.log().Error("error closing ledger", "error", closeErr)
		}
	}()

	ctx := cmd.Context()

	// Status reads the ledger only; no target adapter is needed.
	rows, err := engine.New(l, nil, engine.WithLogger(opts.log())).Status(ctx, changesets)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitFailure, "failed to read ledger", err))
	}
	lock, err := l.LockStatus(ctx)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitFailure, "failed to read ledger lock", err))
	}

	report := StatusReport{
		Changesets: rows,
		Counts:     engine.CountStatus(rows),
		Lock:       lock,
	}
	if opts.History {
		runs, err := l.ListRuns(ctx, opts.Limit)
		if err != nil {
			return formatter.Fail(WrapExitError(ExitFailure, "failed to read run history", err))
		}
		report.History = runs
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	writeStatusText(formatter.Writer, report, opts.History)
	return nil
}

func writeStatusText(w io.Writer, report StatusReport, history bool) {
	for _, row := range report.Changesets {
		line := fmt.Sprintf("%-8s %s", row.Status, row.ID)
		if row.AppliedAt != nil {
			line += fmt.Sprintf(" (order %d, %s, %s)", row.OrderExecuted, row.DeploymentID, row.AppliedAt.Format(time.RFC3339))
		}
		if !row.Rollback && row.Status != engine.StatusUnknown {
			line += " [no rollback]"
		}
		fmt.Fprintln(w, line)
	}

	c := report.Counts
	fmt.Fprintf(w, "%d applied, %d changed, %d pending, %d unknown\n",
		c[engine.StatusApplied], c[engine.StatusChanged], c[engine.StatusPending], c[engine.StatusUnknown])

	switch lock := report.Lock; {
	case lock == nil:
		fmt.Fprintln(w, "lock: free")
	case lock.Expired:
		fmt.Fprintf(w, "lock: expired lease of %s (expired %s)\n", lock.Owner, lock.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(w, "lock: held by %s until %s\n", lock.Owner, lock.ExpiresAt.Format(time.RFC3339))
	}

	if !history {
		return
	}
	fmt.Fprintln(w, "history:")
	if len(report.History) == 0 {
		fmt.Fprintln(w, "  no runs")
	}
	for _, run := range report.History {
		command := run.Command
		if run.DryRun {
			command += " (dry run)"
		}
		line := fmt.Sprintf("  %s %s %s %s", run.DeploymentID, command, run.Outcome(), run.StartedAt.Format(time.RFC3339))
		if done := runTally(&run); done != "" {
			line += " (" + done + ")"
		}
		if run.Error != "" {
			line += ": " + run.Error
		}
		fmt.Fprintln(w, line)
	}
}

func runTally(run *ir.RunSummary) string {
	var parts []string
	if n := len(run.Applied()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d applied", n))
	}
	if n := len(run.RolledBack()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d rolled back", n))
	}
	if n := len(run.Failed()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	return strings.Join(parts, ", ")
}
