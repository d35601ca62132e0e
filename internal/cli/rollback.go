package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/engine"
	"github.com/roach88/changeling/internal/ir"
)

// RollbackOptions holds flags for the rollback command.
type RollbackOptions struct {
	*RootOptions
	To     string
	Count  int
	Force  bool
	DryRun bool
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RollbackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back applied changesets",
		Long: `Run the declared inverse of applied changesets, newest first, and
remove each one from the ledger.

--to rolls back every changeset applied after the given one, and the
given one itself. --count rolls back the last N applied changesets.
Nothing runs if any changeset in the range has no rollback, is no
longer in the changelog, or was edited since it was applied.

Example:
  changeling rollback --count 1
  changeling rollback --to jbennett:3 --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "roll back down to and including this changeset (author:id)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "roll back the last N applied changesets")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "roll back changesets whose checksum changed")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the rollback operations without running them")

	return cmd
}

func runRollback(opts *RollbackOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	switch {
	case opts.To != "" && opts.Count != 0:
		return formatter.Fail(NewExitError(ExitCommandError, "--to and --count are mutually exclusive"))
	case opts.To == "" && opts.Count <= 0:
		return formatter.Fail(WrapExitError(ExitCommandError, "rollback needs --to or a positive --count", engine.ErrNoRollbackTarget))
	}

	var to ir.ChangesetID
	if opts.To != "" {
		id, err := ir.ParseChangesetID(opts.To)
		if err != nil {
			return formatter.Fail(WrapExitError(ExitCommandError, "invalid --to", err))
		}
		to = id
	}

	changesets, xerr := opts.loadChangelog()
	if xerr != nil {
		return formatter.Fail(xerr)
	}

	rt, xerr := opts.openRuntime()
	if xerr != nil {
		return formatter.Fail(xerr)
	}
	defer rt.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	summary, runErr := rt.engine.Rollback(ctx, changesets, engine.RollbackOptions{
		To:     to,
		Count:  opts.Count,
		Force:  opts.Force,
		DryRun: opts.DryRun,
	})

	var failure *ExitError
	if runErr != nil {
		failure = WrapExitError(runExitCode(runErr, false), "rollback failed", runErr)
	}
	report := RunReport{Outcome: summary.Outcome(), Summary: summary, Plan: planFor(summary, changesets)}
	if err := writeRun(formatter, report, failure); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}
	return nil
}
