package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/engine"
	"github.com/roach88/changeling/internal/ir"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	To                string
	Force             bool
	ContinueOnFailure bool
	Labels            []string
	Context           string
	DryRun            bool
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply pending changesets",
		Long: `Apply every pending changeset of the changelog, in order, and record
each one in the ledger.

Already applied changesets are skipped. Applied changesets whose text
changed since they ran stop the run before anything executes.

--force does not just accept the new checksum: it executes the edited
forward operation again against the target and then replaces the ledger
entry. Use it only when the edited operation is safe to run twice.

The first failure halts the run unless --continue-on-failure is set.

Example:
  changeling apply --changelog db/changelog.mongo.js --ledger ./changeling.db
  changeling apply --to jbennett:2 --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "stop after this changeset (author:id), inclusive")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "execute edited applied changesets again and record their new checksum")
	cmd.Flags().BoolVar(&opts.ContinueOnFailure, "continue-on-failure", false, "keep applying after a failed changeset")
	cmd.Flags().StringSliceVar(&opts.Labels, "labels", nil, "only apply changesets carrying one of these labels")
	cmd.Flags().StringVar(&opts.Context, "context", "", "only apply changesets for this context")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the pending operations without running them")

	return cmd
}

func runApply(opts *ApplyOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

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

	summary, runErr := rt.engine.Apply(ctx, changesets, engine.ApplyOptions{
		To:                to,
		Force:             opts.Force,
		ContinueOnFailure: opts.ContinueOnFailure,
		Labels:            opts.Labels,
		Context:           opts.Context,
		DryRun:            opts.DryRun,
	})

	var failure *ExitError
	if runErr != nil {
		failure = WrapExitError(runExitCode(runErr, opts.ContinueOnFailure), "apply failed", runErr)
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
