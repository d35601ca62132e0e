package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/ledger"
)

// ReleaseLockResult is the JSON payload of release-lock.
type ReleaseLockResult struct {
	Released bool             `json:"released"`
	Previous *ledger.LockInfo `json:"previous,omitempty"`
}

// NewReleaseLockCommand creates the release-lock command.
func NewReleaseLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release-lock",
		Short: "Force-release the ledger lock",
		Long: `Remove the ledger lock regardless of who holds it.

Use this only after a run crashed and left its lease behind; releasing
the lock of a live run lets a second run start beside it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReleaseLock(rootOpts, cmd)
		},
	}
	return cmd
}

func runReleaseLock(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

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
	previous, err := l.LockStatus(ctx)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitLedgerError, "failed to read ledger lock", err))
	}
	released, err := l.ForceReleaseLock(ctx)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitLedgerError, "failed to release ledger lock", err))
	}
	if released && previous != nil {
		opts.log().Warn("ledger lock force-released", "owner", previous.Owner)
	}

	if formatter.Format == "json" {
		return formatter.Success(ReleaseLockResult{Released: released, Previous: previous})
	}
	if !released || previous == nil {
		fmt.Fprintln(formatter.Writer, "lock was not held")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "released lock held by %s since %s\n", previous.Owner, previous.AcquiredAt.Format(time.RFC3339))
	return nil
}
