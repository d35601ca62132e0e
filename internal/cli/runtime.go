package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/changelog"
	"github.com/roach88/changeling/internal/docstore"
	"github.com/roach88/changeling/internal/engine"
	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/ledger"
)

// loadChangelog parses the configured changelog.
func (o *RootOptions) loadChangelog() ([]ir.Changeset, *ExitError) {
	path := o.Config.Changelog
	if path == "" {
		return nil, NewExitError(ExitCommandError, "changelog path is required (--changelog or CHANGELING_CHANGELOG)")
	}
	sets, err := changelog.ParseFile(path)
	if err != nil {
		var pe *changelog.ParseError
		if errors.As(err, &pe) && (pe.Code == changelog.ErrCodeRead || pe.Code == changelog.ErrCodeFormat) {
			return nil, WrapExitError(ExitCommandError, "failed to read changelog", err)
		}
		return nil, WrapExitError(ExitParseError, "failed to parse changelog", err)
	}
	o.log().Debug("changelog parsed", "path", path, "changesets", len(sets))
	return sets, nil
}

func (o *RootOptions) openLedger() (*ledger.Ledger, *ExitError) {
	var opts []ledger.Option
	if o.Now != nil {
		opts = append(opts, ledger.WithClock(o.Now))
	}
	l, err := ledger.Open(o.Config.Ledger, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	o.log().Debug("ledger ready", "path", o.Config.Ledger)
	return l, nil
}

// runtime is everything a mutating command needs.
type runtime struct {
	ledger *ledger.Ledger
	target *docstore.Store
	engine *engine.Engine
	logger *slog.Logger
}

func (o *RootOptions) openRuntime() (*runtime, *ExitError) {
	l, xerr := o.openLedger()
	if xerr != nil {
		return nil, xerr
	}
	targetPath := o.Config.TargetPath()
	target, err := docstore.Open(targetPath, docstore.WithLogger(o.log()))
	if err != nil {
		_ = l.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open target", err)
	}
	o.log().Debug("target ready", "path", targetPath)

	engOpts := []engine.Option{
		engine.WithLogger(o.log()),
		engine.WithLockTTL(o.Config.LockTTL),
		engine.WithLockTimeout(o.Config.LockTimeout, o.Config.LockPoll),
	}
	if o.IDs != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(o.IDs))
	}
	if o.Now != nil {
		engOpts = append(engOpts, engine.WithClock(o.Now))
	}

	return &runtime{
		ledger: l,
		target: target,
		engine: engine.New(l, target, engOpts...),
		logger: o.log(),
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.target.Close(); err != nil {
		rt.logger.Error("error closing target", "error", err)
	}
	if err := rt.ledger.Close(); err != nil {
		rt.logger.Error("error closing ledger", "error", err)
	}
}

// signalContext cancels on SIGINT/SIGTERM. The engine finishes the
// changeset in flight and marks the rest not attempted.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runExitCode maps an engine error to a process exit code. Ledger desync
// outranks everything because it needs manual repair.
func runExitCode(err error, continueOnFailure bool) int {
	switch {
	case err == nil:
		return ExitSuccess
	case engine.IsLedgerDesync(err), ledger.IsWriteError(err):
		return ExitLedgerError
	case ledger.IsLockHeld(err):
		return ExitLockHeld
	case engine.IsChecksumMismatch(err):
		return ExitChecksumMismatch
	case engine.IsNoRollbackDefined(err):
		return ExitNoRollback
	case engine.IsUnknownChangeset(err), errors.Is(err, engine.ErrNoRollbackTarget):
		return ExitCommandError
	case engine.IsStoreError(err) && continueOnFailure:
		return ExitPartialFailure
	default:
		return ExitFailure
	}
}
