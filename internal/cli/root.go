package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/config"
	"github.com/roach88/changeling/internal/engine"
	"github.com/roach88/changeling/internal/ir"
)

// RootOptions holds global settings for all commands.
type RootOptions struct {
	Config config.Config

	// IDs and Now replace the deployment id generator and wall clock.
	// Tests set them for stable output; nil means UUIDv7 and time.Now.
	IDs engine.IDGenerator
	Now func() time.Time

	envErr error
	logger *slog.Logger
}

// NewRootCommand creates the root command for the changeling CLI.
// Settings come from CHANGELING_* environment variables; flags override them.
func NewRootCommand() *cobra.Command {
	cfg, err := config.Load()
	return newRootCommand(&RootOptions{Config: cfg, envErr: err})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cfg := opts.Config

	cmd := &cobra.Command{
		Use:   "changeling",
		Short: "changeling - migration changelog runner",
		Long: `Apply an ordered changelog of schema and data changesets to a document
store, track what was applied in a ledger, and roll changesets back.`,
		Version:       ir.EngineVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envErr != nil {
				return reportEarly(cmd, WrapExitError(ExitCommandError, "invalid environment", opts.envErr))
			}
			if err := opts.Config.Validate(); err != nil {
				return reportEarly(cmd, WrapExitError(ExitCommandError, "invalid configuration", err))
			}
			opts.logger = setupLogging(opts.Config.Verbose, cmd.ErrOrStderr())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return reportEarly(c, WrapExitError(ExitCommandError, "invalid flags", err))
	})

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Config.Changelog, "changelog", cfg.Changelog, "changelog file (.js, .sql, .yaml, .cue)")
	pf.StringVar(&opts.Config.Ledger, "ledger", cfg.Ledger, "ledger SQLite path")
	pf.StringVar(&opts.Config.Target, "target", cfg.Target, "target docstore SQLite path (default: the ledger file)")
	pf.StringVar(&opts.Config.Format, "format", cfg.Format, "output format (json|text)")
	pf.BoolVarP(&opts.Config.Verbose, "verbose", "v", cfg.Verbose, "verbose output")
	pf.DurationVar(&opts.Config.LockTimeout, "lock-timeout", cfg.LockTimeout, "wait this long for a held ledger lock (0 fails immediately)")
	pf.DurationVar(&opts.Config.LockTTL, "lock-ttl", cfg.LockTTL, "ledger lock lease duration")

	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReleaseLockCommand(opts))

	return cmd
}

// setupLogging installs a text handler on w: Debug when verbose, Info otherwise.
func setupLogging(verbose bool, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// reportEarly prints errors raised before the output format is known.
func reportEarly(cmd *cobra.Command, err *ExitError) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error [%s]: %s\n", errorCode(err.Code), err.Error())
	return err
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Config.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Config.Verbose,
	}
}

func (o *RootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}
