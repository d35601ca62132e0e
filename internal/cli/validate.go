package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/changeling/internal/checks"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Disable    []string
	DomainKeys []string
	ListChecks bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool             `json:"valid"`
	Changesets int              `json:"changesets"`
	Findings   []checks.Finding `json:"findings"`
}

// CheckInfo describes one policy check for --list-checks.
type CheckInfo struct {
	ID          string          `json:"id"`
	Severity    checks.Severity `json:"severity"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse the changelog and run policy checks",
		Long: `Parse the changelog and run policy checks without touching the ledger
or the target.

Checks cover collection validators and naming, data-domain key fields,
unfiltered deletes, raw SSNs and card numbers in written data, missing
rollbacks, allowed contexts and required labels. Error findings fail the
command; warnings are reported only.

Example:
  changeling validate --changelog db/changelog.mongo.js
  CHANGELING_ALLOWED_CONTEXTS=int,uat,prd changeling validate
  changeling validate --disable rollback-required
  changeling validate --domain-key product:productID:string:15`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Disable, "disable", nil, "check ids to skip")
	cmd.Flags().StringSliceVar(&opts.DomainKeys, "domain-key", nil, "data-domain key rule domain:key[:bsonType[:maxLength]]")
	cmd.Flags().BoolVar(&opts.ListChecks, "list-checks", false, "list the available checks and exit")

	return cmd
}

func (o *ValidateOptions) checksConfig() (checks.Config, error) {
	re, err := o.Config.LabelRegexp()
	if err != nil {
		return checks.Config{}, err
	}
	keys, err := checks.ParseDomainKeys(append(slices.Clone(o.Config.DomainKeys), o.DomainKeys...))
	if err != nil {
		return checks.Config{}, err
	}
	return checks.Config{
		ContextLadder: o.Config.AllowedContexts,
		LabelPattern:  re,
		DomainKeys:    keys,
		Disabled:      append(slices.Clone(o.Config.DisabledChecks), o.Disable...),
	}, nil
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.checksConfig()
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "invalid check configuration", err))
	}

	if opts.ListChecks {
		return outputCheckList(formatter, cfg)
	}

	changesets, xerr := opts.loadChangelog()
	if xerr != nil {
		return formatter.Fail(xerr)
	}
	formatter.VerboseLog("Parsed %d changeset(s) from %s", len(changesets), opts.Config.Changelog)

	findings := checks.Run(changesets, cfg)
	result := ValidationResult{
		Valid:      !checks.HasErrors(findings),
		Changesets: len(changesets),
		Findings:   findings,
	}

	var failure *ExitError
	if !result.Valid {
		failure = NewExitError(ExitPolicyFailure, fmt.Sprintf("validation failed with %d error(s)", countSeverity(findings, checks.SeverityError)))
	}

	if formatter.Format == "json" {
		if err := formatter.Result(result, failure); err != nil {
			return err
		}
	} else {
		outputValidationText(formatter, result)
	}
	if failure != nil {
		return failure
	}
	return nil
}

func outputValidationText(formatter *OutputFormatter, result ValidationResult) {
	for _, f := range result.Findings {
		fmt.Fprintln(formatter.Writer, f.String())
	}
	errs := countSeverity(result.Findings, checks.SeverityError)
	warnings := countSeverity(result.Findings, checks.SeverityWarning)
	if !result.Valid {
		fmt.Fprintf(formatter.Writer, "✗ Validation failed: %d error(s), %d warning(s)\n", errs, warnings)
		return
	}
	if warnings > 0 {
		fmt.Fprintf(formatter.Writer, "✓ Changelog valid: %d changeset(s), %d warning(s)\n", result.Changesets, warnings)
		return
	}
	fmt.Fprintf(formatter.Writer, "✓ Changelog valid: %d changeset(s)\n", result.Changesets)
}

func outputCheckList(formatter *OutputFormatter, cfg checks.Config) error {
	var infos []CheckInfo
	for _, c := range checks.All() {
		infos = append(infos, CheckInfo{
			ID:          c.ID,
			Severity:    c.Severity,
			Description: c.Description,
			Enabled:     !slices.Contains(cfg.Disabled, c.ID),
		})
	}
	if formatter.Format == "json" {
		return formatter.Success(infos)
	}
	for _, info := range infos {
		state := ""
		if !info.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(formatter.Writer, "%-29s %-7s %s%s\n", info.ID, info.Severity, info.Description, state)
	}
	return nil
}

func countSeverity(findings []checks.Finding, sev checks.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
