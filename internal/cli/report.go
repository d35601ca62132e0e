package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/changeling/internal/ir"
)

// RunReport is the JSON payload of apply and rollback.
type RunReport struct {
	Outcome string          `json:"outcome"`
	Summary *ir.RunSummary  `json:"summary"`
	Plan    []PlannedChange `json:"plan,omitempty"`
}

// PlannedChange is an operation a dry run would execute.
type PlannedChange struct {
	ID   ir.ChangesetID `json:"id"`
	Kind string         `json:"kind"`
	Body string         `json:"body"`
}

// planFor lists the operations behind the pending results of a dry run:
// forward bodies for apply, inverse bodies for rollback.
func planFor(summary *ir.RunSummary, changesets []ir.Changeset) []PlannedChange {
	if !summary.DryRun {
		return nil
	}
	byID := make(map[ir.ChangesetID]ir.Changeset, len(changesets))
	for _, cs := range changesets {
		byID[cs.ID] = cs
	}
	var plan []PlannedChange
	for _, res := range summary.Results {
		if res.State != ir.StatePending {
			continue
		}
		cs, ok := byID[res.ID]
		if !ok {
			continue
		}
		op := cs.Forward
		if summary.Command == "rollback" {
			if !cs.HasRollback() {
				continue
			}
			op = *cs.Rollback
		}
		plan = append(plan, PlannedChange{ID: res.ID, Kind: op.Kind, Body: op.Body})
	}
	return plan
}

// writeRun reports a finished run. failure is nil when the run succeeded.
func writeRun(f *OutputFormatter, report RunReport, failure *ExitError) error {
	if f.Format == "json" {
		return f.Result(report, failure)
	}
	writeRunText(f.Writer, report, failure)
	return nil
}

// stateOrder fixes the order of the tally line.
var stateOrder = []ir.State{
	ir.StateApplied,
	ir.StateRolledBack,
	ir.StatePending,
	ir.StateSkipped,
	ir.StateFailed,
	ir.StateNotAttempted,
}

func writeRunText(w io.Writer, report RunReport, failure *ExitError) {
	s := report.Summary
	dry := ""
	if s.DryRun {
		dry = " (dry run)"
	}
	fmt.Fprintf(w, "%s %s%s: %s\n", s.Command, s.DeploymentID, dry, report.Outcome)

	bodies := make(map[ir.ChangesetID]string, len(report.Plan))
	for _, p := range report.Plan {
		bodies[p.ID] = p.Body
	}

	counts := make(map[ir.State]int)
	for _, res := range s.Results {
		counts[res.State]++
		line := fmt.Sprintf("  %-13s %s", res.State, res.ID)
		if res.Reason != "" {
			line += " (" + res.Reason + ")"
		}
		if res.Error != "" {
			line += ": " + res.Error
		}
		fmt.Fprintln(w, line)
		if body, ok := bodies[res.ID]; ok {
			for _, l := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
				fmt.Fprintln(w, "      "+l)
			}
		}
	}

	var tally []string
	for _, st := range stateOrder {
		if n := counts[st]; n > 0 {
			tally = append(tally, fmt.Sprintf("%d %s", n, strings.ReplaceAll(string(st), "_", " ")))
		}
	}
	if len(tally) == 0 {
		fmt.Fprintln(w, "no changesets")
	} else {
		fmt.Fprintln(w, strings.Join(tally, ", "))
	}

	if failure != nil {
		fmt.Fprintf(w, "Error [%s]: %s\n", errorCode(failure.Code), failure.Error())
	}
}
