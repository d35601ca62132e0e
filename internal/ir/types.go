package ir

import (
	"fmt"
	"strings"
	"time"
)

// ChangesetID identifies a changeset. The (Author, ID) pair is unique
// across a changelog.
type ChangesetID struct {
	Author string `json:"author"`
	ID     string `json:"id"`
}

// String renders the identity in changelog notation: "author:id".
func (c ChangesetID) String() string {
	return c.Author + ":" + c.ID
}

// IsZero reports whether the identity is unset.
func (c ChangesetID) IsZero() bool {
	return c.Author == "" && c.ID == ""
}

// ParseChangesetID parses "author:id". The author ends at the first colon;
// the id may itself contain colons.
func ParseChangesetID(s string) (ChangesetID, error) {
	author, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || author == "" || id == "" {
		return ChangesetID{}, fmt.Errorf("invalid changeset id %q: want author:id", s)
	}
	return ChangesetID{Author: author, ID: id}, nil
}

// Operation is an opaque, store-specific action. The engine never looks
// inside Body; Kind selects the adapter dialect (e.g. "mongosh").
type Operation struct {
	Kind string `json:"kind"`
	Body string `json:"body"`
}

// Context is the execution context a changeset declares.
type Context struct {
	// RunWith names the tool/mode the changeset targets (e.g. "mongosh").
	RunWith string `json:"run_with,omitempty"`

	// Contexts are environment tags (e.g. "int", "uat", "prd"). Empty means
	// the changeset runs in every context.
	Contexts []string `json:"contexts,omitempty"`
}

// Matches reports whether a changeset with this context runs under the
// requested environment. An empty request or empty Contexts always match.
func (c Context) Matches(env string) bool {
	if env == "" || len(c.Contexts) == 0 {
		return true
	}
	for _, ctx := range c.Contexts {
		if strings.EqualFold(ctx, env) {
			return true
		}
	}
	return false
}

// SourcePos locates a changeset in its changelog file.
type SourcePos struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

func (p SourcePos) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	}
	return p.File
}

// Changeset is one atomic, identified unit of schema/data change.
// Immutable once parsed.
type Changeset struct {
	ID       ChangesetID `json:"id"`
	Labels   []string    `json:"labels,omitempty"`
	Context  Context     `json:"context"`
	Comment  string      `json:"comment,omitempty"`
	Forward  Operation   `json:"forward"`
	Rollback *Operation  `json:"rollback,omitempty"` // nil: not rollback-capable
	Checksum string      `json:"checksum"`
	Source   SourcePos   `json:"source"`
}

// HasRollback reports whether the changeset declares an inverse operation.
func (c Changeset) HasRollback() bool {
	return c.Rollback != nil && strings.TrimSpace(c.Rollback.Body) != ""
}

// HasLabel reports whether any of the given labels is attached (case-insensitive).
func (c Changeset) HasLabel(labels ...string) bool {
	for _, want := range labels {
		for _, have := range c.Labels {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// LedgerEntry records one successfully applied changeset.
// Created on apply, never mutated, removed only by rollback.
type LedgerEntry struct {
	ID            ChangesetID `json:"id"`
	Checksum      string      `json:"checksum"`
	AppliedAt     time.Time   `json:"applied_at"`
	OrderExecuted int64       `json:"order_executed"`
	Context       Context     `json:"context"`
	Labels        []string    `json:"labels,omitempty"`
	DeploymentID  string      `json:"deployment_id"`
}

// State is the lifecycle state of a changeset within one run.
type State string

const (
	StatePending      State = "pending"
	StateExecuting    State = "executing"
	StateApplied      State = "applied"
	StateFailed       State = "failed"
	StateSkipped      State = "skipped"
	StateNotAttempted State = "not_attempted"
	StateRolledBack   State = "rolled_back"
)

// Terminal reports whether no further transition is possible within a run.
func (s State) Terminal() bool {
	switch s {
	case StateApplied, StateFailed, StateSkipped, StateNotAttempted, StateRolledBack:
		return true
	}
	return false
}

// ChangesetResult is the outcome of one changeset in a run.
type ChangesetResult struct {
	ID       ChangesetID   `json:"id"`
	State    State         `json:"state"`
	Reason   string        `json:"reason,omitempty"` // why skipped / not attempted
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// RunSummary lists exactly what a run changed. It is produced for every
// run, including failed ones.
type RunSummary struct {
	DeploymentID string            `json:"deployment_id"`
	Command      string            `json:"command"` // "apply" | "rollback"
	DryRun       bool              `json:"dry_run,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Results      []ChangesetResult `json:"results"`
	Error        string            `json:"error,omitempty"` // run-level failure, if any
}

// IDsInState returns the identities whose final state is s, in run order.
func (r *RunSummary) IDsInState(s State) []ChangesetID {
	var ids []ChangesetID
	for _, res := range r.Results {
		if res.State == s {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Applied returns the changesets applied by this run.
func (r *RunSummary) Applied() []ChangesetID { return r.IDsInState(StateApplied) }

// Failed returns the changesets that failed in this run.
func (r *RunSummary) Failed() []ChangesetID { return r.IDsInState(StateFailed) }

// NotAttempted returns the changesets the run never reached.
func (r *RunSummary) NotAttempted() []ChangesetID { return r.IDsInState(StateNotAttempted) }

// RolledBack returns the changesets reversed by this run.
func (r *RunSummary) RolledBack() []ChangesetID { return r.IDsInState(StateRolledBack) }

// Outcome condenses the summary into one word for run history.
func (r *RunSummary) Outcome() string {
	if r.Error == "" && len(r.Failed()) == 0 && len(r.NotAttempted()) == 0 {
		return "success"
	}
	if len(r.Applied())+len(r.RolledBack()) > 0 {
		return "partial"
	}
	return "failed"
}
