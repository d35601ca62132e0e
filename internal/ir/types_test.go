package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChangesetID(t *testing.T) {
	id, err := ParseChangesetID("jbennett:1")
	require.NoError(t, err)
	assert.Equal(t, ChangesetID{Author: "jbennett", ID: "1"}, id)
	assert.Equal(t, "jbennett:1", id.String())

	id, err = ParseChangesetID("ops:2024:seed")
	require.NoError(t, err)
	assert.Equal(t, "2024:seed", id.ID)

	for _, bad := range []string{"", "nocolon", ":1", "a:"} {
		_, err := ParseChangesetID(bad)
		assert.Error(t, err, bad)
	}
}

func TestContextMatches(t *testing.T) {
	assert.True(t, Context{}.Matches("prd"))
	assert.True(t, Context{Contexts: []string{"int"}}.Matches(""))
	assert.True(t, Context{Contexts: []string{"INT", "uat"}}.Matches("int"))
	assert.False(t, Context{Contexts: []string{"int"}}.Matches("prd"))
}

func TestChangesetHasRollback(t *testing.T) {
	assert.False(t, Changeset{}.HasRollback())
	assert.False(t, Changeset{Rollback: &Operation{Body: "  "}}.HasRollback())
	assert.True(t, Changeset{Rollback: &Operation{Body: "db.X.drop()"}}.HasRollback())
}

func TestChangesetHasLabel(t *testing.T) {
	cs := Changeset{Labels: []string{"release-1.0.0", "CHG0010001"}}
	assert.True(t, cs.HasLabel("chg0010001"))
	assert.True(t, cs.HasLabel("nope", "release-1.0.0"))
	assert.False(t, cs.HasLabel("release-1.1.0"))
}

func TestRunSummaryOutcome(t *testing.T) {
	a := ChangesetID{Author: "x", ID: "a"}
	b := ChangesetID{Author: "x", ID: "b"}

	ok := RunSummary{Results: []ChangesetResult{{ID: a, State: StateApplied}, {ID: b, State: StateSkipped}}}
	assert.Equal(t, "success", ok.Outcome())
	assert.Equal(t, []ChangesetID{a}, ok.Applied())

	partial := RunSummary{Results: []ChangesetResult{{ID: a, State: StateApplied}, {ID: b, State: StateFailed}}}
	assert.Equal(t, "partial", partial.Outcome())

	failed := RunSummary{Results: []ChangesetResult{{ID: a, State: StateFailed}, {ID: b, State: StateNotAttempted}}}
	assert.Equal(t, "failed", failed.Outcome())
	assert.Equal(t, []ChangesetID{b}, failed.NotAttempted())

	rejected := RunSummary{Error: "ledger lock held"}
	assert.Equal(t, "failed", rejected.Outcome())
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateExecuting.Terminal())
	assert.True(t, StateApplied.Terminal())
	assert.True(t, StateFailed.Terminal())
}
