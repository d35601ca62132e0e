package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/ledger"
	"github.com/roach88/changeling/internal/testutil"
)

func applyAll(t *testing.T, f *fixture, sets []ir.Changeset) {
	t.Helper()
	_, err := f.engine.Apply(context.Background(), sets, ApplyOptions{})
	require.NoError(t, err)
	f.adapter.Reset()
}

func TestRollback_Count(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	summary, err := f.engine.Rollback(context.Background(), sets, RollbackOptions{Count: 2})
	require.NoError(t, err)
	assert.Equal(t, "rollback", summary.Command)
	assert.Equal(t, []string{"undoC()", "undoB()"}, f.adapter.Attempts())
	assert.Equal(t, []string{"jb:3", "jb:2"}, idStrings(summary.RolledBack()))
	assert.Equal(t, []string{"jb:1"}, f.appliedIDs(t))
}

func TestRollback_CountLargerThanApplied(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	_, err := f.engine.Rollback(context.Background(), sets, RollbackOptions{Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"undoC()", "undoB()", "undoA()"}, f.adapter.Attempts())
	assert.Empty(t, f.appliedIDs(t))
}

func TestRollback_ToIsInclusive(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	_, err := f.engine.Rollback(context.Background(), sets, RollbackOptions{To: sets[1].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"undoC()", "undoB()"}, f.adapter.Attempts())
	assert.Equal(t, []string{"jb:1"}, f.appliedIDs(t))
}

func TestRollback_FollowsApplyOrderNotChangelogOrder(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	ctx := context.Background()

	// C applied before B: a later changelog edit inserted B.
	_, err := f.engine.Apply(ctx, []ir.Changeset{sets[0], sets[2]}, ApplyOptions{})
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, sets, ApplyOptions{})
	require.NoError(t, err)
	f.adapter.Reset()

	_, err = f.engine.Rollback(ctx, sets, RollbackOptions{Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"undoB()", "undoC()"}, f.adapter.Attempts())
}

func TestRollback_FailureStopsWithConsistentLedger(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)
	f.adapter.FailOn("undoB()", errors.New("cannot drop"))

	summary, err := f.engine.Rollback(context.Background(), sets, RollbackOptions{Count: 3})
	require.Error(t, err)
	assert.True(t, IsStoreError(err))

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "rollback", se.Op)

	assert.Equal(t, []string{"undoC()", "undoB()"}, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StateRolledBack, ir.StateFailed, ir.StateNotAttempted}, states(summary))
	assert.Equal(t, []string{"jb:1", "jb:2"}, f.appliedIDs(t))
	assert.Equal(t, "partial", summary.Outcome())
}

func TestRollback_UnknownInChangelog(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	_, err := f.engine.Rollback(context.Background(), sets[:2], RollbackOptions{Count: 1})
	require.Error(t, err)

	var nre *NoRollbackDefinedError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, []ir.ChangesetID{sets[2].ID}, nre.Unknown)
	assert.Contains(t, err.Error(), "not in changelog: jb:3")
	assert.Len(t, f.appliedIDs(t), 3)
}

func TestRollback_ChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	edited := threeChangesets()
	edited[2] = testutil.Changeset("jb", "3", "C(edited)", "undoC()")

	_, err := f.engine.Rollback(context.Background(), edited, RollbackOptions{Count: 1})
	require.Error(t, err)
	assert.True(t, IsChecksumMismatch(err))
	assert.Empty(t, f.adapter.Attempts())
	assert.Len(t, f.appliedIDs(t), 3)

	_, err = f.engine.Rollback(context.Background(), edited, RollbackOptions{Count: 1, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"undoC()"}, f.adapter.Attempts())
}

func TestRollback_DryRun(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	summary, err := f.engine.Rollback(context.Background(), sets, RollbackOptions{Count: 2, DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StatePending, ir.StatePending}, states(summary))
	assert.Len(t, f.appliedIDs(t), 3)
}

func TestRollback_NoTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Rollback(context.Background(), threeChangesets(), RollbackOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRollbackTarget)
}

func TestRollback_TargetNotApplied(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets[:1])

	_, err := f.engine.Rollback(context.Background(), sets, RollbackOptions{To: sets[2].ID})
	require.Error(t, err)
	assert.True(t, IsUnknownChangeset(err))
	assert.Contains(t, err.Error(), "jb:3: not applied")

	_, err = f.engine.Rollback(context.Background(), sets, RollbackOptions{To: ir.ChangesetID{Author: "x", ID: "y"}})
	assert.Contains(t, err.Error(), "not in changelog and not applied")
}

func TestRollback_NothingApplied(t *testing.T) {
	f := newFixture(t)

	summary, err := f.engine.Rollback(context.Background(), threeChangesets(), RollbackOptions{Count: 1})
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
}

func TestRollback_RemoveFailureIsDesync(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	faulty := &faultyLedger{Ledger: f.ledger, removeErr: &ledger.WriteError{Op: "remove", Err: errors.New("io")}}
	e := f.newEngine(faulty, f.adapter)

	summary, err := e.Rollback(context.Background(), sets, RollbackOptions{Count: 2})
	require.Error(t, err)
	assert.True(t, IsLedgerDesync(err))
	assert.Equal(t, []string{"undoC()"}, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StateFailed, ir.StateNotAttempted}, states(summary))
}

func TestRollback_CancelBetweenChangesets(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	applyAll(t, f, sets)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.adapter.OnExecute = func(op ir.Operation) {
		if op.Body == "undoC()" {
			cancel()
		}
	}

	summary, err := f.engine.Rollback(ctx, sets, RollbackOptions{Count: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"jb:3"}, idStrings(summary.RolledBack()))
	assert.Equal(t, []string{"jb:1", "jb:2"}, f.appliedIDs(t))
}
