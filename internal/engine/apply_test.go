package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/ledger"
	"github.com/roach88/changeling/internal/testutil"
)

func TestApply_RecordsLedgerEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sets := threeChangesets()
	sets[0].Labels = []string{"release-1.0.0"}
	sets[0].Context.Contexts = []string{"int"}

	summary, err := f.engine.Apply(ctx, sets, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "deploy-1", summary.DeploymentID)
	assert.Equal(t, "apply", summary.Command)
	assert.Equal(t, []string{"jb:1", "jb:2", "jb:3"}, idStrings(summary.Applied()))

	entries, err := f.ledger.ListApplied(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	first := entries[0]
	assert.Equal(t, sets[0].Checksum, first.Checksum)
	assert.Equal(t, int64(1), first.OrderExecuted)
	assert.Equal(t, "deploy-1", first.DeploymentID)
	assert.Equal(t, []string{"release-1.0.0"}, first.Labels)
	assert.Equal(t, ir.Context{RunWith: "mongosh", Contexts: []string{"int"}}, first.Context)
	assert.True(t, first.AppliedAt.Equal(testutil.Epoch))
}

func TestApply_ReleasesLockAndRecordsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.NoError(t, err)

	info, err := f.ledger.LockStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, info, "lease must be released after the run")

	runs, err := f.ledger.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "deploy-1", runs[0].DeploymentID)
	assert.Len(t, runs[0].Results, 3)
}

func TestApply_ReleasesLockAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.FailOn("A()", errors.New("boom"))

	_, err := f.engine.Apply(context.Background(), threeChangesets(), ApplyOptions{})
	require.Error(t, err)

	info, err := f.ledger.LockStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestApply_ResumesAfterFailureFixed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.FailOn("B()", errors.New("boom"))

	_, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.Error(t, err)

	f.adapter.Heal("B()")
	f.adapter.Reset()
	summary, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B()", "C()"}, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StateSkipped, ir.StateApplied, ir.StateApplied}, states(summary))
	assert.Equal(t, []string{"jb:1", "jb:2", "jb:3"}, f.appliedIDs(t))
}

func TestApply_ContinueOnFailure_MultipleFailures(t *testing.T) {
	f := newFixture(t)
	f.adapter.FailOn("A()", errors.New("a broke"))
	f.adapter.FailOn("C()", errors.New("c broke"))

	summary, err := f.engine.Apply(context.Background(), threeChangesets(), ApplyOptions{ContinueOnFailure: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a broke")
	assert.Contains(t, err.Error(), "c broke")

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "jb:1", se.ID.String())
	assert.Equal(t, []string{"jb:2"}, f.appliedIDs(t))
	assert.Equal(t, []string{"jb:1", "jb:3"}, idStrings(summary.Failed()))
}

func TestApply_To(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()

	summary, err := f.engine.Apply(context.Background(), sets, ApplyOptions{To: sets[1].ID})
	require.NoError(t, err)
	assert.Len(t, summary.Results, 2)
	assert.Equal(t, []string{"jb:1", "jb:2"}, f.appliedIDs(t))
}

func TestApply_ToUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	summary, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{To: ir.ChangesetID{Author: "jb", ID: "9"}})
	require.Error(t, err)
	assert.True(t, IsUnknownChangeset(err))
	assert.Contains(t, err.Error(), "jb:9: not in changelog")
	assert.Equal(t, []ir.State{ir.StateNotAttempted, ir.StateNotAttempted, ir.StateNotAttempted}, states(summary))
	assert.Equal(t, "unknown --to target", summary.Results[0].Reason)
	assert.Empty(t, f.adapter.Attempts())

	runs, err := f.ledger.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs, "runs rejected before locking leave no history")
}

func TestApply_LabelFilter(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	sets[0].Labels = []string{"release-1.0.0"}
	sets[1].Labels = []string{"release-1.1.0"}

	summary, err := f.engine.Apply(context.Background(), sets, ApplyOptions{Labels: []string{"RELEASE-1.0.0"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A()"}, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StateApplied, ir.StateSkipped, ir.StateSkipped}, states(summary))
	assert.Equal(t, "filtered by labels", summary.Results[1].Reason)
}

func TestApply_LabelsInformationalByDefault(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	sets[0].Labels = []string{"release-1.0.0"}

	_, err := f.engine.Apply(context.Background(), sets, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A()", "B()", "C()"}, f.adapter.Attempts())
}

func TestApply_ContextFilter(t *testing.T) {
	f := newFixture(t)
	sets := threeChangesets()
	sets[0].Context.Contexts = []string{"int", "uat"}
	sets[1].Context.Contexts = []string{"prd"}

	summary, err := f.engine.Apply(context.Background(), sets, ApplyOptions{Context: "uat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A()", "C()"}, f.adapter.Attempts())
	assert.Equal(t, "filtered by context", summary.Results[1].Reason)
}

func TestApply_DryRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sets := threeChangesets()

	_, err := f.engine.Apply(ctx, sets[:1], ApplyOptions{})
	require.NoError(t, err)
	f.adapter.Reset()

	summary, err := f.engine.Apply(ctx, sets, ApplyOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Empty(t, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StateSkipped, ir.StatePending, ir.StatePending}, states(summary))
	assert.Equal(t, []string{"jb:1"}, f.appliedIDs(t))

	runs, err := f.ledger.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].DryRun)
}

func TestApply_ForceReexecutesChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.NoError(t, err)
	f.adapter.Reset()

	edited := threeChangesets()
	edited[0] = testutil.Changeset("jb", "1", "A(edited)", "undoA()")

	summary, err := f.engine.Apply(ctx, edited, ApplyOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A(edited)"}, f.adapter.Attempts())
	assert.Equal(t, []ir.State{ir.StateApplied, ir.StateSkipped, ir.StateSkipped}, states(summary))

	entry, found, err := f.ledger.Get(ctx, edited[0].ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, edited[0].Checksum, entry.Checksum)
	assert.Equal(t, []string{"jb:2", "jb:3", "jb:1"}, f.appliedIDs(t), "replaced entry moves to the end of apply order")
}

func TestApply_UnknownLedgerEntriesDoNotFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.NoError(t, err)

	_, err = f.engine.Apply(ctx, threeChangesets()[1:], ApplyOptions{})
	require.NoError(t, err)
}

func TestApply_LedgerDesyncIsFatal(t *testing.T) {
	f := newFixture(t)
	faulty := &faultyLedger{Ledger: f.ledger, recordErr: &ledger.WriteError{Op: "record", Err: errors.New("disk full")}}
	e := f.newEngine(faulty, f.adapter)

	summary, err := e.Apply(context.Background(), threeChangesets(), ApplyOptions{ContinueOnFailure: true})
	require.Error(t, err)
	assert.True(t, IsLedgerDesync(err))
	assert.True(t, ledger.IsWriteError(err))
	assert.Contains(t, err.Error(), "manual reconciliation required")

	assert.Equal(t, []string{"A()"}, f.adapter.Attempts(), "store op must not be retried and the run must halt")
	assert.Equal(t, []ir.State{ir.StateFailed, ir.StateNotAttempted, ir.StateNotAttempted}, states(summary))
	assert.Empty(t, f.appliedIDs(t))
}

func TestApply_UnreadableLedgerReportsSelection(t *testing.T) {
	f := newFixture(t)
	faulty := &faultyLedger{Ledger: f.ledger, listErr: errors.New("corrupt page")}
	e := f.newEngine(faulty, f.adapter)
	sets := threeChangesets()

	summary, err := e.Apply(context.Background(), sets, ApplyOptions{To: sets[1].ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load applied set: corrupt page")
	assert.Equal(t, []string{"jb:1", "jb:2"}, idStrings(summary.NotAttempted()))
	assert.Equal(t, "applied-set unreadable", summary.Results[1].Reason)
	assert.Empty(t, f.adapter.Attempts())
}

func TestApply_CancelBetweenChangesets(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.adapter.OnExecute = func(op ir.Operation) {
		if op.Body == "A()" {
			cancel()
		}
	}

	summary, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"jb:1"}, f.appliedIDs(t), "in-flight changeset completes and is recorded")
	assert.Equal(t, []ir.State{ir.StateApplied, ir.StateNotAttempted, ir.StateNotAttempted}, states(summary))
	assert.Equal(t, "run cancelled", summary.Results[1].Reason)

	info, err := f.ledger.LockStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info, "cancelled run still releases the lease")
}

func TestApply_LeaseLostHalts(t *testing.T) {
	f := newFixture(t)
	faulty := &faultyLedger{Ledger: f.ledger, renewErr: ledger.ErrLeaseLost}
	e := f.newEngine(faulty, f.adapter)

	summary, err := e.Apply(context.Background(), threeChangesets(), ApplyOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrLeaseLost)
	assert.Empty(t, f.adapter.Attempts())
	assert.Equal(t, "ledger lock lost", summary.Results[0].Reason)
}

func TestApply_LockHeldFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.AcquireLock(ctx, "someone", time.Minute))

	summary, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.Error(t, err)
	assert.True(t, ledger.IsLockHeld(err))

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Same(t, summary, runErr.Summary)
	assert.Empty(t, f.adapter.Attempts())

	info, err := f.ledger.LockStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "someone", info.Owner, "a failed acquire must not release someone else's lease")
}

func TestApply_LockTimeoutExpires(t *testing.T) {
	f := newFixture(t, WithLockTimeout(30*time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, f.ledger.AcquireLock(ctx, "someone", time.Hour))

	_, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	require.Error(t, err)
	assert.True(t, ledger.IsLockHeld(err))
}

func TestApply_LockTimeoutWaitsForRelease(t *testing.T) {
	f := newFixture(t, WithLockTimeout(5*time.Second, 5*time.Millisecond))
	ctx := context.Background()

	holder := openLedger(t, f.path, f.clock)
	require.NoError(t, holder.AcquireLock(ctx, "someone", time.Hour))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		_ = holder.ReleaseLock(ctx, "someone")
	}()

	_, err := f.engine.Apply(ctx, threeChangesets(), ApplyOptions{})
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, []string{"jb:1", "jb:2", "jb:3"}, f.appliedIDs(t))
}

func TestApply_EmptyChangelog(t *testing.T) {
	f := newFixture(t)

	summary, err := f.engine.Apply(context.Background(), nil, ApplyOptions{})
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	assert.Equal(t, "success", summary.Outcome())
}
