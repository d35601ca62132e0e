package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/ledger"
	"github.com/roach88/changeling/internal/testutil"
)

// fixture wires an engine to a real ledger file and a recording adapter.
type fixture struct {
	path    string
	ledger  *ledger.Ledger
	adapter *testutil.RecordingAdapter
	clock   *testutil.ManualClock
	engine  *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		path:    filepath.Join(t.TempDir(), "ledger.db"),
		adapter: testutil.NewRecordingAdapter(),
		clock:   testutil.NewManualClock(testutil.Epoch),
	}
	f.ledger = openLedger(t, f.path, f.clock)
	f.engine = f.newEngine(f.ledger, f.adapter, opts...)
	return f
}

func openLedger(t *testing.T, path string, clock *testutil.ManualClock) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(path, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func (f *fixture) newEngine(l Ledger, a Adapter, opts ...Option) *Engine {
	base := []Option{
		WithIDGenerator(testutil.NewSequenceIDGenerator("deploy")),
		WithClock(f.clock.Now),
		WithLogger(discardLogger()),
	}
	return New(l, a, append(base, opts...)...)
}

func (f *fixture) appliedIDs(t *testing.T) []string {
	t.Helper()
	entries, err := f.ledger.ListApplied(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID.String()
	}
	return ids
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// threeChangesets returns A, B, C with inverses.
func threeChangesets() []ir.Changeset {
	return []ir.Changeset{
		testutil.Changeset("jb", "1", "A()", "undoA()"),
		testutil.Changeset("jb", "2", "B()", "undoB()"),
		testutil.Changeset("jb", "3", "C()", "undoC()"),
	}
}

func states(summary *ir.RunSummary) []ir.State {
	out := make([]ir.State, len(summary.Results))
	for i, r := range summary.Results {
		out[i] = r.State
	}
	return out
}

func idStrings(ids []ir.ChangesetID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// faultyLedger injects failures into selected ledger calls.
type faultyLedger struct {
	Ledger
	listErr   error
	recordErr error
	removeErr error
	renewErr  error
}

func (l *faultyLedger) ListApplied(ctx context.Context) ([]ir.LedgerEntry, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	return l.Ledger.ListApplied(ctx)
}

func (l *faultyLedger) Record(ctx context.Context, entry ir.LedgerEntry) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	return l.Ledger.Record(ctx, entry)
}

func (l *faultyLedger) Remove(ctx context.Context, id ir.ChangesetID) error {
	if l.removeErr != nil {
		return l.removeErr
	}
	return l.Ledger.Remove(ctx, id)
}

func (l *faultyLedger) RenewLock(ctx context.Context, owner string, ttl time.Duration) error {
	if l.renewErr != nil {
		return l.renewErr
	}
	return l.Ledger.RenewLock(ctx, owner, ttl)
}
