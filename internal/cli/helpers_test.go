package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/changeling/internal/config"
	"github.com/roach88/changeling/internal/testutil"
)

const mongoChangelog = "../changelog/testdata/changelog.mongo.js"

// cliEnv runs commands against one ledger file with a frozen clock and
// sequential deployment ids, so output is byte-stable.
type cliEnv struct {
	t      *testing.T
	dir    string
	ledger string
	clock  *testutil.ManualClock
	ids    *testutil.SequenceIDGenerator
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{
		t:      t,
		dir:    dir,
		ledger: filepath.Join(dir, "changeling.db"),
		clock:  testutil.NewManualClock(testutil.Epoch),
		ids:    testutil.NewSequenceIDGenerator("deploy"),
	}
}

type cliResult struct {
	stdout string
	stderr string
	code   int
	err    error
}

func (e *cliEnv) run(args ...string) cliResult {
	e.t.Helper()
	opts := &RootOptions{
		Config: config.Config{
			Ledger:   e.ledger,
			Format:   "text",
			LockTTL:  5 * time.Minute,
			LockPoll: 10 * time.Millisecond,
		},
		IDs: e.ids,
		Now: e.clock.Now,
	}
	cmd := newRootCommand(opts)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), code: GetExitCode(err), err: err}
}

// writeChangelog writes a changelog into the env directory and returns its path.
func (e *cliEnv) writeChangelog(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func assertGolden(t *testing.T, name, got string) {
	t.Helper()
	testutil.AssertGolden(t, name, []byte(got))
}

// ordersChangelog has a changeset that fails: t:2 writes to a collection
// that does not exist.
const ordersChangelog = `// liquibase formatted mongodb

// changeset t:1 runWith:mongosh
db.createCollection('Orders');
// rollback db.Orders.drop()

// changeset t:2 runWith:mongosh
db.Missing.insertOne({_id: 1});
// rollback db.Missing.deleteOne({_id: 1})

// changeset t:3 runWith:mongosh
db.Orders.insertOne({_id: 1, total: 10});
// rollback db.Orders.deleteOne({_id: 1})
`

const simpleChangelog = `// liquibase formatted mongodb

// changeset t:1 labels:release-1 runWith:mongosh
db.createCollection('Orders');
// rollback db.Orders.drop()

// changeset t:2 labels:release-2 runWith:mongosh
db.Orders.insertOne({_id: 1, total: 10});
`
