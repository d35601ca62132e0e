package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/changeling/internal/changelog"
	"github.com/roach88/changeling/internal/ir"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "target.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(t *testing.T, s *Store, body string) error {
	t.Helper()
	return s.Execute(context.Background(), ir.Operation{Kind: "mongosh", Body: body})
}

func TestExecute_ChangelogForwardAndRollback(t *testing.T) {
	sets, err := changelog.ParseFile("../changelog/testdata/changelog.mongo.js")
	require.NoError(t, err)

	s := createTestStore(t)
	ctx := context.Background()

	for _, cs := range sets {
		require.NoError(t, s.Execute(ctx, cs.Forward), "forward %s", cs.ID)
	}

	names, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Addresses", "Organizations"}, names)

	orgs, err := s.Find(ctx, "Organizations", nil)
	require.NoError(t, err)
	require.Len(t, orgs, 5)
	assert.Equal(t, "Acme Corporation", orgs[0]["name"])

	addrs, err := s.Find(ctx, "Addresses", map[string]any{"state": "SC"})
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "Bluffton", addrs[0]["city"])

	for i := len(sets) - 1; i >= 0; i-- {
		require.NoError(t, s.Execute(ctx, *sets[i].Rollback), "rollback %s", sets[i].ID)
	}
	names, err = s.Collections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestExecute_Validation(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, exec(t, s, `db.createCollection('Orgs', {validator: {$jsonSchema: {bsonType: "object", required: ["name"]}}})`))

	err := exec(t, s, `db.Orgs.insertOne({_id: 1})`)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidation), "got %v", err)

	validator, err := s.Validator(context.Background(), "Orgs")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["name"]}`, validator)
}

func TestExecute_OperationIsAtomic(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, exec(t, s, `db.createCollection('Orgs')`))

	err := exec(t, s, `
		db.Orgs.insertOne({_id: 1, name: 'a'});
		db.Orgs.insertOne({_id: 1, name: 'b'});
	`)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeDuplicateKey), "got %v", err)
	assert.Contains(t, err.Error(), "line 3")

	docs, err := s.Find(context.Background(), "Orgs", nil)
	require.NoError(t, err)
	assert.Empty(t, docs, "first insert must be rolled back with the second")
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"unknown collection insert", `db.Nope.insertOne({a: 1})`, ErrCodeUnknownCollection},
		{"unknown collection drop", `db.Nope.drop()`, ErrCodeUnknownCollection},
		{"duplicate collection", `db.createCollection('Orgs')`, ErrCodeCollectionExists},
		{"unsupported method", `db.Orgs.createIndex({name: 1})`, ErrCodeUnsupported},
		{"unsupported db method", `db.dropDatabase()`, ErrCodeUnsupported},
		{"query operator", `db.Orgs.deleteMany({n: {$gt: 1}})`, ErrCodeUnsupported},
		{"update operator", `db.Orgs.updateMany({}, {$inc: {n: 1}})`, ErrCodeUnsupported},
		{"replacement update", `db.Orgs.updateMany({}, {n: 1})`, ErrCodeArgument},
		{"update _id", `db.Orgs.updateOne({}, {$set: {_id: 2}})`, ErrCodeArgument},
		{"insertMany not array", `db.Orgs.insertMany({a: 1})`, ErrCodeArgument},
		{"insert scalar", `db.Orgs.insertOne(5)`, ErrCodeArgument},
		{"filter missing", `db.Orgs.deleteOne()`, ErrCodeArgument},
		{"bad schema", `db.createCollection('X', {validator: {$jsonSchema: {type: 12}}})`, ErrCodeArgument},
		{"syntax", `db.Orgs.insertOne(`, ErrCodeSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			require.NoError(t, exec(t, s, `db.createCollection('Orgs')`))

			err := exec(t, s, tt.body)
			require.Error(t, err)
			assert.True(t, HasCode(err, tt.code), "want %s, got %v", tt.code, err)
		})
	}
}

func TestExecute_ShellHelperValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, exec(t, s, `db.createCollection('Events', {validator: {$jsonSchema: {
		bsonType: "object",
		properties: {
			_id: {bsonType: "objectId"},
			created: {bsonType: "date"},
			n: {bsonType: "int"}
		}
	}}})`))

	require.NoError(t, exec(t, s, `db.Events.insertOne({
		_id: ObjectId("507f1f77bcf86cd799439011"),
		created: ISODate("2024-01-02T03:04:05Z"),
		n: NumberInt(5)
	})`))

	docs, err := s.Find(ctx, "Events", nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "507f1f77bcf86cd799439011", docs[0]["_id"])
	assert.Equal(t, "2024-01-02T03:04:05Z", docs[0]["created"])
	assert.EqualValues(t, 5, docs[0]["n"])

	err = exec(t, s, `db.Events.insertOne({_id: "not-an-object-id", n: 1})`)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidation), "got %v", err)
}

func TestExecute_UnsupportedKind(t *testing.T) {
	s := createTestStore(t)
	err := s.Execute(context.Background(), ir.Operation{Kind: "sql", Body: "CREATE TABLE x (id INT)"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeUnsupported))
}

func TestExecute_UpdateAndDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, exec(t, s, `
		db.createCollection('Orgs');
		db.Orgs.insertMany([
			{_id: 1, tier: 'gold', old: true},
			{_id: 2, tier: 'gold', old: true},
			{_id: 3, tier: 'free'},
		]);
	`))

	require.NoError(t, exec(t, s, `db.Orgs.updateOne({tier: 'gold'}, {$set: {flag: 1}})`))
	flagged, err := s.Find(ctx, "Orgs", map[string]any{"flag": 1})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, float64(1), flagged[0]["_id"])

	require.NoError(t, exec(t, s, `db.Orgs.updateMany({tier: 'gold'}, {$set: {tier: 'silver'}, $unset: {old: ''}})`))
	silver, err := s.Find(ctx, "Orgs", map[string]any{"tier": "silver"})
	require.NoError(t, err)
	require.Len(t, silver, 2)
	for _, d := range silver {
		assert.NotContains(t, d, "old")
	}

	require.NoError(t, exec(t, s, `db.Orgs.deleteOne({tier: 'silver'})`))
	all, err := s.Find(ctx, "Orgs", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, float64(2), all[0]["_id"])

	require.NoError(t, exec(t, s, `db.Orgs.deleteMany({})`))
	all, err = s.Find(ctx, "Orgs", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecute_GeneratesMissingID(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, exec(t, s, `db.createCollection('Logs'); db.Logs.insertOne({msg: 'hi'})`))

	docs, err := s.Find(context.Background(), "Logs", nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Regexp(t, `^[0-9a-f]{24}$`, docs[0]["_id"])
}

func TestExecute_IDTypesAreDistinct(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, exec(t, s, `db.createCollection('C'); db.C.insertMany([{_id: 1}, {_id: "1"}])`))

	docs, err := s.Find(context.Background(), "C", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestFind_UnknownCollection(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Find(context.Background(), "Nope", nil)
	assert.True(t, HasCode(err, ErrCodeUnknownCollection))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Execute(context.Background(), ir.Operation{Body: "db.createCollection('A')"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	names, err := s.Collections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names)
}
