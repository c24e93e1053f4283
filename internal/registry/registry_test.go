package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scieloorg/pidmanager/internal/pid"
)

type pair struct {
	v2, v3 string
}

func openTestRegistry(t *testing.T, seed ...pair) *Registry {
	t.Helper()

	reg, err := Open(filepath.Join(t.TempDir(), "pid_versions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	ctx := context.Background()
	for _, p := range seed {
		ok, err := reg.Register(ctx, p.v2, p.v3)
		require.NoError(t, err)
		require.True(t, ok, "seeding %v", p)
	}
	return reg
}

func pairsIn(t *testing.T, reg *Registry) []pair {
	t.Helper()
	records, err := reg.All(context.Background())
	require.NoError(t, err)
	var out []pair
	for _, rec := range records {
		out = append(out, pair{rec.ShortID, rec.LongID})
	}
	return out
}

// countingGenerator returns ids in order and counts calls.
type countingGenerator struct {
	ids   []string
	calls int
}

func (g *countingGenerator) Generate() (string, error) {
	id := g.ids[g.calls%len(g.ids)]
	g.calls++
	return id, nil
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid_versions.db")
	reg, err := Open(path)
	require.NoError(t, err)
	defer reg.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "Open() did not create database file")
}

func TestOpen_MissingDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-folder", "pid_versions.db")
	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpen_WithBusyTimeout(t *testing.T) {
	reg, err := Open(filepath.Join(t.TempDir(), "pid_versions.db"), WithBusyTimeout(2e9))
	require.NoError(t, err)
	defer reg.Close()

	ok, err := reg.Register(context.Background(), "pid-2", "pid-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegister(t *testing.T) {
	reg := openTestRegistry(t, pair{"pid-2", "pid-3"})
	ctx := context.Background()

	ok, err := reg.Register(ctx, "random-v2", "random-v3")
	require.NoError(t, err)
	assert.True(t, ok, "new pair should be inserted")

	ok, err = reg.Register(ctx, "pid-2", "pid-3")
	require.NoError(t, err)
	assert.False(t, ok, "duplicate pair should not be inserted")

	ok, err = reg.Register(ctx, "", "pid-3")
	require.NoError(t, err)
	assert.False(t, ok, "pair with empty side should be ignored")
}

func TestLookupLongID(t *testing.T) {
	reg := openTestRegistry(t, pair{"pid-2", "pid-3"}, pair{"pid-2", "pid-3b"})
	ctx := context.Background()

	got, err := reg.LookupLongID(ctx, "pid-2")
	require.NoError(t, err)
	assert.Equal(t, "pid-3", got)

	got, err = reg.LookupLongID(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestIsRegistered(t *testing.T) {
	reg := openTestRegistry(t, pair{"pid-2", "pid-3"})
	ctx := context.Background()

	ok, err := reg.IsRegistered(ctx, "pid-2", "pid-3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.IsRegistered(ctx, "pid-2", "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordsFor(t *testing.T) {
	reg := openTestRegistry(t, pair{"A", "X"}, pair{"B", "Y"}, pair{"A", "Z"})

	records, err := reg.RecordsFor(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "X", records[0].LongID)
	assert.Equal(t, "Z", records[1].LongID)
	assert.Less(t, records[0].ID, records[1].ID)
}

func TestReconcile_NoHistoryGenerates(t *testing.T) {
	reg := openTestRegistry(t)
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B", PreviousID: "A"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, OutcomeGenerated, res.Outcome)
	assert.Equal(t, "NEW", res.LongID)
	assert.Equal(t, "B", res.ShortID)
	assert.Equal(t, "A", res.PreviousID)
	assert.Equal(t, 1, gen.calls)
	assert.ElementsMatch(t, []pair{{"B", "NEW"}, {"A", "NEW"}}, pairsIn(t, reg))
}

func TestReconcile_NoHistoryWithoutPrevious(t *testing.T) {
	reg := openTestRegistry(t)
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []pair{{"B", "NEW"}}, pairsIn(t, reg))
}

func TestReconcile_EmptyGeneratorYieldsNothing(t *testing.T) {
	reg := openTestRegistry(t)
	gen := pid.GeneratorFunc(func() (string, error) { return "", nil })

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B"}, gen)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, pairsIn(t, reg))
}

func TestReconcile_GeneratorErrorRollsBack(t *testing.T) {
	reg := openTestRegistry(t)
	gen := pid.GeneratorFunc(func() (string, error) { return "", errors.New("entropy exhausted") })

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B"}, gen)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Empty(t, pairsIn(t, reg))
}

func TestReconcile_NoKeys(t *testing.T) {
	reg := openTestRegistry(t)
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{}, gen)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, gen.calls)
}

func TestReconcile_PreviousIDHistoryIsAdopted(t *testing.T) {
	reg := openTestRegistry(t, pair{"A", "X"})
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B", PreviousID: "A"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, OutcomeRecovered, res.Outcome)
	assert.Equal(t, "X", res.LongID)
	assert.False(t, res.Conflict)
	assert.Equal(t, 0, gen.calls)
	assert.ElementsMatch(t, []pair{{"A", "X"}, {"B", "X"}}, pairsIn(t, reg))
}

func TestReconcile_ShortIDHistoryIsAdopted(t *testing.T) {
	reg := openTestRegistry(t, pair{"B", "X"})
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "X", res.LongID)
	assert.Equal(t, []pair{{"B", "X"}}, pairsIn(t, reg))
}

func TestReconcile_ConflictPrefersPreviousID(t *testing.T) {
	reg := openTestRegistry(t, pair{"B", "Y"}, pair{"A", "X"}, pair{"B", "Z"})
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B", PreviousID: "A"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, OutcomeRecovered, res.Outcome)
	assert.True(t, res.Conflict)
	assert.Equal(t, "X", res.LongID)
	assert.ElementsMatch(t, []pair{{"A", "X"}, {"B", "X"}}, pairsIn(t, reg))
}

func TestReconcile_ConflictFallsBackToShortID(t *testing.T) {
	reg := openTestRegistry(t, pair{"B", "Y"}, pair{"B", "Z"})
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Conflict)
	assert.Equal(t, "Y", res.LongID)
	assert.Equal(t, []pair{{"B", "Y"}}, pairsIn(t, reg))
}

func TestReconcile_DeclaredLongIDOverridesRegistry(t *testing.T) {
	reg := openTestRegistry(t, pair{"A", "X"}, pair{"B", "X"})
	gen := &countingGenerator{ids: []string{"NEW"}}
	ctx := context.Background()

	res, err := reg.Reconcile(ctx, Declared{ShortID: "B", PreviousID: "A", LongID: "Y"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, OutcomeDeclaredOverride, res.Outcome)
	assert.Equal(t, Resolution{ShortID: "B", LongID: "Y", PreviousID: "A", Outcome: OutcomeDeclaredOverride}, *res)
	assert.Equal(t, 0, gen.calls)
	assert.ElementsMatch(t, []pair{{"A", "Y"}, {"B", "Y"}}, pairsIn(t, reg))

	// A second pass must not resurrect the X records.
	_, err = reg.Reconcile(ctx, Declared{ShortID: "B", PreviousID: "A", LongID: "Y"}, gen)
	require.NoError(t, err)
	assert.ElementsMatch(t, []pair{{"A", "Y"}, {"B", "Y"}}, pairsIn(t, reg))
}

func TestReconcile_DeclaredLongIDDropsOtherKeys(t *testing.T) {
	reg := openTestRegistry(t, pair{"C", "Y"})
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "B", PreviousID: "A", LongID: "Y"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "", res.FormerShortID)
	assert.ElementsMatch(t, []pair{{"A", "Y"}, {"B", "Y"}}, pairsIn(t, reg))
}

func TestReconcile_DeclaredLongIDMigratesFormerShortID(t *testing.T) {
	reg := openTestRegistry(t, pair{"OLD", "Y"})
	gen := &countingGenerator{ids: []string{"NEW"}}

	res, err := reg.Reconcile(context.Background(), Declared{ShortID: "NEW-V2", LongID: "Y"}, gen)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "OLD", res.FormerShortID)
	assert.Equal(t, "OLD", res.PreviousID)
	assert.ElementsMatch(t, []pair{{"NEW-V2", "Y"}, {"OLD", "Y"}}, pairsIn(t, reg))
}

func TestReconcile_Idempotent(t *testing.T) {
	reg := openTestRegistry(t, pair{"A", "X"})
	gen := &countingGenerator{ids: []string{"NEW"}}
	ctx := context.Background()
	d := Declared{ShortID: "B", PreviousID: "A"}

	first, err := reg.Reconcile(ctx, d, gen)
	require.NoError(t, err)
	before := pairsIn(t, reg)

	second, err := reg.Reconcile(ctx, d, gen)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, pairsIn(t, reg))
	assert.Equal(t, 0, gen.calls)
}

func TestReconcile_ClosedRegistryIsTransient(t *testing.T) {
	reg := openTestRegistry(t)
	require.NoError(t, reg.Close())

	_, err := reg.Reconcile(context.Background(), Declared{ShortID: "B"}, &countingGenerator{ids: []string{"NEW"}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestExportImportJSONL(t *testing.T) {
	src := openTestRegistry(t, pair{"A", "X"}, pair{"B", "X"}, pair{"C", "Y"})
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pid_versions.jsonl")

	n, err := src.ExportJSONL(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dst := openTestRegistry(t, pair{"A", "X"})
	inserted, err := dst.ImportJSONL(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.ElementsMatch(t, pairsIn(t, src), pairsIn(t, dst))

	inserted, err = dst.ImportJSONL(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestImportJSONL_BadLine(t *testing.T) {
	reg := openTestRegistry(t)
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"v2\":\"A\",\"v3\":\"X\"}\nnot json\n"), 0644))

	_, err := reg.ImportJSONL(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
