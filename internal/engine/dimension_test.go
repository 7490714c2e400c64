package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bugdw/internal/model"
)

func TestDimensionLoader_AssignsSortedKeys(t *testing.T) {
	ctx := context.Background()
	gw := newMemGateway()
	reg := NewRegistry()
	l := NewDimensionLoader(gw, reg, discardLogger())

	res, err := l.LoadSimple(ctx, model.DimProject, []string{"Beta", "Alpha", "Beta", "Alpha"})
	require.NoError(t, err)

	assert.Len(t, res.Inserted, 2)
	assert.Equal(t, int64(0), reg.Resolve(model.DimProject, model.Key(model.Unknown)))
	assert.Equal(t, int64(1), reg.Resolve(model.DimProject, model.Key("Alpha")))
	assert.Equal(t, int64(2), reg.Resolve(model.DimProject, model.Key("Beta")))

	assert.Equal(t, map[int64]string{0: "Unknown", 1: "Alpha", 2: "Beta"}, gw.dimension("project"))
}

func TestDimensionLoader_RerunIsNoOp(t *testing.T) {
	ctx := context.Background()
	gw := newMemGateway()
	l := NewDimensionLoader(gw, NewRegistry(), discardLogger())

	_, err := l.LoadSimple(ctx, model.DimProject, []string{"Alpha", "Beta"})
	require.NoError(t, err)
	commits := gw.commits

	res, err := l.LoadSimple(ctx, model.DimProject, []string{"Beta", "Alpha", model.Unknown})
	require.NoError(t, err)
	assert.Empty(t, res.Inserted)
	assert.Equal(t, commits, gw.commits, "no transaction for an all-known input")
}

func TestDimensionLoader_KeysStableAcrossLoads(t *testing.T) {
	ctx := context.Background()
	gw := newMemGateway()
	reg := NewRegistry()
	l := NewDimensionLoader(gw, reg, discardLogger())

	_, err := l.LoadSimple(ctx, model.DimUser, []string{"mallory"})
	require.NoError(t, err)
	_, err = l.LoadSimple(ctx, model.DimUser, []string{"adam", "mallory", "zoe"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), reg.Resolve(model.DimUser, model.Key("mallory")))
	assert.Equal(t, int64(2), reg.Resolve(model.DimUser, model.Key("adam")))
	assert.Equal(t, int64(3), reg.Resolve(model.DimUser, model.Key("zoe")))
}

func TestDimensionLoader_FailureLeavesRegistryAndStorageUnchanged(t *testing.T) {
	ctx := context.Background()
	gw := newMemGateway()
	reg := NewRegistry()
	l := NewDimensionLoader(gw, reg, discardLogger())

	gw.insertDimErr["category"] = errors.New("connection reset")
	_, err := l.LoadSimple(ctx, model.DimCategory, []string{"core", "ui"})
	require.Error(t, err)
	assert.True(t, IsDimensionError(err))
	assert.Contains(t, err.Error(), "dimension=category")

	assert.False(t, reg.contains(model.DimCategory, model.Key("core")))
	assert.Empty(t, gw.dimension("category"), "sentinel insert rolled back with the batch")

	// Retry after recovery assigns the same keys the failed attempt planned.
	delete(gw.insertDimErr, "category")
	res, err := l.LoadSimple(ctx, model.DimCategory, []string{"ui", "core"})
	require.NoError(t, err)
	require.Len(t, res.Inserted, 2)
	assert.Equal(t, int64(1), reg.Resolve(model.DimCategory, model.Key("core")))
	assert.Equal(t, int64(2), reg.Resolve(model.DimCategory, model.Key("ui")))
}

func TestDimensionLoader_BeginFailure(t *testing.T) {
	gw := newMemGateway()
	gw.beginErr = errors.New("database is locked")
	l := NewDimensionLoader(gw, NewRegistry(), discardLogger())

	_, err := l.LoadSimple(context.Background(), model.DimStatus, []string{"new"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gw.beginErr)
}

func TestDimensionLoader_SentinelWrittenOnceForEmptyInput(t *testing.T) {
	ctx := context.Background()
	gw := newMemGateway()
	l := NewDimensionLoader(gw, NewRegistry(), discardLogger())

	_, err := l.Load(ctx, model.DimSeverity, nil)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{0: "Unknown"}, gw.dimension("severity"))

	commits := gw.commits
	_, err = l.Load(ctx, model.DimSeverity, nil)
	require.NoError(t, err)
	assert.Equal(t, commits, gw.commits)
}

func TestDimensionLoader_SimpleRejectsCompositeDimension(t *testing.T) {
	l := NewDimensionLoader(newMemGateway(), NewRegistry(), discardLogger())
	_, err := l.LoadSimple(context.Background(), model.DimOS, []string{"win32"})
	require.Error(t, err)
}

func TestCompositeLoader_NewTripleThenResubmit(t *testing.T) {
	ctx := context.Background()
	gw := newMemGateway()
	reg := NewRegistry()
	l := NewDimensionLoader(gw, reg, discardLogger())

	triple := model.Key("win32", "Windows 11", "23H2")
	res, err := l.LoadComposite(ctx, model.DimOS, []model.NaturalKey{triple})
	require.NoError(t, err)
	require.Len(t, res.Inserted, 1)
	key := res.Inserted[0].Key
	assert.Equal(t, int64(1), key)

	res, err = l.LoadComposite(ctx, model.DimOS, []model.NaturalKey{triple})
	require.NoError(t, err)
	assert.Empty(t, res.Inserted)
	assert.Equal(t, key, reg.Resolve(model.DimOS, triple))
	assert.Len(t, gw.dimension("os"), 2)
}

func TestCompositeLoader_PartialMatchIsNew(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	l := NewDimensionLoader(newMemGateway(), reg, discardLogger())

	_, err := l.LoadComposite(ctx, model.DimOS, []model.NaturalKey{
		model.Key("win32", "Windows 11", "23H2"),
	})
	require.NoError(t, err)

	res, err := l.LoadComposite(ctx, model.DimOS, []model.NaturalKey{
		model.Key("win32", "Windows 11", "22H2"),
		model.Key("win32", "Windows 10", "23H2"),
		model.DimOS.Sentinel(),
	})
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 2)
	assert.Equal(t, int64(0), reg.Resolve(model.DimOS, model.DimOS.Sentinel()))
}

func TestCompositeLoader_RejectsWrongArity(t *testing.T) {
	l := NewDimensionLoader(newMemGateway(), NewRegistry(), discardLogger())
	_, err := l.LoadComposite(context.Background(), model.DimOS, []model.NaturalKey{model.Key("win32", "Windows 11")})
	require.Error(t, err)
	assert.True(t, IsDimensionError(err))
}
