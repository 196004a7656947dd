package memadapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replidoc/document"
	"replidoc/persist"
	"replidoc/persist/memadapter"
	"replidoc/stamp"
)

func TestAdapter_GetMissingReturnsErrNotFound(t *testing.T) {
	a := memadapter.New()
	_, err := a.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, persist.ErrNotFound))
}

func TestAdapter_PutThenGet(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()
	snap := document.Snapshot{ID: "doc1", Fields: map[document.Path]document.FieldSnapshot{}}

	require.NoError(t, a.Put(ctx, "doc1", snap))
	got, err := a.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, document.ID("doc1"), got.ID)
}

func TestAdapter_VectorClockMergeTakesMax(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()

	require.NoError(t, a.VectorClockMerge(ctx, "doc1", map[stamp.ReplicaID]uint64{"r1": 3}))
	require.NoError(t, a.VectorClockMerge(ctx, "doc1", map[stamp.ReplicaID]uint64{"r1": 1, "r2": 5}))

	clock, err := a.VectorClockGet(ctx, "doc1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, clock["r1"])
	assert.EqualValues(t, 5, clock["r2"])
}

func TestAdapter_DeleteThenListOmitsIt(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()
	require.NoError(t, a.Put(ctx, "doc1", document.Snapshot{ID: "doc1"}))

	require.NoError(t, a.Delete(ctx, "doc1"))
	ids, err := a.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, document.ID("doc1"))
}
