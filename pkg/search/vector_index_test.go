package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/mnemosdb/pkg/storage"
)

func TestInsertFixesDimensionPerSpace(t *testing.T) {
	ix := NewIndex()

	_, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0, 0}, nil)
	require.NoError(t, err)

	dim, ok := ix.Dimension(SpaceMemoryEmbedding)
	require.True(t, ok)
	assert.Equal(t, 3, dim)

	_, err = ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// Other spaces are independent.
	_, err = ix.Insert(SpaceChunkEmbedding, []float32{1, 0}, nil)
	require.NoError(t, err)

	_, err = ix.Insert(SpaceMemoryEmbedding, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestDimensionSurvivesLastDelete(t *testing.T) {
	ix := NewIndex()

	entry, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Delete(entry.ID))
	assert.Equal(t, 0, ix.Count(SpaceMemoryEmbedding))

	_, err = ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch, "dimensionality outlives the entries")
}

func TestSearchRanksByCosineDescending(t *testing.T) {
	ix := NewIndex()
	ctx := context.Background()

	far, err := ix.Insert(SpaceMemoryEmbedding, []float32{0, 1, 0}, storage.Bag{"memory_id": storage.String("far")})
	require.NoError(t, err)
	near, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0.1, 0}, storage.Bag{"memory_id": storage.String("near")})
	require.NoError(t, err)
	exact, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0, 0}, storage.Bag{"memory_id": storage.String("exact")})
	require.NoError(t, err)

	hits, err := ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, exact.ID, hits[0].Entry.ID)
	assert.Equal(t, near.ID, hits[1].Entry.ID)
	assert.Equal(t, far.ID, hits[2].Entry.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 0.0001)
	assert.Greater(t, hits[1].Score, hits[2].Score)
}

func TestSearchTiesBreakByInsertionOrder(t *testing.T) {
	ix := NewIndex()
	ctx := context.Background()

	// Identical vectors score identically; insertion order decides.
	first, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, nil)
	require.NoError(t, err)
	second, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, nil)
	require.NoError(t, err)

	hits, err := ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, first.ID, hits[0].Entry.ID)
	assert.Equal(t, second.ID, hits[1].Entry.ID)
}

func TestSearchEdgeCases(t *testing.T) {
	ix := NewIndex()
	ctx := context.Background()

	// Empty space: empty result, any query length accepted.
	hits, err := ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, nil)
	require.NoError(t, err)

	// k overshoot truncates to what exists; k == 0 is empty.
	hits, err = ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Query dimension must match a non-empty space.
	_, err = ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchFilteredRanksBeforeFiltering(t *testing.T) {
	ix := NewIndex()
	ctx := context.Background()

	// Three entries, descending similarity to the query; the best and worst
	// belong to alice, the middle one to bob.
	best, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, storage.Bag{"user_id": storage.String("alice")})
	require.NoError(t, err)
	_, err = ix.Insert(SpaceMemoryEmbedding, []float32{1, 0.5}, storage.Bag{"user_id": storage.String("bob")})
	require.NoError(t, err)
	worst, err := ix.Insert(SpaceMemoryEmbedding, []float32{0, 1}, storage.Bag{"user_id": storage.String("alice")})
	require.NoError(t, err)

	alice := func(e *Entry) bool { return e.Properties.GetString("user_id") == "alice" }

	// k=2 with a filter matching 2 of 3: both alice entries, best-first,
	// even though bob's entry outranks one of them.
	hits, err := ix.SearchFiltered(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 2, alice)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, best.ID, hits[0].Entry.ID)
	assert.Equal(t, worst.ID, hits[1].Entry.ID)

	// A filter matching fewer than k yields exactly the matches.
	hits, err = ix.SearchFiltered(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 5, alice)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	none := func(*Entry) bool { return false }
	hits, err = ix.SearchFiltered(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 5, none)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchHonorsContextCancellation(t *testing.T) {
	ix := NewIndex()
	for i := 0; i < 10; i++ {
		_, err := ix.Insert(SpaceMemoryEmbedding, []float32{float32(i), 1}, nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.Search(ctx, SpaceMemoryEmbedding, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetAndDelete(t *testing.T) {
	ix := NewIndex()

	entry, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 2}, storage.Bag{"memory_id": storage.String("m-1")})
	require.NoError(t, err)

	got, err := ix.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got.Vector)
	assert.Equal(t, "m-1", got.Properties.GetString("memory_id"))

	// Returned copies do not alias stored state.
	got.Vector[0] = 99
	again, err := ix.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, float32(1), again.Vector[0])

	require.NoError(t, ix.Delete(entry.ID))
	_, err = ix.Get(entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, ix.Delete(entry.ID), ErrNotFound)
}

func TestHasElementImplementsEndpointResolver(t *testing.T) {
	ix := NewIndex()

	entry, err := ix.Insert(SpaceMemoryEmbedding, []float32{1, 0}, nil)
	require.NoError(t, err)

	assert.True(t, ix.HasElement(storage.ElementID(entry.ID)))
	assert.False(t, ix.HasElement("ghost"))

	// Wired into an engine, vector entries become valid edge endpoints.
	engine := storage.NewMemoryEngine()
	defer engine.Close()
	engine.SetEndpointResolver(ix)

	mem, err := engine.CreateNode(storage.NodeMemory, storage.Bag{"memory_id": storage.String("m-1")})
	require.NoError(t, err)
	_, err = engine.CreateEdge(storage.EdgeHasEmbedding,
		storage.ElementID(mem.ID), storage.ElementID(entry.ID), nil)
	require.NoError(t, err)
}
