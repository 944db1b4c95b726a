package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runEngines runs a conformance test against both engine implementations.
func runEngines(t *testing.T, fn func(t *testing.T, engine BatchEngine)) {
	t.Run("memory", func(t *testing.T) {
		engine := NewMemoryEngine()
		defer engine.Close()
		fn(t, engine)
	})
	t.Run("badger", func(t *testing.T) {
		engine, err := NewBadgerEngineInMemory()
		require.NoError(t, err)
		defer engine.Close()
		fn(t, engine)
	})
}

func TestCreateAndGetNode(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		node, err := engine.CreateNode(NodeUser, Bag{
			"user_id": String("u-1"),
			"name":    String("Alice"),
		})
		require.NoError(t, err)
		require.NotEmpty(t, node.ID)
		assert.Equal(t, NodeUser, node.Type)
		assert.Equal(t, uint64(1), node.Seq)

		got, err := engine.GetNode(node.ID)
		require.NoError(t, err)
		assert.Equal(t, node.ID, got.ID)
		assert.Equal(t, "Alice", got.Properties.GetString("name"))

		_, err = engine.GetNode("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindFirstResolvesDuplicatesByCreationOrder(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		first, err := engine.CreateNode(NodeUser, Bag{"user_id": String("dup")})
		require.NoError(t, err)
		_, err = engine.CreateNode(NodeUser, Bag{"user_id": String("dup")})
		require.NoError(t, err)

		got, err := engine.FindFirst(NodeUser, "user_id", String("dup"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID, "duplicate business keys resolve to the oldest node")

		all, err := engine.FindAll(NodeUser, "user_id", String("dup"))
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, first.ID, all[0].ID)

		_, err = engine.FindFirst(NodeUser, "user_id", String("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindMatchesExactlyOnControlBytes(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		plain, err := engine.CreateNode(NodeUser, Bag{"user_id": String("a")})
		require.NoError(t, err)
		_, err = engine.CreateNode(NodeUser, Bag{"user_id": String("a\x00junk")})
		require.NoError(t, err)
		_, err = engine.CreateNode(NodeUser, Bag{"user_id": String("a\x01junk")})
		require.NoError(t, err)

		// A value that is a byte-prefix of another must not shadow it in the
		// equality index.
		all, err := engine.FindAll(NodeUser, "user_id", String("a"))
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, plain.ID, all[0].ID)

		embedded, err := engine.FindAll(NodeUser, "user_id", String("a\x00junk"))
		require.NoError(t, err)
		require.Len(t, embedded, 1)
		assert.Equal(t, "a\x00junk", embedded[0].Properties.GetString("user_id"))

		escaped, err := engine.FindAll(NodeUser, "user_id", String("a\x01junk"))
		require.NoError(t, err)
		require.Len(t, escaped, 1)
		assert.Equal(t, "a\x01junk", escaped[0].Properties.GetString("user_id"))
	})
}

func TestFindOnUnindexedFieldScansInCreationOrder(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		a, err := engine.CreateNode(NodeMemory, Bag{
			"memory_id": String("m-1"),
			"source":    String("chat"),
		})
		require.NoError(t, err)
		_, err = engine.CreateNode(NodeMemory, Bag{
			"memory_id": String("m-2"),
			"source":    String("import"),
		})
		require.NoError(t, err)
		b, err := engine.CreateNode(NodeMemory, Bag{
			"memory_id": String("m-3"),
			"source":    String("chat"),
		})
		require.NoError(t, err)

		// "source" has no secondary index; the scan must still honor order.
		all, err := engine.FindAll(NodeMemory, "source", String("chat"))
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
		assert.Equal(t, b.ID, all[1].ID)
	})
}

func TestRangeSemantics(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		var ids []NodeID
		for i := 0; i < 5; i++ {
			n, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String(string(rune('a' + i)))})
			require.NoError(t, err)
			ids = append(ids, n.ID)
		}

		page, err := engine.Range(NodeMemory, 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[1], page[0].ID)
		assert.Equal(t, ids[2], page[1].ID)

		// Limit zero yields empty, overshoot truncates, past-the-end is empty.
		empty, err := engine.Range(NodeMemory, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, empty)

		tail, err := engine.Range(NodeMemory, 3, 100)
		require.NoError(t, err)
		assert.Len(t, tail, 2)

		past, err := engine.Range(NodeMemory, 50, 10)
		require.NoError(t, err)
		assert.Empty(t, past)

		_, err = engine.Range(NodeMemory, -1, 10)
		assert.ErrorIs(t, err, ErrInvalidData)
	})
}

func TestCountTracksMutations(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		n, err := engine.Count(NodeMemory)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		a, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		require.NoError(t, err)
		_, err = engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-2")})
		require.NoError(t, err)

		n, err = engine.Count(NodeMemory)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, engine.DeleteNode(a.ID, CascadeEdges))
		n, err = engine.Count(NodeMemory)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// Other types are unaffected.
		n, err = engine.Count(NodeUser)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestUpdateNodeMergesAndReindexes(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		node, err := engine.CreateNode(NodeMemory, Bag{
			"memory_id": String("m-1"),
			"content":   String("likes tea"),
			"certainty": Int(70),
		})
		require.NoError(t, err)

		updated, err := engine.UpdateNode(node.ID, Bag{"certainty": Int(90)})
		require.NoError(t, err)
		assert.Equal(t, int64(90), updated.Properties.GetInt("certainty"))
		assert.Equal(t, "likes tea", updated.Properties.GetString("content"), "unspecified fields survive")
		assert.Equal(t, node.ID, updated.ID)
		assert.Equal(t, node.Seq, updated.Seq)

		// Changing the business key moves the node in the equality index.
		_, err = engine.UpdateNode(node.ID, Bag{"memory_id": String("m-renamed")})
		require.NoError(t, err)

		_, err = engine.FindFirst(NodeMemory, "memory_id", String("m-1"))
		assert.ErrorIs(t, err, ErrNotFound)

		found, err := engine.FindFirst(NodeMemory, "memory_id", String("m-renamed"))
		require.NoError(t, err)
		assert.Equal(t, node.ID, found.ID)

		_, err = engine.UpdateNode("ghost", Bag{"x": Int(1)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteNodeCascadePolicies(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		user, err := engine.CreateNode(NodeUser, Bag{"user_id": String("u-1")})
		require.NoError(t, err)
		mem, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		require.NoError(t, err)
		edge, err := engine.CreateEdge(EdgeHasMemory, ElementID(user.ID), ElementID(mem.ID), nil)
		require.NoError(t, err)

		// Cascade removes the incident edge with the node.
		require.NoError(t, engine.DeleteNode(mem.ID, CascadeEdges))
		_, err = engine.GetEdge(edge.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		out, err := engine.Out(ElementID(user.ID), EdgeHasMemory)
		require.NoError(t, err)
		assert.Empty(t, out)

		// OrphanEdges leaves the edge behind.
		mem2, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-2")})
		require.NoError(t, err)
		edge2, err := engine.CreateEdge(EdgeHasMemory, ElementID(user.ID), ElementID(mem2.ID), nil)
		require.NoError(t, err)

		require.NoError(t, engine.DeleteNode(mem2.ID, OrphanEdges))
		kept, err := engine.GetEdge(edge2.ID)
		require.NoError(t, err)
		assert.Equal(t, ElementID(mem2.ID), kept.To)
	})
}

func TestCreateEdgeRejectsDanglingEndpoints(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		user, err := engine.CreateNode(NodeUser, Bag{"user_id": String("u-1")})
		require.NoError(t, err)

		_, err = engine.CreateEdge(EdgeHasMemory, ElementID(user.ID), "ghost", nil)
		assert.ErrorIs(t, err, ErrDanglingEndpoint)

		_, err = engine.CreateEdge(EdgeHasMemory, "ghost", ElementID(user.ID), nil)
		assert.ErrorIs(t, err, ErrDanglingEndpoint)
	})
}

// stubResolver marks a fixed set of external element ids as existing.
type stubResolver map[ElementID]bool

func (s stubResolver) HasElement(id ElementID) bool { return s[id] }

func TestEndpointResolverExtendsElementNamespace(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		engine.SetEndpointResolver(stubResolver{"vec-1": true})

		mem, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		require.NoError(t, err)

		edge, err := engine.CreateEdge(EdgeHasEmbedding, ElementID(mem.ID), "vec-1", nil)
		require.NoError(t, err)
		assert.Equal(t, ElementID("vec-1"), edge.To)

		_, err = engine.CreateEdge(EdgeHasEmbedding, ElementID(mem.ID), "vec-2", nil)
		assert.ErrorIs(t, err, ErrDanglingEndpoint)
	})
}

func TestTraversalPreservesInsertionOrder(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		user, err := engine.CreateNode(NodeUser, Bag{"user_id": String("u-1")})
		require.NoError(t, err)

		var memIDs []ElementID
		for _, id := range []string{"m-1", "m-2", "m-3"} {
			mem, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String(id)})
			require.NoError(t, err)
			memIDs = append(memIDs, ElementID(mem.ID))
			_, err = engine.CreateEdge(EdgeHasMemory, ElementID(user.ID), ElementID(mem.ID), nil)
			require.NoError(t, err)
		}

		out, err := engine.Out(ElementID(user.ID), EdgeHasMemory)
		require.NoError(t, err)
		require.Len(t, out, 3)
		for i, n := range out {
			assert.Equal(t, memIDs[i], n.ID)
		}

		in, err := engine.In(memIDs[1], EdgeHasMemory)
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, ElementID(user.ID), in[0].ID)

		// Unknown edge type and unknown element both mean empty, not error.
		none, err := engine.Out(ElementID(user.ID), EdgeSupersedes)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestDeleteEdgesFromAndIncident(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		user, err := engine.CreateNode(NodeUser, Bag{"user_id": String("u-1")})
		require.NoError(t, err)
		m1, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		require.NoError(t, err)
		m2, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-2")})
		require.NoError(t, err)

		_, err = engine.CreateEdge(EdgeHasMemory, ElementID(user.ID), ElementID(m1.ID), nil)
		require.NoError(t, err)
		_, err = engine.CreateEdge(EdgeHasMemory, ElementID(user.ID), ElementID(m2.ID), nil)
		require.NoError(t, err)
		_, err = engine.CreateEdge(EdgeSupersedes, ElementID(m2.ID), ElementID(m1.ID), nil)
		require.NoError(t, err)

		removed, err := engine.DeleteEdgesFrom(ElementID(user.ID), EdgeHasMemory)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		out, err := engine.Out(ElementID(user.ID), EdgeHasMemory)
		require.NoError(t, err)
		assert.Empty(t, out)

		// The SUPERSEDES edge between memories is untouched.
		removed, err = engine.DeleteIncident(ElementID(m1.ID))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		sup, err := engine.Out(ElementID(m2.ID), EdgeSupersedes)
		require.NoError(t, err)
		assert.Empty(t, sup)
	})
}

func TestBatchCommitIsAtomic(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		user, err := engine.CreateNode(NodeUser, Bag{"user_id": String("u-1")})
		require.NoError(t, err)

		batch := engine.Begin()
		memID := batch.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		batch.CreateEdge(EdgeHasMemory, ElementID(user.ID), ElementID(memID), nil)
		require.NoError(t, batch.Commit())

		mem, err := engine.GetNode(memID)
		require.NoError(t, err)
		assert.Equal(t, "m-1", mem.Properties.GetString("memory_id"))

		out, err := engine.Out(ElementID(user.ID), EdgeHasMemory)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, ElementID(memID), out[0].ID)
	})
}

func TestBatchAbortsWithoutPartialWrites(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		batch := engine.Begin()
		memID := batch.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		batch.CreateEdge(EdgeHasMemory, "ghost-user", ElementID(memID), nil)

		err := batch.Commit()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDanglingEndpoint), "got %v", err)

		// The staged node must not have leaked.
		_, err = engine.GetNode(memID)
		assert.ErrorIs(t, err, ErrNotFound)
		n, err := engine.Count(NodeMemory)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestBatchRollbackAndReuse(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		batch := engine.Begin()
		batch.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
		require.NoError(t, batch.Rollback())

		n, err := engine.Count(NodeMemory)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		assert.ErrorIs(t, batch.Commit(), ErrTxDone)
	})
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	runEngines(t, func(t *testing.T, engine BatchEngine) {
		require.NoError(t, engine.Close())

		_, err := engine.CreateNode(NodeUser, nil)
		assert.ErrorIs(t, err, ErrStorageClosed)
		_, err = engine.Count(NodeUser)
		assert.ErrorIs(t, err, ErrStorageClosed)
		assert.NoError(t, engine.Close(), "close is idempotent")
	})
}
