package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEngineReturnsDeepCopies(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	node, err := engine.CreateNode(NodeUser, Bag{"user_id": String("u-1"), "name": String("Alice")})
	require.NoError(t, err)

	// Mutating the returned copy must not touch stored state.
	node.Properties["name"] = String("Mallory")

	got, err := engine.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Properties.GetString("name"))

	// The input bag may be reused by the caller.
	bag := Bag{"memory_id": String("m-1")}
	mem, err := engine.CreateNode(NodeMemory, bag)
	require.NoError(t, err)
	bag["memory_id"] = String("changed")

	got, err = engine.GetNode(mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.Properties.GetString("memory_id"))
}

func TestMemoryEngineIndexOrderAfterUpdate(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	// older gains the shared key via update, after newer was created with it.
	older, err := engine.CreateNode(NodeUser, Bag{"user_id": String("original")})
	require.NoError(t, err)
	newer, err := engine.CreateNode(NodeUser, Bag{"user_id": String("shared")})
	require.NoError(t, err)

	_, err = engine.UpdateNode(older.ID, Bag{"user_id": String("shared")})
	require.NoError(t, err)

	all, err := engine.FindAll(NodeUser, "user_id", String("shared"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID, "index order follows creation order, not update order")
	assert.Equal(t, newer.ID, all[1].ID)
}

func TestMemoryEngineConcurrentAccess(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("m-%d-%d", i, j)
				if _, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String(id)}); err != nil {
					t.Error(err)
					return
				}
				if _, err := engine.FindFirst(NodeMemory, "memory_id", String(id)); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	n, err := engine.Count(NodeMemory)
	require.NoError(t, err)
	assert.Equal(t, int64(400), n)

	// Seq values stay unique and dense under concurrency.
	all, err := engine.Range(NodeMemory, 0, 400)
	require.NoError(t, err)
	seen := make(map[uint64]bool)
	for _, node := range all {
		assert.False(t, seen[node.Seq], "duplicate seq %d", node.Seq)
		seen[node.Seq] = true
	}
}

func TestMemoryEngineSelfLoopCountedOnce(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	mem, err := engine.CreateNode(NodeMemory, Bag{"memory_id": String("m-1")})
	require.NoError(t, err)
	_, err = engine.CreateEdge(EdgeMemoryRelation, ElementID(mem.ID), ElementID(mem.ID), nil)
	require.NoError(t, err)

	removed, err := engine.DeleteIncident(ElementID(mem.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
