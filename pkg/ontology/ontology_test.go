package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/mnemosdb/pkg/storage"
)

func TestLoadSeedsConceptTree(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	require.NoError(t, Load(engine))

	n, err := engine.Count(storage.NodeConcept)
	require.NoError(t, err)
	assert.Equal(t, int64(len(Tree)), n)

	// Roots have no parent edge; every child hangs off its parent.
	pref, err := Lookup(engine, "preference")
	require.NoError(t, err)
	children, err := engine.Out(storage.ElementID(pref.ID), storage.EdgeHasSubtype)
	require.NoError(t, err)
	require.Len(t, children, 2)

	food, err := engine.GetNode(storage.NodeID(children[0].ID))
	require.NoError(t, err)
	assert.Equal(t, "food_preference", food.Properties.GetString("concept_id"))

	// Nested third level: dietary_restriction under food_preference.
	grand, err := engine.Out(children[0].ID, storage.EdgeHasSubtype)
	require.NoError(t, err)
	require.Len(t, grand, 1)
	dietary, err := engine.GetNode(storage.NodeID(grand[0].ID))
	require.NoError(t, err)
	assert.Equal(t, "dietary_restriction", dietary.Properties.GetString("concept_id"))

	parents, err := engine.In(storage.ElementID(pref.ID), storage.EdgeHasSubtype)
	require.NoError(t, err)
	assert.Empty(t, parents, "roots have no parent")
}

func TestLoadIsNotIdempotent(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	require.NoError(t, Load(engine))
	require.NoError(t, Load(engine))

	n, err := engine.Count(storage.NodeConcept)
	require.NoError(t, err)
	assert.Equal(t, int64(2*len(Tree)), n, "double load duplicates the tree")

	all, err := engine.FindAll(storage.NodeConcept, "concept_id", storage.String("preference"))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Lookup still resolves to the first copy.
	first, err := Lookup(engine, "preference")
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, first.ID)
}

func TestExistsGuard(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	ok, err := Exists(engine)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Load(engine))

	ok, err = Exists(engine)
	require.NoError(t, err)
	assert.True(t, ok)
}
