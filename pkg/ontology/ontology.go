// Package ontology seeds the fixed concept taxonomy for MnemosDB.
//
// The taxonomy is a small constant tree of Concept nodes connected by
// HAS_SUBTYPE edges. Memories link into it with INSTANCE_OF edges carrying a
// confidence score, which is how "likes sushi" becomes queryable as a
// food_preference.
//
// Load is NOT idempotent: concept_id is an ordinary property, so loading
// twice creates a second copy of every concept node. Callers own the guard:
//
//	if ok, _ := ontology.Exists(engine); !ok {
//		if err := ontology.Load(engine); err != nil { ... }
//	}
package ontology

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/orneryd/mnemosdb/pkg/storage"
)

// Concept is one taxonomy entry. Parent is the concept_id of the broader
// concept, empty for roots.
type Concept struct {
	ID          string
	Name        string
	Parent      string
	Description string
}

// Tree is the built-in concept taxonomy: two root concepts, their subtypes,
// and one nested third level under food_preference.
var Tree = []Concept{
	{ID: "preference", Name: "Preference", Description: "Things the user likes, dislikes, or chooses"},
	{ID: "food_preference", Name: "Food Preference", Parent: "preference", Description: "Tastes in food and drink"},
	{ID: "dietary_restriction", Name: "Dietary Restriction", Parent: "food_preference", Description: "Hard constraints on diet"},
	{ID: "activity_preference", Name: "Activity Preference", Parent: "preference", Description: "Hobbies and preferred activities"},
	{ID: "fact", Name: "Fact", Description: "Stable statements about the user or their world"},
	{ID: "personal_fact", Name: "Personal Fact", Parent: "fact", Description: "Biographical details"},
}

// Load seeds the concept tree into the engine: one Concept node per entry
// and a HAS_SUBTYPE edge from each parent to each child, all in one atomic
// batch. Calling Load on an engine that already holds the tree duplicates
// it; guard with Exists.
func Load(engine storage.BatchEngine) error {
	logger := log.WithPrefix("ontology")
	logger.Info("seeding concept tree", "concepts", len(Tree))

	batch := engine.Begin()
	defer batch.Rollback()

	ids := make(map[string]storage.NodeID, len(Tree))
	for _, c := range Tree {
		ids[c.ID] = batch.CreateNode(storage.NodeConcept, storage.Bag{
			"concept_id":  storage.String(c.ID),
			"name":        storage.String(c.Name),
			"description": storage.String(c.Description),
		})
	}
	for _, c := range Tree {
		if c.Parent == "" {
			continue
		}
		batch.CreateEdge(storage.EdgeHasSubtype,
			storage.ElementID(ids[c.Parent]), storage.ElementID(ids[c.ID]), nil)
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("seeding ontology: %w", err)
	}

	logger.Info("concept tree seeded")
	return nil
}

// Exists reports whether the concept tree is already present, by probing for
// the first root concept.
func Exists(engine storage.Engine) (bool, error) {
	_, err := engine.FindFirst(storage.NodeConcept, "concept_id", storage.String(Tree[0].ID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Lookup finds a seeded concept node by concept_id. When Load ran more than
// once this returns the first copy, in creation order.
func Lookup(engine storage.Engine, conceptID string) (*storage.Node, error) {
	return engine.FindFirst(storage.NodeConcept, "concept_id", storage.String(conceptID))
}
