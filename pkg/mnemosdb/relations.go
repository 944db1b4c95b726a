package mnemosdb

import (
	"context"
	"fmt"
	"time"

	"github.com/orneryd/mnemosdb/pkg/pipeline"
	"github.com/orneryd/mnemosdb/pkg/search"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// ============================================================================
// Embeddings
// ============================================================================

// AddMemoryEmbedding stores an embedding for the memory and links it with a
// HAS_EMBEDDING edge. The vector entry and the edge form one unit: if the
// edge cannot be created the entry is removed again.
func (db *DB) AddMemoryEmbedding(ctx context.Context, memoryID string, vec []float32, model string) (*search.Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}

	return db.attachEmbeddingLocked(search.SpaceMemoryEmbedding, storage.EdgeHasEmbedding, mem.ID, storage.Bag{
		"memory_id":       storage.String(memoryID),
		"embedding_model": storage.String(model),
		"created_at":      storage.Date(time.Now()),
	}, vec)
}

// AddEntityEmbedding stores an embedding for the entity, linked with an
// ENTITY_HAS_EMBEDDING edge.
func (db *DB) AddEntityEmbedding(ctx context.Context, entityID string, vec []float32, model string) (*search.Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	entity, err := db.engine.FindFirst(storage.NodeEntity, "entity_id", storage.String(entityID))
	if err != nil {
		return nil, fmt.Errorf("resolving entity %s: %w", entityID, err)
	}

	return db.attachEmbeddingLocked(search.SpaceEntityEmbedding, storage.EdgeEntityHasEmbedding, entity.ID, storage.Bag{
		"entity_id":       storage.String(entityID),
		"embedding_model": storage.String(model),
		"created_at":      storage.Date(time.Now()),
	}, vec)
}

// attachEmbeddingLocked inserts a vector entry and the edge pointing at it.
// Caller must hold db.mu for writing.
func (db *DB) attachEmbeddingLocked(space search.SpaceType, edgeType storage.EdgeType, owner storage.NodeID, props storage.Bag, vec []float32) (*search.Entry, error) {
	entry, err := db.index.Insert(space, vec, props)
	if err != nil {
		return nil, err
	}
	if _, err := db.engine.CreateEdge(edgeType,
		storage.ElementID(owner), storage.ElementID(entry.ID), nil); err != nil {
		// Keep the unit atomic: no entry without its edge.
		db.index.Delete(entry.ID)
		return nil, err
	}
	return entry, nil
}

// GetMemoryEmbeddings returns the memory's vector entries in link order.
func (db *DB) GetMemoryEmbeddings(ctx context.Context, memoryID string) ([]*search.Entry, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	neighbors, err := db.engine.Out(storage.ElementID(mem.ID), storage.EdgeHasEmbedding)
	if err != nil {
		return nil, err
	}
	entries := make([]*search.Entry, 0, len(neighbors))
	for _, n := range neighbors {
		entry, err := db.index.Get(search.VectorID(n.ID))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ============================================================================
// Memory relations
// ============================================================================

// memoryRelations is the closed set LinkMemories accepts.
var memoryRelations = map[storage.EdgeType]bool{
	storage.EdgeMemoryRelation: true,
	storage.EdgeImplies:        true,
	storage.EdgeBecause:        true,
	storage.EdgeContradicts:    true,
	storage.EdgeSupersedes:     true,
}

// LinkUserToMemory creates a HAS_MEMORY edge from an existing user to an
// existing memory.
func (db *DB) LinkUserToMemory(ctx context.Context, userID, memoryID string) (*storage.Edge, error) {
	user, err := db.engine.FindFirst(storage.NodeUser, "user_id", storage.String(userID))
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", userID, err)
	}
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}
	return db.engine.CreateEdge(storage.EdgeHasMemory,
		storage.ElementID(user.ID), storage.ElementID(mem.ID), nil)
}

// LinkMemories creates a typed relation edge between two memories with a
// strength score. relation must be one of MEMORY_RELATION, IMPLIES, BECAUSE,
// CONTRADICTS, SUPERSEDES.
func (db *DB) LinkMemories(ctx context.Context, fromMemoryID, toMemoryID string, relation storage.EdgeType, strength float64) (*storage.Edge, error) {
	if !memoryRelations[relation] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelation, relation)
	}

	from, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(fromMemoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", fromMemoryID, err)
	}
	to, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(toMemoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", toMemoryID, err)
	}

	return db.engine.CreateEdge(relation,
		storage.ElementID(from.ID), storage.ElementID(to.ID), storage.Bag{
			"strength":   storage.Float(strength),
			"created_at": storage.Date(time.Now()),
		})
}

var supersededPipeline = &pipeline.Pipeline{
	Name: "get-superseded-memories",
	Steps: []pipeline.Step{
		pipeline.FindFirst("memory", storage.NodeMemory, "memory_id", pipeline.Var("memory_id")),
		pipeline.Out("rels", pipeline.Ref("memory"), storage.EdgeSupersedes),
		pipeline.ResolveNodes("superseded", "rels"),
	},
	Returns: []string{"superseded"},
}

// GetSupersededMemories returns the memories this memory supersedes,
// in link order.
func (db *DB) GetSupersededMemories(ctx context.Context, memoryID string) ([]*storage.Node, error) {
	env, err := supersededPipeline.Execute(ctx, db.rt, pipeline.Env{
		"memory_id": storage.String(memoryID),
	})
	if err != nil {
		return nil, err
	}
	return env["superseded"].([]*storage.Node), nil
}

// GetSupersedingMemory returns the memory that supersedes this one, or
// storage.ErrNotFound when nothing does. With multiple supersessions the
// first link wins.
func (db *DB) GetSupersedingMemory(ctx context.Context, memoryID string) (*storage.Node, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	neighbors, err := db.engine.In(storage.ElementID(mem.ID), storage.EdgeSupersedes)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, storage.ErrNotFound
	}
	return db.engine.GetNode(storage.NodeID(neighbors[0].ID))
}

// LogicalConnections groups a memory's logical neighbors by relation type
// and direction.
type LogicalConnections struct {
	Implies        []*storage.Node // this memory implies these
	ImpliedBy      []*storage.Node
	Because        []*storage.Node
	BecauseOf      []*storage.Node
	Contradicts    []*storage.Node
	ContradictedBy []*storage.Node
	Related        []*storage.Node
	RelatedBy      []*storage.Node
}

// GetMemoryLogicalConnections collects all four logical relation types in
// both directions, each list in link order.
func (db *DB) GetMemoryLogicalConnections(ctx context.Context, memoryID string) (*LogicalConnections, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	id := storage.ElementID(mem.ID)

	conns := &LogicalConnections{}
	for _, part := range []struct {
		typ      storage.EdgeType
		out, in  *[]*storage.Node
	}{
		{storage.EdgeImplies, &conns.Implies, &conns.ImpliedBy},
		{storage.EdgeBecause, &conns.Because, &conns.BecauseOf},
		{storage.EdgeContradicts, &conns.Contradicts, &conns.ContradictedBy},
		{storage.EdgeMemoryRelation, &conns.Related, &conns.RelatedBy},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outNodes, err := db.neighborNodes(db.engine.Out(id, part.typ))
		if err != nil {
			return nil, err
		}
		inNodes, err := db.neighborNodes(db.engine.In(id, part.typ))
		if err != nil {
			return nil, err
		}
		*part.out = outNodes
		*part.in = inNodes
	}
	return conns, nil
}

// neighborNodes loads the node behind each neighbor, preserving order.
func (db *DB) neighborNodes(neighbors []storage.Neighbor, err error) ([]*storage.Node, error) {
	if err != nil {
		return nil, err
	}
	nodes := make([]*storage.Node, 0, len(neighbors))
	for _, n := range neighbors {
		node, err := db.engine.GetNode(storage.NodeID(n.ID))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ============================================================================
// Contexts
// ============================================================================

// CreateContext creates a Context node.
func (db *DB) CreateContext(ctx context.Context, contextID, name string) (*storage.Node, error) {
	return db.engine.CreateNode(storage.NodeContext, storage.Bag{
		"context_id": storage.String(contextID),
		"name":       storage.String(name),
		"created_at": storage.Date(time.Now()),
	})
}

// LinkMemoryToContext records that the memory occurred in the context.
func (db *DB) LinkMemoryToContext(ctx context.Context, memoryID, contextID string) (*storage.Edge, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}
	cx, err := db.engine.FindFirst(storage.NodeContext, "context_id", storage.String(contextID))
	if err != nil {
		return nil, fmt.Errorf("resolving context %s: %w", contextID, err)
	}
	return db.engine.CreateEdge(storage.EdgeOccurredIn,
		storage.ElementID(mem.ID), storage.ElementID(cx.ID), nil)
}

// GetMemoryContexts returns the contexts the memory occurred in, link order.
func (db *DB) GetMemoryContexts(ctx context.Context, memoryID string) ([]*storage.Node, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	return db.neighborNodes(db.engine.Out(storage.ElementID(mem.ID), storage.EdgeOccurredIn))
}

// ============================================================================
// Entities
// ============================================================================

// CreateEntity creates an Entity node.
func (db *DB) CreateEntity(ctx context.Context, entityID, name string) (*storage.Node, error) {
	return db.engine.CreateNode(storage.NodeEntity, storage.Bag{
		"entity_id":  storage.String(entityID),
		"name":       storage.String(name),
		"created_at": storage.Date(time.Now()),
	})
}

// LinkExtractedEntity records that the entity was extracted from the memory.
func (db *DB) LinkExtractedEntity(ctx context.Context, memoryID, entityID string) (*storage.Edge, error) {
	return db.linkMemoryEntity(storage.EdgeExtractedEntity, memoryID, entityID)
}

// LinkMentions records that the memory mentions the entity.
func (db *DB) LinkMentions(ctx context.Context, memoryID, entityID string) (*storage.Edge, error) {
	return db.linkMemoryEntity(storage.EdgeMentions, memoryID, entityID)
}

func (db *DB) linkMemoryEntity(typ storage.EdgeType, memoryID, entityID string) (*storage.Edge, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}
	entity, err := db.engine.FindFirst(storage.NodeEntity, "entity_id", storage.String(entityID))
	if err != nil {
		return nil, fmt.Errorf("resolving entity %s: %w", entityID, err)
	}
	return db.engine.CreateEdge(typ,
		storage.ElementID(mem.ID), storage.ElementID(entity.ID), nil)
}

// GetMemoryEntities returns the entities extracted from the memory.
func (db *DB) GetMemoryEntities(ctx context.Context, memoryID string) ([]*storage.Node, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	return db.neighborNodes(db.engine.Out(storage.ElementID(mem.ID), storage.EdgeExtractedEntity))
}

// ============================================================================
// Concepts
// ============================================================================

// LinkMemoryToInstanceOf classifies the memory as an instance of a concept,
// with a confidence score in [0, 100].
func (db *DB) LinkMemoryToInstanceOf(ctx context.Context, memoryID, conceptID string, confidence int64) (*storage.Edge, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}
	concept, err := db.engine.FindFirst(storage.NodeConcept, "concept_id", storage.String(conceptID))
	if err != nil {
		return nil, fmt.Errorf("resolving concept %s: %w", conceptID, err)
	}
	return db.engine.CreateEdge(storage.EdgeInstanceOf,
		storage.ElementID(mem.ID), storage.ElementID(concept.ID), storage.Bag{
			"confidence": storage.Int(confidence),
			"created_at": storage.Date(time.Now()),
		})
}

// LinkConceptCategory files a concept under a broader category concept.
func (db *DB) LinkConceptCategory(ctx context.Context, conceptID, categoryID string) (*storage.Edge, error) {
	concept, err := db.engine.FindFirst(storage.NodeConcept, "concept_id", storage.String(conceptID))
	if err != nil {
		return nil, fmt.Errorf("resolving concept %s: %w", conceptID, err)
	}
	category, err := db.engine.FindFirst(storage.NodeConcept, "concept_id", storage.String(categoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving concept %s: %w", categoryID, err)
	}
	return db.engine.CreateEdge(storage.EdgeBelongsToCategory,
		storage.ElementID(concept.ID), storage.ElementID(category.ID), nil)
}

// MemoryConcepts groups a memory's concept classifications.
type MemoryConcepts struct {
	InstanceOf []*storage.Node // concepts the memory is an instance of
	BelongsTo  []*storage.Node // categories those concepts belong to
}

// GetMemoryConcepts returns the memory's INSTANCE_OF concepts and, for each,
// the categories it BELONGS_TO_CATEGORY, deduplicated in first-seen order.
func (db *DB) GetMemoryConcepts(ctx context.Context, memoryID string) (*MemoryConcepts, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}

	instances, err := db.neighborNodes(db.engine.Out(storage.ElementID(mem.ID), storage.EdgeInstanceOf))
	if err != nil {
		return nil, err
	}

	seen := make(map[storage.NodeID]bool)
	var categories []*storage.Node
	for _, concept := range instances {
		cats, err := db.neighborNodes(db.engine.Out(storage.ElementID(concept.ID), storage.EdgeBelongsToCategory))
		if err != nil {
			return nil, err
		}
		for _, cat := range cats {
			if seen[cat.ID] {
				continue
			}
			seen[cat.ID] = true
			categories = append(categories, cat)
		}
	}

	return &MemoryConcepts{InstanceOf: instances, BelongsTo: categories}, nil
}
