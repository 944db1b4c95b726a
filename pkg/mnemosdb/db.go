// Package mnemosdb is the embedded database API for MnemosDB.
//
// A DB combines the three engines into one personal-memory store:
//
//   - the graph engine (pkg/storage) for typed nodes and edges
//   - the vector index (pkg/search) for embeddings
//   - the pipeline executor (pkg/pipeline) for composed read queries
//
// Every operation the memory workload issues is a method here, each a fixed
// composition of store primitives. Write operations that span the graph and
// the vector index run under the DB writer lock, so a reader never observes
// a memory without its HAS_EMBEDDING edge or an embedding without its entry.
//
// Example usage:
//
//	engine := storage.NewMemoryEngine()
//	db := mnemosdb.Open(engine)
//	defer db.Close()
//
//	user, _ := db.GetOrCreateUser(ctx, "u-alice")
//	mem, _ := db.AddMemory(ctx, "u-alice", mnemosdb.MemoryInput{
//		MemoryID:   "m-1",
//		Content:    "likes espresso",
//		MemoryType: "preference",
//		Certainty:  90,
//		Importance: 5,
//	})
//	db.AddMemoryEmbedding(ctx, "m-1", embedding, "nomic-embed-text")
//
//	results, _ := db.VectorSearch(ctx, queryVec, "u-alice", 5, 0.3)
package mnemosdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/mnemosdb/pkg/pipeline"
	"github.com/orneryd/mnemosdb/pkg/search"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// ErrUnknownRelation is returned by LinkMemories for an edge type outside
// the memory-relation set.
var ErrUnknownRelation = errors.New("unknown memory relation type")

// DB is the embedded database handle. Safe for concurrent use.
type DB struct {
	// mu orders composite units that span the graph engine and the vector
	// index. Plain single-engine operations rely on the engines' own locks.
	mu sync.RWMutex

	engine storage.BatchEngine
	index  *search.Index
	rt     *pipeline.Runtime
}

// Open wraps a storage engine into a DB with a fresh vector index. The index
// is wired into the engine as endpoint resolver so edges can target
// embeddings.
func Open(engine storage.BatchEngine) *DB {
	index := search.NewIndex()
	engine.SetEndpointResolver(index)
	return &DB{
		engine: engine,
		index:  index,
		rt:     &pipeline.Runtime{Engine: engine, Index: index},
	}
}

// Close closes the underlying engine. The vector index needs no teardown.
func (db *DB) Close() error {
	return db.engine.Close()
}

// Engine exposes the underlying graph engine, for seeding and tests.
func (db *DB) Engine() storage.BatchEngine { return db.engine }

// Index exposes the vector index, for seeding and tests.
func (db *DB) Index() *search.Index { return db.index }

// ============================================================================
// Users
// ============================================================================

// CreateUser creates a User node. user_id is a business key: creating the
// same id twice yields two nodes, and lookups resolve to the first.
func (db *DB) CreateUser(ctx context.Context, userID, name string) (*storage.Node, error) {
	return db.engine.CreateNode(storage.NodeUser, storage.Bag{
		"user_id":    storage.String(userID),
		"name":       storage.String(name),
		"created_at": storage.Date(time.Now()),
	})
}

// GetUser returns the first User node with the given user_id.
func (db *DB) GetUser(ctx context.Context, userID string) (*storage.Node, error) {
	return db.engine.FindFirst(storage.NodeUser, "user_id", storage.String(userID))
}

// GetOrCreateUser returns the existing user or creates one with an empty
// name.
func (db *DB) GetOrCreateUser(ctx context.Context, userID string) (*storage.Node, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, err := db.engine.FindFirst(storage.NodeUser, "user_id", storage.String(userID))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return db.engine.CreateNode(storage.NodeUser, storage.Bag{
		"user_id":    storage.String(userID),
		"name":       storage.String(""),
		"created_at": storage.Date(time.Now()),
	})
}

// ============================================================================
// Memories
// ============================================================================

// MemoryInput is the payload for AddMemory. MemoryID and Content are
// required; the rest default to zero values.
type MemoryInput struct {
	MemoryID    string
	Content     string
	MemoryType  string
	Certainty   int64 // 0-100
	Importance  int64 // 0-10
	ContextTags string
	Source      string
	Metadata    string
}

func (in MemoryInput) bag() storage.Bag {
	now := time.Now()
	return storage.Bag{
		"memory_id":    storage.String(in.MemoryID),
		"content":      storage.String(in.Content),
		"memory_type":  storage.String(in.MemoryType),
		"certainty":    storage.Int(in.Certainty),
		"importance":   storage.Int(in.Importance),
		"context_tags": storage.String(in.ContextTags),
		"source":       storage.String(in.Source),
		"metadata":     storage.String(in.Metadata),
		"created_at":   storage.Date(now),
		"updated_at":   storage.Date(now),
	}
}

// AddMemory creates a Memory node owned by the user: the node and its
// HAS_MEMORY edge commit as one atomic batch. The user must exist.
func (db *DB) AddMemory(ctx context.Context, userID string, in MemoryInput) (*storage.Node, error) {
	if in.MemoryID == "" {
		return nil, fmt.Errorf("memory_id required: %w", storage.ErrInvalidData)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	user, err := db.engine.FindFirst(storage.NodeUser, "user_id", storage.String(userID))
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", userID, err)
	}

	bag := in.bag()
	bag["user_id"] = storage.String(userID)

	batch := db.engine.Begin()
	defer batch.Rollback()
	memID := batch.CreateNode(storage.NodeMemory, bag)
	batch.CreateEdge(storage.EdgeHasMemory,
		storage.ElementID(user.ID), storage.ElementID(memID), nil)
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("storing memory: %w", err)
	}

	return db.engine.GetNode(memID)
}

// GetMemory returns the first Memory node with the given memory_id.
func (db *DB) GetMemory(ctx context.Context, memoryID string) (*storage.Node, error) {
	return db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
}

// GetMemoryByID returns a memory by its node identifier.
func (db *DB) GetMemoryByID(ctx context.Context, id storage.NodeID) (*storage.Node, error) {
	return db.engine.GetNode(id)
}

var getUserMemoriesPipeline = &pipeline.Pipeline{
	Name: "get-user-memories",
	Steps: []pipeline.Step{
		pipeline.FindFirst("user", storage.NodeUser, "user_id", pipeline.Var("user_id")),
		pipeline.Out("rels", pipeline.Ref("user"), storage.EdgeHasMemory),
		pipeline.ResolveNodes("memories", "rels"),
	},
	Returns: []string{"memories"},
}

// GetUserMemories returns the user's memories in link order, at most limit
// (limit <= 0 means all). A missing user aborts with the failing step, which
// distinguishes "no such user" from "user with no memories".
func (db *DB) GetUserMemories(ctx context.Context, userID string, limit int) ([]*storage.Node, error) {
	env, err := getUserMemoriesPipeline.Execute(ctx, db.rt, pipeline.Env{
		"user_id": storage.String(userID),
	})
	if err != nil {
		return nil, err
	}
	memories := env["memories"].([]*storage.Node)
	if limit > 0 && limit < len(memories) {
		memories = memories[:limit]
	}
	return memories, nil
}

// UpdateMemory merges a partial bag into the first memory with the given
// memory_id. updated_at is refreshed automatically.
func (db *DB) UpdateMemory(ctx context.Context, memoryID string, partial storage.Bag) (*storage.Node, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	return db.UpdateMemoryByID(ctx, mem.ID, partial)
}

// UpdateMemoryByID merges a partial bag into a memory by node identifier.
func (db *DB) UpdateMemoryByID(ctx context.Context, id storage.NodeID, partial storage.Bag) (*storage.Node, error) {
	merged := partial.Clone()
	merged["updated_at"] = storage.Date(time.Now())
	return db.engine.UpdateNode(id, merged)
}

// DeleteMemory removes the memory, its incident edges, and its own embedding
// entries from the vector index, as one unit under the DB writer lock.
// Embeddings of other elements are untouched.
func (db *DB) DeleteMemory(ctx context.Context, memoryID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return err
	}

	// Collect the embedding endpoints before the cascade removes the edges.
	neighbors, err := db.engine.Out(storage.ElementID(mem.ID), storage.EdgeHasEmbedding)
	if err != nil {
		return err
	}

	if err := db.engine.DeleteNode(mem.ID, storage.CascadeEdges); err != nil {
		return err
	}

	for _, n := range neighbors {
		if err := db.index.Delete(search.VectorID(n.ID)); err != nil && !errors.Is(err, search.ErrNotFound) {
			return err
		}
	}
	return nil
}

// CountMemories returns the total number of Memory nodes. O(1).
func (db *DB) CountMemories(ctx context.Context) (int64, error) {
	return db.engine.Count(storage.NodeMemory)
}

// Stats summarizes node counts per type and vector counts per space.
type Stats struct {
	Nodes   map[storage.NodeType]int64
	Vectors map[search.SpaceType]int
}

// GetStats gathers per-type counts. Each count is O(1).
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Nodes:   make(map[storage.NodeType]int64),
		Vectors: make(map[search.SpaceType]int),
	}
	for _, typ := range []storage.NodeType{
		storage.NodeUser, storage.NodeMemory, storage.NodeContext,
		storage.NodeEntity, storage.NodeConcept, storage.NodeMemoryChunk,
		storage.NodeDocPage, storage.NodeDocChunk, storage.NodeCodeExample,
	} {
		n, err := db.engine.Count(typ)
		if err != nil {
			return nil, err
		}
		stats.Nodes[typ] = n
	}
	for _, space := range []search.SpaceType{
		search.SpaceMemoryEmbedding, search.SpaceEntityEmbedding, search.SpaceChunkEmbedding,
	} {
		stats.Vectors[space] = db.index.Count(space)
	}
	return stats, nil
}
