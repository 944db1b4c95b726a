// Package storage provides the graph storage engine for MnemosDB.
//
// The storage layer owns typed nodes and typed directed edges for a
// personal-memory knowledge graph. It is deliberately small: point lookup,
// equality lookup over business-key properties, range/pagination in creation
// order, typed adjacency traversal, and cascading deletion. Vector entries
// live in the search package and are referenced from edges through the same
// ElementID namespace.
//
// Design principles:
//   - Thread-safe implementations behind a small Engine interface
//   - Deterministic ordering: creation order is the tie-break everywhere
//   - Deep copies at the API boundary to prevent external mutation
//   - Closed scalar property model (see props.go) for lossless round-trips
//
// Example usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	alice, _ := engine.CreateNode(storage.NodeUser, storage.Bag{
//		"user_id": storage.String("u-alice"),
//		"name":    storage.String("Alice"),
//	})
//
//	coffee, _ := engine.CreateNode(storage.NodeMemory, storage.Bag{
//		"memory_id": storage.String("m-1"),
//		"content":   storage.String("likes coffee"),
//	})
//
//	engine.CreateEdge(storage.EdgeHasMemory,
//		storage.ElementID(alice.ID), storage.ElementID(coffee.ID), nil)
//
//	neighbors, _ := engine.Out(storage.ElementID(alice.ID), storage.EdgeHasMemory)
//	for _, n := range neighbors {
//		fmt.Println(n.ID) // coffee's ID
//	}
package storage

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrDanglingEndpoint = errors.New("dangling endpoint: node or vector not found")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidData      = errors.New("invalid data")
	ErrStorageClosed    = errors.New("storage closed")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
// IDs are allocated by the store at creation time and never reused.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// ElementID identifies any edge endpoint: a node or a vector entry.
// Node and vector identifiers share this namespace so that edges like
// HAS_EMBEDDING can point from a node to a vector entry.
type ElementID string

// NodeType is the closed set of node type tags.
type NodeType string

const (
	NodeUser        NodeType = "User"
	NodeMemory      NodeType = "Memory"
	NodeContext     NodeType = "Context"
	NodeEntity      NodeType = "Entity"
	NodeConcept     NodeType = "Concept"
	NodeMemoryChunk NodeType = "MemoryChunk"
	NodeDocPage     NodeType = "DocPage"
	NodeDocChunk    NodeType = "DocChunk"
	NodeCodeExample NodeType = "CodeExample"
)

// EdgeType is the closed set of edge type tags.
type EdgeType string

const (
	EdgeHasMemory          EdgeType = "HAS_MEMORY"
	EdgeHasEmbedding       EdgeType = "HAS_EMBEDDING"
	EdgeMemoryRelation     EdgeType = "MEMORY_RELATION"
	EdgeImplies            EdgeType = "IMPLIES"
	EdgeBecause            EdgeType = "BECAUSE"
	EdgeContradicts        EdgeType = "CONTRADICTS"
	EdgeSupersedes         EdgeType = "SUPERSEDES"
	EdgeOccurredIn         EdgeType = "OCCURRED_IN"
	EdgeExtractedEntity    EdgeType = "EXTRACTED_ENTITY"
	EdgeMentions           EdgeType = "MENTIONS"
	EdgeInstanceOf         EdgeType = "INSTANCE_OF"
	EdgeBelongsToCategory  EdgeType = "BELONGS_TO_CATEGORY"
	EdgeHasSubtype         EdgeType = "HAS_SUBTYPE"
	EdgeHasChunk           EdgeType = "HAS_CHUNK"
	EdgeNextChunk          EdgeType = "NEXT_CHUNK"
	EdgePageToChunk        EdgeType = "PAGE_TO_CHUNK"
	EdgeChunkToEmbedding   EdgeType = "CHUNK_TO_EMBEDDING"
	EdgeChunkHasExample    EdgeType = "CHUNK_HAS_EXAMPLE"
	EdgeEntityHasEmbedding EdgeType = "ENTITY_HAS_EMBEDDING"
	EdgeChunkHasEmbedding  EdgeType = "CHUNK_HAS_EMBEDDING"
)

// Node represents a typed graph node.
//
// The ID is allocated by the store and immutable for the store's lifetime.
// Seq is the node's creation sequence number; it orders equality lookups,
// ranges, and duplicate business-key resolution deterministically. Business
// keys (user_id, memory_id, ...) are ordinary string properties — the engine
// does not enforce uniqueness on them; equality lookups resolve duplicates
// by first match in creation order.
type Node struct {
	ID         NodeID   `json:"id"`
	Type       NodeType `json:"type"`
	Properties Bag      `json:"properties"`

	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Edge represents a typed, directed, property-bearing relationship between
// two elements (nodes or vector entries).
//
// Edges are directed: Out traversal follows From -> To, In traversal follows
// To -> From. Endpoints are resolved at creation time and never re-pointed;
// deleting an endpoint cascades to its incident edges by default.
type Edge struct {
	ID         EdgeID    `json:"id"`
	Type       EdgeType  `json:"type"`
	From       ElementID `json:"from"`
	To         ElementID `json:"to"`
	Properties Bag       `json:"properties"`

	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

// Neighbor pairs an edge with the endpoint it leads to. Out returns the To
// endpoint, In returns the From endpoint.
type Neighbor struct {
	Edge *Edge
	ID   ElementID
}

// CascadePolicy controls whether deleting a node also removes its incident
// edges.
type CascadePolicy int

const (
	// CascadeEdges removes every edge touching the deleted node. This is the
	// default: without it every adjacency reference to the deleted node's id
	// would be stale.
	CascadeEdges CascadePolicy = iota
	// OrphanEdges leaves incident edges in place. The caller owns cleanup.
	OrphanEdges
)

// EndpointResolver answers whether an element id outside the node store is
// known (vector entries, in practice). Engines consult it when validating
// edge endpoints; a nil resolver means only nodes are valid endpoints.
type EndpointResolver interface {
	HasElement(id ElementID) bool
}

// Engine is the storage engine interface for node and edge operations.
//
// All implementations must be safe for concurrent use, atomic per operation,
// and preserve creation order for FindFirst/FindAll/Range.
type Engine interface {
	// Node operations
	CreateNode(typ NodeType, props Bag) (*Node, error)
	GetNode(id NodeID) (*Node, error)
	FindFirst(typ NodeType, field string, value Value) (*Node, error)
	FindAll(typ NodeType, field string, value Value) ([]*Node, error)
	Range(typ NodeType, offset, limit int) ([]*Node, error)
	Count(typ NodeType) (int64, error)
	UpdateNode(id NodeID, partial Bag) (*Node, error)
	DeleteNode(id NodeID, policy CascadePolicy) error

	// Edge operations
	CreateEdge(typ EdgeType, from, to ElementID, props Bag) (*Edge, error)
	GetEdge(id EdgeID) (*Edge, error)
	Out(from ElementID, typ EdgeType) ([]Neighbor, error)
	In(to ElementID, typ EdgeType) ([]Neighbor, error)
	OutEdges(from ElementID, typ EdgeType) ([]*Edge, error)
	InEdges(to ElementID, typ EdgeType) ([]*Edge, error)
	DeleteEdge(id EdgeID) error
	DeleteEdgesFrom(from ElementID, typ EdgeType) (int, error)
	DeleteIncident(id ElementID) (int, error)

	// SetEndpointResolver wires the vector index (or any other element
	// namespace) into edge endpoint validation.
	SetEndpointResolver(r EndpointResolver)

	// Lifecycle
	Close() error
}

// Batch buffers write operations and applies them atomically: either every
// staged operation applies or none does. CreateNode returns the future node
// identifier immediately so staged edges can reference staged nodes.
//
// A Batch is single-use and not safe for concurrent use. The usual pattern
// is defer batch.Rollback() with an explicit Commit on success.
type Batch interface {
	CreateNode(typ NodeType, props Bag) NodeID
	CreateEdge(typ EdgeType, from, to ElementID, props Bag)
	UpdateNode(id NodeID, partial Bag)
	DeleteNode(id NodeID, policy CascadePolicy)
	DeleteEdgesFrom(from ElementID, typ EdgeType)
	Commit() error
	Rollback() error
}

// BatchEngine is an Engine that can group writes into atomic batches.
// Both built-in engines implement it.
type BatchEngine interface {
	Engine
	Begin() Batch
}

// IndexedFields lists the business-key fields that get a secondary equality
// index per node type. Lookups on other fields fall back to a linear scan in
// creation order, which preserves the same first-match semantics.
var IndexedFields = map[NodeType][]string{
	NodeUser:        {"user_id"},
	NodeMemory:      {"memory_id"},
	NodeContext:     {"context_id"},
	NodeEntity:      {"entity_id"},
	NodeConcept:     {"concept_id"},
	NodeMemoryChunk: {"chunk_id"},
	NodeDocPage:     {"url"},
	NodeDocChunk:    {"chunk_id"},
	NodeCodeExample: {},
}

// indexedField reports whether lookups on (typ, field) are index-backed.
func indexedField(typ NodeType, field string) bool {
	for _, f := range IndexedFields[typ] {
		if f == field {
			return true
		}
	}
	return false
}
