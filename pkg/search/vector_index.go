// Package search provides the vector index for MnemosDB.
//
// The index stores dense float32 embeddings grouped into embedding spaces
// (memory, entity, chunk) and answers k-nearest-neighbor queries by cosine
// similarity. Search is a brute-force exact scan: every entry in the space is
// scored, ranked descending, and ties break by insertion order, so results
// are fully deterministic. The contract is deterministic ranking, not a
// particular index structure; an ANN index can replace the scan later without
// changing callers.
//
// Vector entries share the storage.ElementID namespace with graph nodes, so
// edges like HAS_EMBEDDING can point at them. The Index implements
// storage.EndpointResolver for exactly that purpose.
//
// Example usage:
//
//	ix := search.NewIndex()
//	entry, _ := ix.Insert(search.SpaceMemoryEmbedding, embedding, storage.Bag{
//		"memory_id":       storage.String("m-1"),
//		"embedding_model": storage.String("nomic-embed-text"),
//	})
//
//	hits, _ := ix.Search(ctx, search.SpaceMemoryEmbedding, queryVec, 5)
//	for _, hit := range hits {
//		fmt.Printf("[%.3f] %s\n", hit.Score, hit.Entry.Properties.GetString("memory_id"))
//	}
package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/mnemosdb/pkg/math/vector"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// Common errors.
var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the space's dimensionality, which is fixed by the first insert.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound is returned when a vector entry does not exist.
	ErrNotFound = errors.New("vector entry not found")

	// ErrInvalidVector is returned for empty vectors.
	ErrInvalidVector = errors.New("invalid vector")
)

// SpaceType identifies an embedding space. Each space has independent
// dimensionality and is searched independently.
type SpaceType string

const (
	SpaceMemoryEmbedding SpaceType = "MemoryEmbedding"
	SpaceEntityEmbedding SpaceType = "EntityEmbedding"
	SpaceChunkEmbedding  SpaceType = "ChunkEmbedding"
)

// VectorID is a strongly-typed unique identifier for vector entries.
// It shares the element namespace with node identifiers.
type VectorID string

// Entry is a stored embedding: the vector plus a property bag carrying
// workload metadata (owning memory id, embedding model, creation date).
type Entry struct {
	ID         VectorID    `json:"id"`
	Space      SpaceType   `json:"space"`
	Vector     []float32   `json:"vector"`
	Properties storage.Bag `json:"properties"`

	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

// Hit is one search result: the matching entry and its similarity score.
type Hit struct {
	Entry *Entry
	Score float64
}

// Filter decides whether an entry participates in a filtered search result.
// It runs after ranking, over the already-ranked candidate set.
type Filter func(*Entry) bool

// Index is a thread-safe multi-space vector index.
//
// Dimensionality is fixed per space by the first insert; later inserts and
// queries with a different length fail with ErrDimensionMismatch. Deleting
// the last entry of a space does not reset its dimensionality.
type Index struct {
	mu      sync.RWMutex
	entries map[VectorID]*Entry

	// order keeps each space's entry IDs in insertion order; it drives the
	// scan and the deterministic tie-break.
	order map[SpaceType][]VectorID
	dims  map[SpaceType]int

	seq uint64
}

// NewIndex creates an empty vector index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[VectorID]*Entry),
		order:   make(map[SpaceType][]VectorID),
		dims:    make(map[SpaceType]int),
	}
}

// Insert stores a vector in the given space and returns the new entry.
// The first insert into a space fixes its dimensionality.
func (ix *Index) Insert(space SpaceType, vec []float32, props storage.Bag) (*Entry, error) {
	if len(vec) == 0 {
		return nil, ErrInvalidVector
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if dim, ok := ix.dims[space]; ok {
		if len(vec) != dim {
			return nil, ErrDimensionMismatch
		}
	} else {
		ix.dims[space] = len(vec)
	}

	ix.seq++
	entry := &Entry{
		ID:         VectorID(uuid.NewString()),
		Space:      space,
		Vector:     append([]float32(nil), vec...),
		Properties: props.Clone(),
		Seq:        ix.seq,
		CreatedAt:  time.Now().UTC(),
	}
	ix.entries[entry.ID] = entry
	ix.order[space] = append(ix.order[space], entry.ID)

	return copyEntry(entry), nil
}

// Get retrieves a vector entry by its identifier. Returns a deep copy.
func (ix *Index) Get(id VectorID) (*Entry, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entry, ok := ix.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

// Delete removes a vector entry. The space's dimensionality is retained even
// when the last entry goes.
func (ix *Index) Delete(id VectorID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.entries[id]
	if !ok {
		return ErrNotFound
	}

	order := ix.order[entry.Space]
	for i, v := range order {
		if v == id {
			ix.order[entry.Space] = append(order[:i], order[i+1:]...)
			break
		}
	}
	delete(ix.entries, id)
	return nil
}

// Count returns the number of entries in a space.
func (ix *Index) Count(space SpaceType) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order[space])
}

// Dimension returns the space's dimensionality and whether it has been fixed
// by an insert yet.
func (ix *Index) Dimension(space SpaceType) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	dim, ok := ix.dims[space]
	return dim, ok
}

// Search returns the k entries of the space most similar to the query
// vector, by cosine similarity, descending. Ties break by insertion order.
// Asking for more results than the space holds returns what exists; an empty
// or unknown space returns an empty slice.
func (ix *Index) Search(ctx context.Context, space SpaceType, query []float32, k int) ([]Hit, error) {
	return ix.SearchFiltered(ctx, space, query, k, nil)
}

// SearchFiltered is Search with a post-ranking predicate: the full space is
// scored and ranked first, then the filter selects from that ranking until k
// results are collected. Because the scan is exhaustive there is no
// under-fetch problem; a filter matching m < k entries yields exactly those
// m, best-first.
func (ix *Index) SearchFiltered(ctx context.Context, space SpaceType, query []float32, k int, filter Filter) ([]Hit, error) {
	if k < 0 {
		return nil, ErrInvalidVector
	}

	ix.mu.RLock()
	order := ix.order[space]
	if len(order) > 0 {
		if dim := ix.dims[space]; len(query) != dim {
			ix.mu.RUnlock()
			return nil, ErrDimensionMismatch
		}
	}

	// Score every entry in the space. Copies are taken up front so the lock
	// is not held while the caller consumes results.
	hits := make([]Hit, 0, len(order))
	for i, id := range order {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				ix.mu.RUnlock()
				return nil, err
			}
		}
		entry := ix.entries[id]
		hits = append(hits, Hit{
			Entry: copyEntry(entry),
			Score: vector.CosineSimilarity(query, entry.Vector),
		})
	}
	ix.mu.RUnlock()

	// Descending by score; the stable sort keeps insertion order for ties
	// because the scan produced hits in insertion order.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if filter != nil {
		filtered := hits[:0]
		for _, hit := range hits {
			if filter(hit.Entry) {
				filtered = append(filtered, hit)
			}
		}
		hits = filtered
	}

	if k < len(hits) {
		hits = hits[:k]
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, nil
}

// HasElement reports whether an element id names a vector entry. This makes
// the Index a storage.EndpointResolver so edges can target embeddings.
func (ix *Index) HasElement(id storage.ElementID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[VectorID(id)]
	return ok
}

func copyEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		ID:         e.ID,
		Space:      e.Space,
		Vector:     append([]float32(nil), e.Vector...),
		Properties: e.Properties.Clone(),
		Seq:        e.Seq,
		CreatedAt:  e.CreatedAt,
	}
}

// Verify Index satisfies the endpoint resolver contract.
var _ storage.EndpointResolver = (*Index)(nil)
