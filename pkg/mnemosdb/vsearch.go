package mnemosdb

import (
	"context"
	"errors"
	"sort"

	"github.com/orneryd/mnemosdb/pkg/search"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// SearchResult is one vector search hit joined to its owning memory.
type SearchResult struct {
	MemoryID string
	Memory   *storage.Node
	Score    float64
	Entry    *search.Entry
}

// VectorSearch ranks every memory embedding against the query vector, joins
// each hit to its owning memory, and keeps the ones belonging to the user
// with a score of at least minScore, best-first, at most limit. A limit of
// zero or less means no limit.
//
// The ranking happens over the full candidate set before any filtering, so
// a heavily filtered query still returns the best matching survivors rather
// than an under-fetched subset. Hits whose owning memory no longer exists
// are dropped.
func (db *DB) VectorSearch(ctx context.Context, query []float32, userID string, limit int, minScore float64) ([]SearchResult, error) {
	if limit < 0 {
		limit = 0
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	hits, err := db.index.Search(ctx, search.SpaceMemoryEmbedding, query, db.index.Count(search.SpaceMemoryEmbedding))
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, limit)
	for _, hit := range hits {
		if limit > 0 && len(results) == limit {
			break
		}
		if hit.Score < minScore {
			// Scores are sorted descending; nothing below passes either.
			break
		}
		res, ok, err := db.hitToResult(hit, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, res)
		}
	}
	return results, nil
}

// hitToResult joins a hit to its owning memory and applies the user filter.
func (db *DB) hitToResult(hit search.Hit, userID string) (SearchResult, bool, error) {
	memoryID := hit.Entry.Properties.GetString("memory_id")
	if memoryID == "" {
		return SearchResult{}, false, nil
	}
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if errors.Is(err, storage.ErrNotFound) {
		return SearchResult{}, false, nil
	}
	if err != nil {
		return SearchResult{}, false, err
	}
	if userID != "" && mem.Properties.GetString("user_id") != userID {
		return SearchResult{}, false, nil
	}
	return SearchResult{MemoryID: memoryID, Memory: mem, Score: hit.Score, Entry: hit.Entry}, true, nil
}

// SmartVectorSearchWithChunks searches the memory and chunk embedding spaces
// together and resolves every hit to its parent memory. When both a memory's
// own embedding and one of its chunks match, the memory keeps its best
// score. Results are user-filtered, thresholded, best-first, at most limit;
// a limit of zero or less means no limit.
//
// The chunk space can have a different dimensionality than the memory space;
// a query that fits only one space searches just that space.
func (db *DB) SmartVectorSearchWithChunks(ctx context.Context, query []float32, userID string, limit int, minScore float64) ([]SearchResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var candidates []search.Hit
	for _, space := range []search.SpaceType{search.SpaceMemoryEmbedding, search.SpaceChunkEmbedding} {
		if dim, ok := db.index.Dimension(space); ok && dim != len(query) {
			continue
		}
		hits, err := db.index.Search(ctx, space, query, db.index.Count(space))
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, hits...)
	}

	// Best score per memory, first-seen order preserved for deterministic
	// tie-breaks.
	best := make(map[string]int)
	var merged []SearchResult
	for _, hit := range candidates {
		if hit.Score < minScore {
			continue
		}
		res, ok, err := db.hitToResult(hit, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if i, seen := best[res.MemoryID]; seen {
			if res.Score > merged[i].Score {
				merged[i].Score = res.Score
				merged[i].Entry = res.Entry
			}
			continue
		}
		best[res.MemoryID] = len(merged)
		merged = append(merged, res)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if limit > 0 && limit < len(merged) {
		merged = merged[:limit]
	}
	return merged, nil
}
