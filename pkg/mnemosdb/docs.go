package mnemosdb

import (
	"context"
	"fmt"
	"time"

	"github.com/orneryd/mnemosdb/pkg/search"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// ============================================================================
// Memory chunks
// ============================================================================

// ChunkInput is the payload for AddMemoryChunk.
type ChunkInput struct {
	ChunkID string
	Content string
	// Embedding is optional; when present it is stored in the chunk space
	// and linked with CHUNK_TO_EMBEDDING.
	Embedding      []float32
	EmbeddingModel string
}

// AddMemoryChunk appends a chunk to the memory's chunk chain: the chunk node,
// its HAS_CHUNK edge, and a NEXT_CHUNK edge from the previous tail commit as
// one batch; the optional embedding follows as a vector+edge unit. The whole
// operation runs under the DB writer lock.
func (db *DB) AddMemoryChunk(ctx context.Context, memoryID string, in ChunkInput) (*storage.Node, error) {
	if in.ChunkID == "" {
		return nil, fmt.Errorf("chunk_id required: %w", storage.ErrInvalidData)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, fmt.Errorf("resolving memory %s: %w", memoryID, err)
	}

	// The current tail of the chain, if any, gets the NEXT_CHUNK edge.
	existing, err := db.engine.Out(storage.ElementID(mem.ID), storage.EdgeHasChunk)
	if err != nil {
		return nil, err
	}

	batch := db.engine.Begin()
	defer batch.Rollback()
	chunkID := batch.CreateNode(storage.NodeMemoryChunk, storage.Bag{
		"chunk_id":   storage.String(in.ChunkID),
		"memory_id":  storage.String(memoryID),
		"content":    storage.String(in.Content),
		"position":   storage.Int(int64(len(existing))),
		"created_at": storage.Date(time.Now()),
	})
	batch.CreateEdge(storage.EdgeHasChunk,
		storage.ElementID(mem.ID), storage.ElementID(chunkID), nil)
	if len(existing) > 0 {
		tail := existing[len(existing)-1].ID
		batch.CreateEdge(storage.EdgeNextChunk, tail, storage.ElementID(chunkID), nil)
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("storing chunk: %w", err)
	}

	if len(in.Embedding) > 0 {
		if _, err := db.attachEmbeddingLocked(search.SpaceChunkEmbedding, storage.EdgeChunkToEmbedding, chunkID, storage.Bag{
			"chunk_id":        storage.String(in.ChunkID),
			"memory_id":       storage.String(memoryID),
			"embedding_model": storage.String(in.EmbeddingModel),
			"created_at":      storage.Date(time.Now()),
		}, in.Embedding); err != nil {
			return nil, err
		}
	}

	return db.engine.GetNode(chunkID)
}

// GetMemoryChunks returns the memory's chunks in chain order.
func (db *DB) GetMemoryChunks(ctx context.Context, memoryID string) ([]*storage.Node, error) {
	mem, err := db.engine.FindFirst(storage.NodeMemory, "memory_id", storage.String(memoryID))
	if err != nil {
		return nil, err
	}
	return db.neighborNodes(db.engine.Out(storage.ElementID(mem.ID), storage.EdgeHasChunk))
}

// ============================================================================
// Documentation pages
// ============================================================================

// AddDocPage creates a DocPage node keyed by URL.
func (db *DB) AddDocPage(ctx context.Context, url, title string) (*storage.Node, error) {
	return db.engine.CreateNode(storage.NodeDocPage, storage.Bag{
		"url":        storage.String(url),
		"title":      storage.String(title),
		"created_at": storage.Date(time.Now()),
	})
}

// AddDocChunk attaches a chunk of documentation text to a page, with an
// optional embedding in the chunk space linked by CHUNK_HAS_EMBEDDING.
func (db *DB) AddDocChunk(ctx context.Context, pageURL, chunkID, content string, embedding []float32, model string) (*storage.Node, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	page, err := db.engine.FindFirst(storage.NodeDocPage, "url", storage.String(pageURL))
	if err != nil {
		return nil, fmt.Errorf("resolving page %s: %w", pageURL, err)
	}

	batch := db.engine.Begin()
	defer batch.Rollback()
	id := batch.CreateNode(storage.NodeDocChunk, storage.Bag{
		"chunk_id":   storage.String(chunkID),
		"url":        storage.String(pageURL),
		"content":    storage.String(content),
		"created_at": storage.Date(time.Now()),
	})
	batch.CreateEdge(storage.EdgePageToChunk,
		storage.ElementID(page.ID), storage.ElementID(id), nil)
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("storing doc chunk: %w", err)
	}

	if len(embedding) > 0 {
		if _, err := db.attachEmbeddingLocked(search.SpaceChunkEmbedding, storage.EdgeChunkHasEmbedding, id, storage.Bag{
			"chunk_id":        storage.String(chunkID),
			"url":             storage.String(pageURL),
			"embedding_model": storage.String(model),
			"created_at":      storage.Date(time.Now()),
		}, embedding); err != nil {
			return nil, err
		}
	}

	return db.engine.GetNode(id)
}

// LinkCodeExample stores a code example and links it to a doc chunk.
func (db *DB) LinkCodeExample(ctx context.Context, chunkID, code, language string) (*storage.Node, error) {
	chunk, err := db.engine.FindFirst(storage.NodeDocChunk, "chunk_id", storage.String(chunkID))
	if err != nil {
		return nil, fmt.Errorf("resolving doc chunk %s: %w", chunkID, err)
	}

	batch := db.engine.Begin()
	defer batch.Rollback()
	id := batch.CreateNode(storage.NodeCodeExample, storage.Bag{
		"code":       storage.String(code),
		"language":   storage.String(language),
		"created_at": storage.Date(time.Now()),
	})
	batch.CreateEdge(storage.EdgeChunkHasExample,
		storage.ElementID(chunk.ID), storage.ElementID(id), nil)
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("storing code example: %w", err)
	}
	return db.engine.GetNode(id)
}

// GetPageChunks returns a page's doc chunks in link order.
func (db *DB) GetPageChunks(ctx context.Context, pageURL string) ([]*storage.Node, error) {
	page, err := db.engine.FindFirst(storage.NodeDocPage, "url", storage.String(pageURL))
	if err != nil {
		return nil, err
	}
	return db.neighborNodes(db.engine.Out(storage.ElementID(page.ID), storage.EdgePageToChunk))
}
