package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixNode       = byte(0x01) // node:nodeID -> JSON(Node)
	prefixEdge       = byte(0x02) // edge:edgeID -> JSON(Edge)
	prefixTypeOrder  = byte(0x03) // type + 0x00 + seq8 -> nodeID
	prefixFieldIndex = byte(0x04) // type + 0x00 + field + 0x00 + valueKey + 0x00 + seq8 -> nodeID
	prefixOutgoing   = byte(0x05) // fromID + 0x00 + edgeType + 0x00 + seq8 -> edgeID
	prefixIncoming   = byte(0x06) // toID + 0x00 + edgeType + 0x00 + seq8 -> edgeID
	prefixMeta       = byte(0x07) // counters
)

// BadgerEngine provides persistent graph storage using BadgerDB.
//
// It implements the same Engine contract as MemoryEngine, including the
// creation-order guarantees: every secondary index key ends in the element's
// big-endian creation sequence, so BadgerDB's lexicographic iteration order
// IS creation order and no sort step is needed.
//
// Key structure:
//   - Nodes: 0x01 + nodeID -> JSON(Node)
//   - Edges: 0x02 + edgeID -> JSON(Edge)
//   - Type order: 0x03 + type + 0x00 + seq -> nodeID
//   - Equality index: 0x04 + type + 0x00 + field + 0x00 + value + 0x00 + seq -> nodeID
//   - Outgoing: 0x05 + fromID + 0x00 + edgeType + 0x00 + seq -> edgeID
//   - Incoming: 0x06 + toID + 0x00 + edgeType + 0x00 + seq -> edgeID
//
// Sequence counters and per-type node counts are persisted under 0x07 in the
// same transaction as the write they account for, so Count stays O(1) and
// correct across restarts.
type BadgerEngine struct {
	db *badger.DB

	mu       sync.RWMutex
	resolver EndpointResolver
	nodeSeq  uint64
	edgeSeq  uint64
	counts   map[NodeType]int64
	closed   bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing
	// persistent-engine semantics without disk I/O.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging. Nil silences it.
	Logger badger.Logger
}

// NewBadgerEngine opens a persistent storage engine with default settings.
// The directory is created if it does not exist.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory opens a throwaway in-memory BadgerDB. Data is lost
// on Close. Intended for tests that need persistent-engine code paths.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions opens a BadgerDB engine with explicit options
// and restores the sequence counters and per-type counts from disk.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Memory-constrained settings for embedded use.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}

	engine := &BadgerEngine{
		db:     db,
		counts: make(map[NodeType]int64),
	}
	if err := engine.loadMeta(); err != nil {
		db.Close()
		return nil, fmt.Errorf("restoring counters: %w", err)
	}
	return engine, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

var (
	metaNodeSeqKey = []byte{prefixMeta, 'n'}
	metaEdgeSeqKey = []byte{prefixMeta, 'e'}
)

func metaCountKey(typ NodeType) []byte {
	key := []byte{prefixMeta, 'c', 0x00}
	return append(key, typ...)
}

func seqBytes(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, id...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, id...)
}

// typeOrderPrefix returns the scan prefix for all nodes of a type, ordered
// by creation sequence.
func typeOrderPrefix(typ NodeType) []byte {
	key := []byte{prefixTypeOrder}
	key = append(key, typ...)
	return append(key, 0x00)
}

func typeOrderKey(typ NodeType, seq uint64) []byte {
	return append(typeOrderPrefix(typ), seqBytes(seq)...)
}

// badgerFieldIndexPrefix returns the scan prefix for an equality lookup,
// ordered by creation sequence.
func badgerFieldIndexPrefix(typ NodeType, field, valueKey string) []byte {
	key := []byte{prefixFieldIndex}
	key = append(key, typ...)
	key = append(key, 0x00)
	key = append(key, field...)
	key = append(key, 0x00)
	key = append(key, valueKey...)
	return append(key, 0x00)
}

func badgerFieldIndexKey(typ NodeType, field, valueKey string, seq uint64) []byte {
	return append(badgerFieldIndexPrefix(typ, field, valueKey), seqBytes(seq)...)
}

// adjacencyElementPrefix covers every edge type for one endpoint.
func adjacencyElementPrefix(direction byte, id ElementID) []byte {
	key := []byte{direction}
	key = append(key, id...)
	return append(key, 0x00)
}

// adjacencyTypePrefix covers one edge type for one endpoint, insertion order.
func adjacencyTypePrefix(direction byte, id ElementID, typ EdgeType) []byte {
	key := adjacencyElementPrefix(direction, id)
	key = append(key, typ...)
	return append(key, 0x00)
}

func adjacencyKey(direction byte, id ElementID, typ EdgeType, seq uint64) []byte {
	return append(adjacencyTypePrefix(direction, id, typ), seqBytes(seq)...)
}

// ============================================================================
// Meta counters
// ============================================================================

// loadMeta restores sequence counters and per-type counts.
func (b *BadgerEngine) loadMeta() error {
	return b.db.View(func(txn *badger.Txn) error {
		readSeq := func(key []byte, dst *uint64) error {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				*dst = binary.BigEndian.Uint64(val)
				return nil
			})
		}
		if err := readSeq(metaNodeSeqKey, &b.nodeSeq); err != nil {
			return err
		}
		if err := readSeq(metaEdgeSeqKey, &b.edgeSeq); err != nil {
			return err
		}

		prefix := []byte{prefixMeta, 'c', 0x00}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			typ := NodeType(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				b.counts[typ] = int64(binary.BigEndian.Uint64(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeMetaTxn persists the counter state that results from applying deltas.
func (b *BadgerEngine) writeMetaTxn(txn *badger.Txn, nodeSeq, edgeSeq uint64, countDelta map[NodeType]int64) error {
	if nodeSeq != b.nodeSeq {
		if err := txn.Set(metaNodeSeqKey, seqBytes(nodeSeq)); err != nil {
			return err
		}
	}
	if edgeSeq != b.edgeSeq {
		if err := txn.Set(metaEdgeSeqKey, seqBytes(edgeSeq)); err != nil {
			return err
		}
	}
	for typ, delta := range countDelta {
		if delta == 0 {
			continue
		}
		count := b.counts[typ] + delta
		if err := txn.Set(metaCountKey(typ), seqBytes(uint64(count))); err != nil {
			return err
		}
	}
	return nil
}

// applyMeta commits counter state to memory after a successful transaction.
// Caller must hold b.mu.
func (b *BadgerEngine) applyMeta(nodeSeq, edgeSeq uint64, countDelta map[NodeType]int64) {
	b.nodeSeq = nodeSeq
	b.edgeSeq = edgeSeq
	for typ, delta := range countDelta {
		b.counts[typ] += delta
	}
}

// ============================================================================
// Record encoding and transaction helpers
// ============================================================================

func encodeNode(n *Node) ([]byte, error) {
	return json.Marshal(n)
}

func decodeNode(data []byte) (*Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &node, nil
}

func encodeEdge(e *Edge) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEdge(data []byte) (*Edge, error) {
	var edge Edge
	if err := json.Unmarshal(data, &edge); err != nil {
		return nil, fmt.Errorf("unmarshaling edge: %w", err)
	}
	return &edge, nil
}

// getNodeTxn loads a node record inside a transaction.
func getNodeTxn(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var node *Node
	err = item.Value(func(val []byte) error {
		var decodeErr error
		node, decodeErr = decodeNode(val)
		return decodeErr
	})
	return node, err
}

// getEdgeTxn loads an edge record inside a transaction.
func getEdgeTxn(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var edge *Edge
	err = item.Value(func(val []byte) error {
		var decodeErr error
		edge, decodeErr = decodeEdge(val)
		return decodeErr
	})
	return edge, err
}

// putNodeTxn writes the node record and all its index keys.
func putNodeTxn(txn *badger.Txn, node *Node) error {
	data, err := encodeNode(node)
	if err != nil {
		return fmt.Errorf("encoding node: %w", err)
	}
	if err := txn.Set(nodeKey(node.ID), data); err != nil {
		return err
	}
	if err := txn.Set(typeOrderKey(node.Type, node.Seq), []byte(node.ID)); err != nil {
		return err
	}
	for _, field := range IndexedFields[node.Type] {
		v, ok := node.Properties[field]
		if !ok {
			continue
		}
		key := badgerFieldIndexKey(node.Type, field, v.key(), node.Seq)
		if err := txn.Set(key, []byte(node.ID)); err != nil {
			return err
		}
	}
	return nil
}

// dropNodeIndexesTxn removes the equality-index keys derived from the given
// property state.
func dropNodeIndexesTxn(txn *badger.Txn, node *Node, props Bag) error {
	for _, field := range IndexedFields[node.Type] {
		v, ok := props[field]
		if !ok {
			continue
		}
		key := badgerFieldIndexKey(node.Type, field, v.key(), node.Seq)
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// putEdgeTxn writes the edge record and both adjacency keys.
func putEdgeTxn(txn *badger.Txn, edge *Edge) error {
	data, err := encodeEdge(edge)
	if err != nil {
		return fmt.Errorf("encoding edge: %w", err)
	}
	if err := txn.Set(edgeKey(edge.ID), data); err != nil {
		return err
	}
	if err := txn.Set(adjacencyKey(prefixOutgoing, edge.From, edge.Type, edge.Seq), []byte(edge.ID)); err != nil {
		return err
	}
	return txn.Set(adjacencyKey(prefixIncoming, edge.To, edge.Type, edge.Seq), []byte(edge.ID))
}

// deleteEdgeTxn removes the edge record and both adjacency keys.
func deleteEdgeTxn(txn *badger.Txn, edge *Edge) error {
	if err := txn.Delete(edgeKey(edge.ID)); err != nil {
		return err
	}
	if err := txn.Delete(adjacencyKey(prefixOutgoing, edge.From, edge.Type, edge.Seq)); err != nil {
		return err
	}
	return txn.Delete(adjacencyKey(prefixIncoming, edge.To, edge.Type, edge.Seq))
}

// elementExistsTxn checks the node keyspace, then the external resolver.
func (b *BadgerEngine) elementExistsTxn(txn *badger.Txn, id ElementID) (bool, error) {
	_, err := txn.Get(nodeKey(NodeID(id)))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return false, err
	}
	return b.resolver != nil && b.resolver.HasElement(id), nil
}

// collectEdgeIDsTxn gathers edge IDs under an adjacency prefix, in key order.
func collectEdgeIDsTxn(txn *badger.Txn, prefix []byte) ([]EdgeID, error) {
	var ids []EdgeID
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(func(val []byte) error {
			ids = append(ids, EdgeID(val))
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// deleteIncidentTxn removes every edge touching id, both directions, all
// types. Self-loops are counted once.
func deleteIncidentTxn(txn *badger.Txn, id ElementID) (int, error) {
	outIDs, err := collectEdgeIDsTxn(txn, adjacencyElementPrefix(prefixOutgoing, id))
	if err != nil {
		return 0, err
	}
	inIDs, err := collectEdgeIDsTxn(txn, adjacencyElementPrefix(prefixIncoming, id))
	if err != nil {
		return 0, err
	}

	seen := make(map[EdgeID]struct{}, len(outIDs)+len(inIDs))
	for _, eid := range append(outIDs, inIDs...) {
		if _, dup := seen[eid]; dup {
			continue
		}
		seen[eid] = struct{}{}
		edge, err := getEdgeTxn(txn, eid)
		if err != nil {
			return 0, err
		}
		if err := deleteEdgeTxn(txn, edge); err != nil {
			return 0, err
		}
	}
	return len(seen), nil
}

// ============================================================================
// Engine implementation
// ============================================================================

// SetEndpointResolver wires an external element namespace (the vector index)
// into edge endpoint validation.
func (b *BadgerEngine) SetEndpointResolver(r EndpointResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = r
}

// CreateNode allocates a fresh identifier and persists a node of the given
// type with the supplied property bag.
func (b *BadgerEngine) CreateNode(typ NodeType, props Bag) (*Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	nodeSeq := b.nodeSeq + 1
	now := time.Now().UTC()
	node := &Node{
		ID:         NodeID(uuid.NewString()),
		Type:       typ,
		Properties: props.Clone(),
		Seq:        nodeSeq,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	delta := map[NodeType]int64{typ: 1}

	err := b.db.Update(func(txn *badger.Txn) error {
		if err := putNodeTxn(txn, node); err != nil {
			return err
		}
		return b.writeMetaTxn(txn, nodeSeq, b.edgeSeq, delta)
	})
	if err != nil {
		return nil, err
	}

	b.applyMeta(nodeSeq, b.edgeSeq, delta)
	return node, nil
}

// GetNode retrieves a node by its identifier.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		var txErr error
		node, txErr = getNodeTxn(txn, id)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// FindFirst returns the first node of the given type whose field equals
// value, in creation order.
func (b *BadgerEngine) FindFirst(typ NodeType, field string, value Value) (*Node, error) {
	nodes, err := b.find(typ, field, value, true)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}
	return nodes[0], nil
}

// FindAll returns every node of the given type whose field equals value, in
// creation order. An empty result is not an error.
func (b *BadgerEngine) FindAll(typ NodeType, field string, value Value) ([]*Node, error) {
	return b.find(typ, field, value, false)
}

// find runs an equality lookup, index-backed when possible, creation-order
// linear scan otherwise.
func (b *BadgerEngine) find(typ NodeType, field string, value Value, firstOnly bool) ([]*Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	var out []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		if indexedField(typ, field) {
			prefix := badgerFieldIndexPrefix(typ, field, value.key())
			it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				var id NodeID
				if err := it.Item().Value(func(val []byte) error {
					id = NodeID(val)
					return nil
				}); err != nil {
					return err
				}
				node, err := getNodeTxn(txn, id)
				if err != nil {
					return err
				}
				out = append(out, node)
				if firstOnly {
					return nil
				}
			}
			return nil
		}

		prefix := typeOrderPrefix(typ)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var id NodeID
			if err := it.Item().Value(func(val []byte) error {
				id = NodeID(val)
				return nil
			}); err != nil {
				return err
			}
			node, err := getNodeTxn(txn, id)
			if err != nil {
				return err
			}
			if v, ok := node.Properties[field]; ok && v.Equal(value) {
				out = append(out, node)
				if firstOnly {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Range returns up to limit nodes of the given type starting at offset in
// creation order.
func (b *BadgerEngine) Range(typ NodeType, offset, limit int) ([]*Node, error) {
	if offset < 0 || limit < 0 {
		return nil, ErrInvalidData
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	out := []*Node{}
	if limit == 0 {
		return out, nil
	}

	err := b.db.View(func(txn *badger.Txn) error {
		prefix := typeOrderPrefix(typ)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		skipped := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(out) == limit {
				return nil
			}
			var id NodeID
			if err := it.Item().Value(func(val []byte) error {
				id = NodeID(val)
				return nil
			}); err != nil {
				return err
			}
			node, err := getNodeTxn(txn, id)
			if err != nil {
				return err
			}
			out = append(out, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of nodes of the given type. O(1): counts are
// maintained in memory and persisted alongside every write.
func (b *BadgerEngine) Count(typ NodeType) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrStorageClosed
	}
	return b.counts[typ], nil
}

// UpdateNode merges the supplied partial bag into the node's properties.
func (b *BadgerEngine) UpdateNode(id NodeID, partial Bag) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	var updated *Node
	err := b.db.Update(func(txn *badger.Txn) error {
		node, err := getNodeTxn(txn, id)
		if err != nil {
			return err
		}
		if err := dropNodeIndexesTxn(txn, node, node.Properties); err != nil {
			return err
		}
		node.Properties = node.Properties.Merge(partial)
		node.UpdatedAt = time.Now().UTC()
		if err := putNodeTxn(txn, node); err != nil {
			return err
		}
		updated = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteNode removes a node, cascading to incident edges under the default
// policy.
func (b *BadgerEngine) DeleteNode(id NodeID, policy CascadePolicy) error {
	if id == "" {
		return ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}

	var typ NodeType
	err := b.db.Update(func(txn *badger.Txn) error {
		node, err := getNodeTxn(txn, id)
		if err != nil {
			return err
		}
		typ = node.Type

		if policy == CascadeEdges {
			if _, err := deleteIncidentTxn(txn, ElementID(id)); err != nil {
				return err
			}
		}
		if err := dropNodeIndexesTxn(txn, node, node.Properties); err != nil {
			return err
		}
		if err := txn.Delete(typeOrderKey(node.Type, node.Seq)); err != nil {
			return err
		}
		if err := txn.Delete(nodeKey(id)); err != nil {
			return err
		}
		return b.writeMetaTxn(txn, b.nodeSeq, b.edgeSeq, map[NodeType]int64{node.Type: -1})
	})
	if err != nil {
		return err
	}

	b.applyMeta(b.nodeSeq, b.edgeSeq, map[NodeType]int64{typ: -1})
	return nil
}

// CreateEdge creates a typed directed edge between two existing elements.
func (b *BadgerEngine) CreateEdge(typ EdgeType, from, to ElementID, props Bag) (*Edge, error) {
	if from == "" || to == "" {
		return nil, ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	edgeSeq := b.edgeSeq + 1
	edge := &Edge{
		ID:         EdgeID(uuid.NewString()),
		Type:       typ,
		From:       from,
		To:         to,
		Properties: props.Clone(),
		Seq:        edgeSeq,
		CreatedAt:  time.Now().UTC(),
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, endpoint := range []ElementID{from, to} {
			ok, err := b.elementExistsTxn(txn, endpoint)
			if err != nil {
				return err
			}
			if !ok {
				return ErrDanglingEndpoint
			}
		}
		if err := putEdgeTxn(txn, edge); err != nil {
			return err
		}
		return b.writeMetaTxn(txn, b.nodeSeq, edgeSeq, nil)
	})
	if err != nil {
		return nil, err
	}

	b.applyMeta(b.nodeSeq, edgeSeq, nil)
	return edge, nil
}

// GetEdge retrieves an edge by its identifier.
func (b *BadgerEngine) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	var edge *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		var txErr error
		edge, txErr = getEdgeTxn(txn, id)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// Out returns the outgoing edges of the given type from an element together
// with their target endpoints, in insertion order.
func (b *BadgerEngine) Out(from ElementID, typ EdgeType) ([]Neighbor, error) {
	return b.traverse(adjacencyTypePrefix(prefixOutgoing, from, typ), from, false)
}

// In returns the incoming edges of the given type to an element together
// with their source endpoints, in insertion order.
func (b *BadgerEngine) In(to ElementID, typ EdgeType) ([]Neighbor, error) {
	return b.traverse(adjacencyTypePrefix(prefixIncoming, to, typ), to, true)
}

// traverse walks one adjacency prefix, loading the edge records in key
// (insertion) order.
func (b *BadgerEngine) traverse(prefix []byte, id ElementID, incoming bool) ([]Neighbor, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	var out []Neighbor
	err := b.db.View(func(txn *badger.Txn) error {
		ids, err := collectEdgeIDsTxn(txn, prefix)
		if err != nil {
			return err
		}
		out = make([]Neighbor, 0, len(ids))
		for _, eid := range ids {
			edge, err := getEdgeTxn(txn, eid)
			if err != nil {
				return err
			}
			endpoint := edge.To
			if incoming {
				endpoint = edge.From
			}
			out = append(out, Neighbor{Edge: edge, ID: endpoint})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OutEdges returns the outgoing edge records themselves.
func (b *BadgerEngine) OutEdges(from ElementID, typ EdgeType) ([]*Edge, error) {
	neighbors, err := b.Out(from, typ)
	if err != nil {
		return nil, err
	}
	edges := make([]*Edge, len(neighbors))
	for i, n := range neighbors {
		edges[i] = n.Edge
	}
	return edges, nil
}

// InEdges is the reverse-direction counterpart of OutEdges.
func (b *BadgerEngine) InEdges(to ElementID, typ EdgeType) ([]*Edge, error) {
	neighbors, err := b.In(to, typ)
	if err != nil {
		return nil, err
	}
	edges := make([]*Edge, len(neighbors))
	for i, n := range neighbors {
		edges[i] = n.Edge
	}
	return edges, nil
}

// DeleteEdge removes a single edge.
func (b *BadgerEngine) DeleteEdge(id EdgeID) error {
	if id == "" {
		return ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}

	return b.db.Update(func(txn *badger.Txn) error {
		edge, err := getEdgeTxn(txn, id)
		if err != nil {
			return err
		}
		return deleteEdgeTxn(txn, edge)
	})
}

// DeleteEdgesFrom removes every edge of the given type leaving an element.
// Returns the number of edges removed.
func (b *BadgerEngine) DeleteEdgesFrom(from ElementID, typ EdgeType) (int, error) {
	if from == "" {
		return 0, ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrStorageClosed
	}

	removed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		ids, err := collectEdgeIDsTxn(txn, adjacencyTypePrefix(prefixOutgoing, from, typ))
		if err != nil {
			return err
		}
		for _, eid := range ids {
			edge, err := getEdgeTxn(txn, eid)
			if err != nil {
				return err
			}
			if err := deleteEdgeTxn(txn, edge); err != nil {
				return err
			}
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// DeleteIncident removes every edge touching the given element, in both
// directions and across all edge types. Returns the number of edges removed.
func (b *BadgerEngine) DeleteIncident(id ElementID) (int, error) {
	if id == "" {
		return 0, ErrInvalidID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrStorageClosed
	}

	removed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		var txErr error
		removed, txErr = deleteIncidentTxn(txn, id)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Close flushes and closes the underlying BadgerDB. Subsequent operations
// return ErrStorageClosed. Idempotent.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Begin starts a staged batch bound to this engine. All buffered operations
// commit in one BadgerDB transaction; see BadgerBatch.
func (b *BadgerEngine) Begin() Batch {
	return &BadgerBatch{engine: b}
}

// ============================================================================
// Batch
// ============================================================================

// BadgerBatch buffers write operations and applies them in a single BadgerDB
// transaction, so either every staged operation persists or none does.
// The Batch semantics mirror the in-memory Transaction: node identifiers are
// allocated at stage time and staged edges may reference staged nodes.
type BadgerBatch struct {
	engine *BadgerEngine
	ops    []txOp
	done   bool
}

// CreateNode stages a node creation and returns its future identifier.
func (t *BadgerBatch) CreateNode(typ NodeType, props Bag) NodeID {
	id := NodeID(uuid.NewString())
	t.ops = append(t.ops, txOp{
		kind:     txCreateNode,
		nodeID:   id,
		nodeType: typ,
		props:    props.Clone(),
	})
	return id
}

// CreateEdge stages an edge creation; endpoints are validated at Commit.
func (t *BadgerBatch) CreateEdge(typ EdgeType, from, to ElementID, props Bag) {
	t.ops = append(t.ops, txOp{
		kind:     txCreateEdge,
		edgeType: typ,
		from:     from,
		to:       to,
		props:    props.Clone(),
	})
}

// UpdateNode stages a partial property merge.
func (t *BadgerBatch) UpdateNode(id NodeID, partial Bag) {
	t.ops = append(t.ops, txOp{kind: txUpdateNode, nodeID: id, props: partial.Clone()})
}

// DeleteNode stages a node deletion with the given cascade policy.
func (t *BadgerBatch) DeleteNode(id NodeID, policy CascadePolicy) {
	t.ops = append(t.ops, txOp{kind: txDeleteNode, nodeID: id, policy: policy})
}

// DeleteEdgesFrom stages removal of every edge of the given type leaving an
// element.
func (t *BadgerBatch) DeleteEdgesFrom(from ElementID, typ EdgeType) {
	t.ops = append(t.ops, txOp{kind: txDeleteEdgesFrom, from: from, edgeType: typ})
}

// Commit applies every staged operation in one BadgerDB transaction. On any
// failure nothing persists and the error names the offending operation.
func (t *BadgerBatch) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	b := t.engine
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}

	nodeSeq := b.nodeSeq
	edgeSeq := b.edgeSeq
	countDelta := make(map[NodeType]int64)

	err := b.db.Update(func(txn *badger.Txn) error {
		// Reset per retry: badger may re-run the closure on conflict.
		nodeSeq = b.nodeSeq
		edgeSeq = b.edgeSeq
		for typ := range countDelta {
			delete(countDelta, typ)
		}

		for i, op := range t.ops {
			switch op.kind {
			case txCreateNode:
				nodeSeq++
				now := time.Now().UTC()
				node := &Node{
					ID:         op.nodeID,
					Type:       op.nodeType,
					Properties: op.props,
					Seq:        nodeSeq,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := putNodeTxn(txn, node); err != nil {
					return fmt.Errorf("commit op %d (create node): %w", i, err)
				}
				countDelta[op.nodeType]++

			case txCreateEdge:
				if op.from == "" || op.to == "" {
					return fmt.Errorf("commit op %d (create edge %s): %w", i, op.edgeType, ErrInvalidID)
				}
				for _, endpoint := range []ElementID{op.from, op.to} {
					ok, err := b.elementExistsTxn(txn, endpoint)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("commit op %d (create edge %s): %w", i, op.edgeType, ErrDanglingEndpoint)
					}
				}
				edgeSeq++
				edge := &Edge{
					ID:         EdgeID(uuid.NewString()),
					Type:       op.edgeType,
					From:       op.from,
					To:         op.to,
					Properties: op.props,
					Seq:        edgeSeq,
					CreatedAt:  time.Now().UTC(),
				}
				if err := putEdgeTxn(txn, edge); err != nil {
					return fmt.Errorf("commit op %d (create edge %s): %w", i, op.edgeType, err)
				}

			case txUpdateNode:
				node, err := getNodeTxn(txn, op.nodeID)
				if err != nil {
					return fmt.Errorf("commit op %d (update node %s): %w", i, op.nodeID, err)
				}
				if err := dropNodeIndexesTxn(txn, node, node.Properties); err != nil {
					return err
				}
				node.Properties = node.Properties.Merge(op.props)
				node.UpdatedAt = time.Now().UTC()
				if err := putNodeTxn(txn, node); err != nil {
					return err
				}

			case txDeleteNode:
				node, err := getNodeTxn(txn, op.nodeID)
				if err != nil {
					return fmt.Errorf("commit op %d (delete node %s): %w", i, op.nodeID, err)
				}
				if op.policy == CascadeEdges {
					if _, err := deleteIncidentTxn(txn, ElementID(op.nodeID)); err != nil {
						return err
					}
				}
				if err := dropNodeIndexesTxn(txn, node, node.Properties); err != nil {
					return err
				}
				if err := txn.Delete(typeOrderKey(node.Type, node.Seq)); err != nil {
					return err
				}
				if err := txn.Delete(nodeKey(op.nodeID)); err != nil {
					return err
				}
				countDelta[node.Type]--

			case txDeleteEdgesFrom:
				ids, err := collectEdgeIDsTxn(txn, adjacencyTypePrefix(prefixOutgoing, op.from, op.edgeType))
				if err != nil {
					return err
				}
				for _, eid := range ids {
					edge, err := getEdgeTxn(txn, eid)
					if err != nil {
						return err
					}
					if err := deleteEdgeTxn(txn, edge); err != nil {
						return err
					}
				}
			}
		}
		return b.writeMetaTxn(txn, nodeSeq, edgeSeq, countDelta)
	})
	if err != nil {
		return err
	}

	b.applyMeta(nodeSeq, edgeSeq, countDelta)
	return nil
}

// Rollback discards the staged operations. Safe to call after Commit.
func (t *BadgerBatch) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	return nil
}

// Verify BadgerEngine implements the batching engine interface.
var _ BatchEngine = (*BadgerEngine)(nil)
var _ Batch = (*BadgerBatch)(nil)
