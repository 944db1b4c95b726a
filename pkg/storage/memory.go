package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEngine is a thread-safe in-memory graph storage implementation.
//
// Use cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Datasets that fit entirely in RAM
//   - The reference implementation the BadgerEngine is tested against
//
// Features:
//   - Thread-safe: all operations use an RWMutex
//   - Indexed: per-type creation-order lists, per-(type, business-key field)
//     equality indexes, and adjacency indexed by (endpoint, edge type) in
//     both directions
//   - Deep copies: returns copies to prevent external mutation
//
// Performance characteristics:
//   - Node lookup by ID: O(1)
//   - Equality lookup on an indexed field: O(matches)
//   - Traversal: O(degree in that edge type)
//   - Count: O(1), maintained incrementally
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// nodeOrder keeps each type's node IDs sorted by creation sequence.
	// It backs FindFirst/FindAll scans, Range, and Count.
	nodeOrder map[NodeType][]NodeID

	// fieldIndex maps (type, field, value) to node IDs in creation order.
	// Only business-key fields (IndexedFields) are indexed.
	fieldIndex map[string][]NodeID

	// Adjacency, both directions, insertion-ordered per edge type.
	outgoing map[ElementID]map[EdgeType][]EdgeID
	incoming map[ElementID]map[EdgeType][]EdgeID

	resolver EndpointResolver

	nodeSeq uint64
	edgeSeq uint64
	closed  bool
}

// NewMemoryEngine creates an empty in-memory storage engine ready for
// concurrent use.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:      make(map[NodeID]*Node),
		edges:      make(map[EdgeID]*Edge),
		nodeOrder:  make(map[NodeType][]NodeID),
		fieldIndex: make(map[string][]NodeID),
		outgoing:   make(map[ElementID]map[EdgeType][]EdgeID),
		incoming:   make(map[ElementID]map[EdgeType][]EdgeID),
	}
}

// SetEndpointResolver wires an external element namespace (the vector index)
// into edge endpoint validation.
func (m *MemoryEngine) SetEndpointResolver(r EndpointResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = r
}

// fieldIndexKey builds the composite key for the equality index.
func fieldIndexKey(typ NodeType, field, valueKey string) string {
	var b strings.Builder
	b.Grow(len(typ) + len(field) + len(valueKey) + 2)
	b.WriteString(string(typ))
	b.WriteByte(0x00)
	b.WriteString(field)
	b.WriteByte(0x00)
	b.WriteString(valueKey)
	return b.String()
}

// CreateNode allocates a fresh identifier and stores a node of the given
// type with the supplied property bag.
//
// The bag is deep-copied; the caller may reuse it. CreateNode always
// succeeds on an open engine — business keys are not checked for
// uniqueness (duplicates resolve by creation order at lookup time).
func (m *MemoryEngine) CreateNode(typ NodeType, props Bag) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node := m.createNodeLocked(NodeID(uuid.NewString()), typ, props)
	return copyNode(node), nil
}

// createNodeLocked stores a node under a pre-allocated id, assigns its
// creation sequence, and wires all indexes. Transactions allocate ids at
// stage time so staged edges can reference staged nodes. Caller must hold
// m.mu.
func (m *MemoryEngine) createNodeLocked(id NodeID, typ NodeType, props Bag) *Node {
	m.nodeSeq++
	now := time.Now().UTC()
	node := &Node{
		ID:         id,
		Type:       typ,
		Properties: props.Clone(),
		Seq:        m.nodeSeq,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.nodes[node.ID] = node
	m.nodeOrder[typ] = append(m.nodeOrder[typ], node.ID)
	m.indexNodeLocked(node)
	return node
}

// indexNodeLocked adds the node's indexed fields to the equality index,
// keeping each posting list sorted by creation sequence.
func (m *MemoryEngine) indexNodeLocked(node *Node) {
	for _, field := range IndexedFields[node.Type] {
		v, ok := node.Properties[field]
		if !ok {
			continue
		}
		key := fieldIndexKey(node.Type, field, v.key())
		m.fieldIndex[key] = m.insertBySeqLocked(m.fieldIndex[key], node)
	}
}

// insertBySeqLocked inserts the node's ID into a posting list, preserving
// creation-sequence order. Updates can add older nodes to a list that
// already holds newer ones, so a plain append is not enough.
func (m *MemoryEngine) insertBySeqLocked(ids []NodeID, node *Node) []NodeID {
	i := sort.Search(len(ids), func(i int) bool {
		return m.nodes[ids[i]].Seq > node.Seq
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = node.ID
	return ids
}

// unindexNodeLocked removes the node's indexed fields from the equality
// index, using the given bag as the indexed state.
func (m *MemoryEngine) unindexNodeLocked(node *Node, props Bag) {
	for _, field := range IndexedFields[node.Type] {
		v, ok := props[field]
		if !ok {
			continue
		}
		key := fieldIndexKey(node.Type, field, v.key())
		m.fieldIndex[key] = removeID(m.fieldIndex[key], node.ID)
		if len(m.fieldIndex[key]) == 0 {
			delete(m.fieldIndex, key)
		}
	}
}

// removeID removes the first occurrence of id from ids, preserving order.
func removeID(ids []NodeID, id NodeID) []NodeID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// removeEdgeID removes the first occurrence of id from ids, preserving order.
func removeEdgeID(ids []EdgeID, id EdgeID) []EdgeID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// GetNode retrieves a node by its identifier. Returns a deep copy.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// FindFirst returns the first node of the given type whose field equals
// value, in creation order. Business keys are not unique, so "first" is the
// documented tie-break for duplicates. Returns ErrNotFound on no match.
func (m *MemoryEngine) FindFirst(typ NodeType, field string, value Value) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	if indexedField(typ, field) {
		ids := m.fieldIndex[fieldIndexKey(typ, field, value.key())]
		if len(ids) == 0 {
			return nil, ErrNotFound
		}
		return copyNode(m.nodes[ids[0]]), nil
	}

	// Linear scan fallback, same creation-order guarantee.
	for _, id := range m.nodeOrder[typ] {
		node := m.nodes[id]
		if v, ok := node.Properties[field]; ok && v.Equal(value) {
			return copyNode(node), nil
		}
	}
	return nil, ErrNotFound
}

// FindAll returns every node of the given type whose field equals value,
// in creation order. An empty result is not an error.
func (m *MemoryEngine) FindAll(typ NodeType, field string, value Value) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var out []*Node
	if indexedField(typ, field) {
		for _, id := range m.fieldIndex[fieldIndexKey(typ, field, value.key())] {
			out = append(out, copyNode(m.nodes[id]))
		}
		return out, nil
	}

	for _, id := range m.nodeOrder[typ] {
		node := m.nodes[id]
		if v, ok := node.Properties[field]; ok && v.Equal(value) {
			out = append(out, copyNode(node))
		}
	}
	return out, nil
}

// Range returns up to limit nodes of the given type starting at offset in
// creation order. limit == 0 yields an empty slice; requesting past the end
// truncates rather than erroring.
func (m *MemoryEngine) Range(typ NodeType, offset, limit int) ([]*Node, error) {
	if offset < 0 || limit < 0 {
		return nil, ErrInvalidData
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	order := m.nodeOrder[typ]
	if offset >= len(order) || limit == 0 {
		return []*Node{}, nil
	}

	end := offset + limit
	if end > len(order) {
		end = len(order)
	}

	out := make([]*Node, 0, end-offset)
	for _, id := range order[offset:end] {
		out = append(out, copyNode(m.nodes[id]))
	}
	return out, nil
}

// Count returns the number of nodes of the given type. O(1).
func (m *MemoryEngine) Count(typ NodeType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodeOrder[typ])), nil
}

// UpdateNode merges the supplied partial bag into the node's properties,
// leaving unspecified fields untouched. Identifier and type never change.
// Returns the resulting node, or ErrNotFound.
func (m *MemoryEngine) UpdateNode(id NodeID, partial Bag) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}

	m.updateNodeLocked(node, partial)
	return copyNode(node), nil
}

// updateNodeLocked applies a partial bag merge and refreshes the equality
// index for any indexed field that changed. Caller must hold m.mu.
func (m *MemoryEngine) updateNodeLocked(node *Node, partial Bag) {
	m.unindexNodeLocked(node, node.Properties)
	node.Properties = node.Properties.Merge(partial)
	node.UpdatedAt = time.Now().UTC()
	m.indexNodeLocked(node)
}

// DeleteNode removes a node. With CascadeEdges (the default policy), every
// edge touching the node is removed in the same operation; with OrphanEdges
// the incident edges are left in place for the caller to clean up.
func (m *MemoryEngine) DeleteNode(id NodeID, policy CascadePolicy) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return ErrNotFound
	}

	m.deleteNodeLocked(node, policy)
	return nil
}

// deleteNodeLocked removes the node from every index. Caller must hold m.mu.
func (m *MemoryEngine) deleteNodeLocked(node *Node, policy CascadePolicy) {
	if policy == CascadeEdges {
		m.deleteIncidentLocked(ElementID(node.ID))
	}

	m.unindexNodeLocked(node, node.Properties)
	m.nodeOrder[node.Type] = removeID(m.nodeOrder[node.Type], node.ID)
	delete(m.nodes, node.ID)
}

// CreateEdge creates a typed directed edge between two existing elements.
// Fails with ErrDanglingEndpoint when either endpoint is unknown to the node
// store and, via the configured resolver, to the vector index.
func (m *MemoryEngine) CreateEdge(typ EdgeType, from, to ElementID, props Bag) (*Edge, error) {
	if from == "" || to == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	if !m.elementExistsLocked(from) || !m.elementExistsLocked(to) {
		return nil, ErrDanglingEndpoint
	}

	edge := m.createEdgeLocked(typ, from, to, props)
	return copyEdge(edge), nil
}

// elementExistsLocked checks the node store first, then the external
// resolver. Caller must hold m.mu (read or write).
func (m *MemoryEngine) elementExistsLocked(id ElementID) bool {
	if _, ok := m.nodes[NodeID(id)]; ok {
		return true
	}
	return m.resolver != nil && m.resolver.HasElement(id)
}

// createEdgeLocked allocates id and sequence and wires adjacency.
// Caller must hold m.mu and have validated the endpoints.
func (m *MemoryEngine) createEdgeLocked(typ EdgeType, from, to ElementID, props Bag) *Edge {
	m.edgeSeq++
	edge := &Edge{
		ID:         EdgeID(uuid.NewString()),
		Type:       typ,
		From:       from,
		To:         to,
		Properties: props.Clone(),
		Seq:        m.edgeSeq,
		CreatedAt:  time.Now().UTC(),
	}

	m.edges[edge.ID] = edge

	if m.outgoing[from] == nil {
		m.outgoing[from] = make(map[EdgeType][]EdgeID)
	}
	m.outgoing[from][typ] = append(m.outgoing[from][typ], edge.ID)

	if m.incoming[to] == nil {
		m.incoming[to] = make(map[EdgeType][]EdgeID)
	}
	m.incoming[to][typ] = append(m.incoming[to][typ], edge.ID)

	return edge
}

// GetEdge retrieves an edge by its identifier. Returns a deep copy.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edge, exists := m.edges[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyEdge(edge), nil
}

// Out returns the outgoing edges of the given type from an element together
// with their target endpoints, in insertion order.
func (m *MemoryEngine) Out(from ElementID, typ EdgeType) ([]Neighbor, error) {
	if from == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := m.outgoing[from][typ]
	out := make([]Neighbor, 0, len(ids))
	for _, id := range ids {
		edge := m.edges[id]
		out = append(out, Neighbor{Edge: copyEdge(edge), ID: edge.To})
	}
	return out, nil
}

// In returns the incoming edges of the given type to an element together
// with their source endpoints, in insertion order.
func (m *MemoryEngine) In(to ElementID, typ EdgeType) ([]Neighbor, error) {
	if to == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := m.incoming[to][typ]
	out := make([]Neighbor, 0, len(ids))
	for _, id := range ids {
		edge := m.edges[id]
		out = append(out, Neighbor{Edge: copyEdge(edge), ID: edge.From})
	}
	return out, nil
}

// OutEdges returns the outgoing edge records themselves, for callers that
// need edge metadata (relation strength, context) rather than the neighbor.
func (m *MemoryEngine) OutEdges(from ElementID, typ EdgeType) ([]*Edge, error) {
	neighbors, err := m.Out(from, typ)
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
func (m *MemoryEngine) InEdges(to ElementID, typ EdgeType) ([]*Edge, error) {
	neighbors, err := m.In(to, typ)
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
func (m *MemoryEngine) DeleteEdge(id EdgeID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	edge, exists := m.edges[id]
	if !exists {
		return ErrNotFound
	}

	m.deleteEdgeLocked(edge)
	return nil
}

// deleteEdgeLocked unwires one edge from both adjacency indexes.
// Caller must hold m.mu.
func (m *MemoryEngine) deleteEdgeLocked(edge *Edge) {
	if byType := m.outgoing[edge.From]; byType != nil {
		byType[edge.Type] = removeEdgeID(byType[edge.Type], edge.ID)
		if len(byType[edge.Type]) == 0 {
			delete(byType, edge.Type)
		}
	}
	if byType := m.incoming[edge.To]; byType != nil {
		byType[edge.Type] = removeEdgeID(byType[edge.Type], edge.ID)
		if len(byType[edge.Type]) == 0 {
			delete(byType, edge.Type)
		}
	}
	delete(m.edges, edge.ID)
}

// DeleteEdgesFrom removes every edge of the given type leaving an element.
// This is the primitive behind "drop traversal" cascades. Returns the number
// of edges removed; an unknown element removes zero and is not an error.
func (m *MemoryEngine) DeleteEdgesFrom(from ElementID, typ EdgeType) (int, error) {
	if from == "" {
		return 0, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStorageClosed
	}

	ids := append([]EdgeID(nil), m.outgoing[from][typ]...)
	for _, id := range ids {
		m.deleteEdgeLocked(m.edges[id])
	}
	return len(ids), nil
}

// DeleteIncident removes every edge touching the given element, in both
// directions and across all edge types. Used when a node or vector entry is
// deleted. Returns the number of edges removed.
func (m *MemoryEngine) DeleteIncident(id ElementID) (int, error) {
	if id == "" {
		return 0, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStorageClosed
	}

	return m.deleteIncidentLocked(id), nil
}

// deleteIncidentLocked removes all edges touching id. Self-loops are counted
// once. Caller must hold m.mu.
func (m *MemoryEngine) deleteIncidentLocked(id ElementID) int {
	seen := make(map[EdgeID]struct{})
	for _, ids := range m.outgoing[id] {
		for _, eid := range ids {
			seen[eid] = struct{}{}
		}
	}
	for _, ids := range m.incoming[id] {
		for _, eid := range ids {
			seen[eid] = struct{}{}
		}
	}

	for eid := range seen {
		m.deleteEdgeLocked(m.edges[eid])
	}
	delete(m.outgoing, id)
	delete(m.incoming, id)
	return len(seen)
}

// Close closes the engine and releases all memory. Subsequent operations
// return ErrStorageClosed. Idempotent.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.nodeOrder = nil
	m.fieldIndex = nil
	m.outgoing = nil
	m.incoming = nil
	return nil
}

// Begin starts a staged transaction bound to this engine. All buffered
// operations commit together under one engine lock; see Transaction.
func (m *MemoryEngine) Begin() Batch {
	return newTransaction(m)
}

// copyNode creates a deep copy of a node.
func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{
		ID:         n.ID,
		Type:       n.Type,
		Properties: n.Properties.Clone(),
		Seq:        n.Seq,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

// copyEdge creates a deep copy of an edge.
func copyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	return &Edge{
		ID:         e.ID,
		Type:       e.Type,
		From:       e.From,
		To:         e.To,
		Properties: e.Properties.Clone(),
		Seq:        e.Seq,
		CreatedAt:  e.CreatedAt,
	}
}

// Verify MemoryEngine implements the batching engine interface.
var _ BatchEngine = (*MemoryEngine)(nil)
var _ Batch = (*Transaction)(nil)
