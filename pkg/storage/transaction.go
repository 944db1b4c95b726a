package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTxDone is returned when a committed or rolled-back transaction is used
// again.
var ErrTxDone = errors.New("transaction already finished")

// Transaction buffers node and edge mutations and applies them atomically.
//
// Operations are staged in memory and validated against the engine only at
// Commit, which runs under a single engine write lock: either every staged
// operation applies or none does, and no reader observes a partial unit.
// This is how "create node plus connecting edge" units stay atomic without
// holding the engine lock across caller code.
//
// Node identifiers are allocated at stage time, so a staged edge can point at
// a node staged earlier in the same transaction:
//
//	tx := engine.Begin()
//	memID := tx.CreateNode(storage.NodeMemory, props)
//	tx.CreateEdge(storage.EdgeHasMemory, storage.ElementID(userID), storage.ElementID(memID), nil)
//	if err := tx.Commit(); err != nil { ... }
//
// A Transaction is not safe for concurrent use and must not outlive its
// engine. Reads always go to the engine directly; the transaction provides
// write buffering only.
type Transaction struct {
	engine *MemoryEngine
	ops    []txOp
	done   bool
}

type txOpKind int

const (
	txCreateNode txOpKind = iota
	txCreateEdge
	txUpdateNode
	txDeleteNode
	txDeleteEdgesFrom
)

type txOp struct {
	kind txOpKind

	nodeID   NodeID
	nodeType NodeType
	edgeType EdgeType
	from, to ElementID
	props    Bag
	policy   CascadePolicy
}

func newTransaction(engine *MemoryEngine) *Transaction {
	return &Transaction{engine: engine}
}

// CreateNode stages a node creation and returns its future identifier.
// The node does not exist until Commit succeeds.
func (t *Transaction) CreateNode(typ NodeType, props Bag) NodeID {
	id := NodeID(uuid.NewString())
	t.ops = append(t.ops, txOp{
		kind:     txCreateNode,
		nodeID:   id,
		nodeType: typ,
		props:    props.Clone(),
	})
	return id
}

// CreateEdge stages an edge creation. Endpoints may be existing elements or
// nodes staged earlier in this transaction; they are validated at Commit.
func (t *Transaction) CreateEdge(typ EdgeType, from, to ElementID, props Bag) {
	t.ops = append(t.ops, txOp{
		kind:     txCreateEdge,
		edgeType: typ,
		from:     from,
		to:       to,
		props:    props.Clone(),
	})
}

// UpdateNode stages a partial property merge on an existing or staged node.
func (t *Transaction) UpdateNode(id NodeID, partial Bag) {
	t.ops = append(t.ops, txOp{
		kind:   txUpdateNode,
		nodeID: id,
		props:  partial.Clone(),
	})
}

// DeleteNode stages a node deletion with the given cascade policy.
func (t *Transaction) DeleteNode(id NodeID, policy CascadePolicy) {
	t.ops = append(t.ops, txOp{
		kind:   txDeleteNode,
		nodeID: id,
		policy: policy,
	})
}

// DeleteEdgesFrom stages removal of every edge of the given type leaving an
// element.
func (t *Transaction) DeleteEdgesFrom(from ElementID, typ EdgeType) {
	t.ops = append(t.ops, txOp{
		kind:     txDeleteEdgesFrom,
		from:     from,
		edgeType: typ,
	})
}

// Commit validates and applies every staged operation under one engine write
// lock. On any validation failure nothing is applied and the error names the
// offending operation. The transaction is finished either way.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStorageClosed
	}

	if err := t.validateLocked(); err != nil {
		return err
	}

	for _, op := range t.ops {
		switch op.kind {
		case txCreateNode:
			e.createNodeLocked(op.nodeID, op.nodeType, op.props)
		case txCreateEdge:
			e.createEdgeLocked(op.edgeType, op.from, op.to, op.props)
		case txUpdateNode:
			e.updateNodeLocked(e.nodes[op.nodeID], op.props)
		case txDeleteNode:
			e.deleteNodeLocked(e.nodes[op.nodeID], op.policy)
		case txDeleteEdgesFrom:
			for _, id := range append([]EdgeID(nil), e.outgoing[op.from][op.edgeType]...) {
				e.deleteEdgeLocked(e.edges[id])
			}
		}
	}
	return nil
}

// validateLocked dry-runs the staged operations against the engine state,
// tracking nodes the transaction itself creates and deletes. Caller must
// hold e.mu.
func (t *Transaction) validateLocked() error {
	e := t.engine
	staged := make(map[NodeID]struct{})
	deleted := make(map[NodeID]struct{})

	liveNode := func(id NodeID) bool {
		if _, gone := deleted[id]; gone {
			return false
		}
		if _, ok := staged[id]; ok {
			return true
		}
		_, ok := e.nodes[id]
		return ok
	}
	liveElement := func(id ElementID) bool {
		if liveNode(NodeID(id)) {
			return true
		}
		if _, gone := deleted[NodeID(id)]; gone {
			return false
		}
		return e.resolver != nil && e.resolver.HasElement(id)
	}

	for i, op := range t.ops {
		switch op.kind {
		case txCreateNode:
			staged[op.nodeID] = struct{}{}
			delete(deleted, op.nodeID)
		case txCreateEdge:
			if op.from == "" || op.to == "" {
				return fmt.Errorf("commit op %d (create edge %s): %w", i, op.edgeType, ErrInvalidID)
			}
			if !liveElement(op.from) || !liveElement(op.to) {
				return fmt.Errorf("commit op %d (create edge %s): %w", i, op.edgeType, ErrDanglingEndpoint)
			}
		case txUpdateNode:
			if !liveNode(op.nodeID) {
				return fmt.Errorf("commit op %d (update node %s): %w", i, op.nodeID, ErrNotFound)
			}
		case txDeleteNode:
			if !liveNode(op.nodeID) {
				return fmt.Errorf("commit op %d (delete node %s): %w", i, op.nodeID, ErrNotFound)
			}
			deleted[op.nodeID] = struct{}{}
			delete(staged, op.nodeID)
		case txDeleteEdgesFrom:
			// Removing zero edges is fine; nothing to validate.
		}
	}
	return nil
}

// Rollback discards the staged operations. Safe to call after Commit; the
// usual pattern is defer tx.Rollback() with an explicit Commit on success.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	return nil
}
