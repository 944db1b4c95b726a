package pipeline

import (
	"context"
	"fmt"

	"github.com/orneryd/mnemosdb/pkg/search"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// Arg supplies a scalar value to a step, either from a parameter binding or
// as a literal.
type Arg func(env Env) (storage.Value, error)

// Var reads a storage.Value bound under name.
func Var(name string) Arg {
	return func(env Env) (storage.Value, error) {
		v, ok := env[name]
		if !ok {
			return storage.Value{}, fmt.Errorf("%w: %s", ErrUnboundVariable, name)
		}
		val, ok := v.(storage.Value)
		if !ok {
			return storage.Value{}, fmt.Errorf("variable %s is %T, want storage.Value", name, v)
		}
		return val, nil
	}
}

// Lit supplies a literal value.
func Lit(v storage.Value) Arg {
	return func(Env) (storage.Value, error) { return v, nil }
}

// ElementRef supplies an element identifier to a step.
type ElementRef func(env Env) (storage.ElementID, error)

// Ref resolves the element id of an earlier binding: a node, a vector entry,
// or a bare identifier.
func Ref(name string) ElementRef {
	return func(env Env) (storage.ElementID, error) {
		v, ok := env[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnboundVariable, name)
		}
		return elementIDOf(v)
	}
}

// RefID supplies a literal element id.
func RefID(id storage.ElementID) ElementRef {
	return func(Env) (storage.ElementID, error) { return id, nil }
}

// elementIDOf extracts an element id from the value shapes steps bind.
func elementIDOf(v any) (storage.ElementID, error) {
	switch t := v.(type) {
	case *storage.Node:
		return storage.ElementID(t.ID), nil
	case *search.Entry:
		return storage.ElementID(t.ID), nil
	case storage.ElementID:
		return t, nil
	case storage.NodeID:
		return storage.ElementID(t), nil
	case search.VectorID:
		return storage.ElementID(t), nil
	case string:
		return storage.ElementID(t), nil
	default:
		return "", fmt.Errorf("cannot take element id of %T", v)
	}
}

// Props supplies a property bag to a mutating step.
type Props func(env Env) (storage.Bag, error)

// BagLit supplies a literal bag.
func BagLit(bag storage.Bag) Props {
	return func(Env) (storage.Bag, error) { return bag, nil }
}

// BagVar reads a storage.Bag bound under name.
func BagVar(name string) Props {
	return func(env Env) (storage.Bag, error) {
		v, ok := env[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnboundVariable, name)
		}
		bag, ok := v.(storage.Bag)
		if !ok {
			return nil, fmt.Errorf("variable %s is %T, want storage.Bag", name, v)
		}
		return bag, nil
	}
}

// GetNode binds the node with the referenced identifier. Missing node aborts
// the pipeline.
func GetNode(bind string, ref ElementRef) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := ref(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.GetNode(storage.NodeID(id))
	}}
}

// FindFirst binds the first node of the type whose field equals the argument
// value, in creation order. No match aborts the pipeline.
func FindFirst(bind string, typ storage.NodeType, field string, value Arg) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		v, err := value(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.FindFirst(typ, field, v)
	}}
}

// FindAll binds every matching node in creation order. An empty slice is a
// successful (empty) result, not an abort.
func FindAll(bind string, typ storage.NodeType, field string, value Arg) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		v, err := value(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.FindAll(typ, field, v)
	}}
}

// Range binds a creation-order page of nodes of the type.
func Range(bind string, typ storage.NodeType, offset, limit int) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		return rt.Engine.Range(typ, offset, limit)
	}}
}

// Count binds the number of nodes of the type as int64.
func Count(bind string, typ storage.NodeType) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		return rt.Engine.Count(typ)
	}}
}

// Out binds the outgoing neighbors of the referenced element over one edge
// type, in insertion order, as []storage.Neighbor.
func Out(bind string, from ElementRef, typ storage.EdgeType) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := from(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.Out(id, typ)
	}}
}

// In is the reverse-direction counterpart of Out.
func In(bind string, to ElementRef, typ storage.EdgeType) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := to(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.In(id, typ)
	}}
}

// OutEdges binds the outgoing edge records themselves as []*storage.Edge.
func OutEdges(bind string, from ElementRef, typ storage.EdgeType) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := from(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.OutEdges(id, typ)
	}}
}

// InEdges is the reverse-direction counterpart of OutEdges.
func InEdges(bind string, to ElementRef, typ storage.EdgeType) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := to(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.InEdges(id, typ)
	}}
}

// ResolveNodes loads the endpoint node of every neighbor bound under
// neighborsVar and binds them as []*storage.Node, preserving order. Use only
// over edge types whose endpoints are nodes; a missing endpoint aborts.
func ResolveNodes(bind, neighborsVar string) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		v, ok := env[neighborsVar]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnboundVariable, neighborsVar)
		}
		neighbors, ok := v.([]storage.Neighbor)
		if !ok {
			return nil, fmt.Errorf("variable %s is %T, want []storage.Neighbor", neighborsVar, v)
		}
		nodes := make([]*storage.Node, 0, len(neighbors))
		for _, n := range neighbors {
			node, err := rt.Engine.GetNode(storage.NodeID(n.ID))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		return nodes, nil
	}}
}

// VectorSearch binds the k nearest entries of the space to the query vector
// bound under queryVar, as []search.Hit.
func VectorSearch(bind string, space search.SpaceType, queryVar string, k int) Step {
	return VectorSearchFiltered(bind, space, queryVar, k, nil)
}

// VectorSearchFiltered is VectorSearch with a post-ranking filter.
func VectorSearchFiltered(bind string, space search.SpaceType, queryVar string, k int, filter search.Filter) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		v, ok := env[queryVar]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnboundVariable, queryVar)
		}
		query, ok := v.([]float32)
		if !ok {
			return nil, fmt.Errorf("variable %s is %T, want []float32", queryVar, v)
		}
		return rt.Index.SearchFiltered(ctx, space, query, k, filter)
	}}
}

// JoinHitOwners resolves each hit bound under hitsVar to its owning node:
// the node of the given type whose ownerField equals the same field on the
// hit's properties. Binds []*storage.Node in hit order. A hit with no owner
// aborts the pipeline.
func JoinHitOwners(bind, hitsVar string, typ storage.NodeType, ownerField string) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		v, ok := env[hitsVar]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnboundVariable, hitsVar)
		}
		hits, ok := v.([]search.Hit)
		if !ok {
			return nil, fmt.Errorf("variable %s is %T, want []search.Hit", hitsVar, v)
		}
		nodes := make([]*storage.Node, 0, len(hits))
		for _, hit := range hits {
			key, ok := hit.Entry.Properties[ownerField]
			if !ok {
				return nil, fmt.Errorf("hit %s has no %s: %w", hit.Entry.ID, ownerField, storage.ErrInvalidData)
			}
			node, err := rt.Engine.FindFirst(typ, ownerField, key)
			if err != nil {
				return nil, fmt.Errorf("owner of hit %s: %w", hit.Entry.ID, err)
			}
			nodes = append(nodes, node)
		}
		return nodes, nil
	}}
}

// CreateNode binds the newly created node.
func CreateNode(bind string, typ storage.NodeType, props Props) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		bag, err := props(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.CreateNode(typ, bag)
	}}
}

// UpdateNode merges a partial bag into the referenced node and binds the
// updated node.
func UpdateNode(bind string, ref ElementRef, props Props) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := ref(env)
		if err != nil {
			return nil, err
		}
		bag, err := props(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.UpdateNode(storage.NodeID(id), bag)
	}}
}

// DeleteNode removes the referenced node under the given cascade policy and
// binds true.
func DeleteNode(bind string, ref ElementRef, policy storage.CascadePolicy) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		id, err := ref(env)
		if err != nil {
			return nil, err
		}
		if err := rt.Engine.DeleteNode(storage.NodeID(id), policy); err != nil {
			return nil, err
		}
		return true, nil
	}}
}

// CreateEdge binds the newly created edge. Endpoints resolve from earlier
// bindings; a dangling endpoint aborts.
func CreateEdge(bind string, typ storage.EdgeType, from, to ElementRef, props Props) Step {
	return Step{Bind: bind, run: func(ctx context.Context, rt *Runtime, env Env) (any, error) {
		fromID, err := from(env)
		if err != nil {
			return nil, err
		}
		toID, err := to(env)
		if err != nil {
			return nil, err
		}
		bag, err := props(env)
		if err != nil {
			return nil, err
		}
		return rt.Engine.CreateEdge(typ, fromID, toID, bag)
	}}
}
