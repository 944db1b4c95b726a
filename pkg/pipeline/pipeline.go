// Package pipeline provides the query executor for MnemosDB.
//
// A Pipeline is a named, ordered list of steps. Each step runs one store
// primitive (lookup, find, traverse, range, count, vector search, create,
// update, delete) and binds exactly one named variable in the execution
// environment; later steps reference earlier bindings by name. Pipelines are
// stateless between invocations: every Execute starts from a fresh
// environment seeded only with the caller's parameters.
//
// Failure policy: a step that fails aborts the pipeline immediately, and the
// returned error names the pipeline and the failing step. A missing entity
// mid-pipeline is therefore distinguishable from a pipeline that completed
// and found an empty result set downstream.
//
// Example usage:
//
//	p := &pipeline.Pipeline{
//		Name: "get-user-memories",
//		Steps: []pipeline.Step{
//			pipeline.FindFirst("user", storage.NodeUser, "user_id", pipeline.Var("user_id")),
//			pipeline.Out("rels", pipeline.Ref("user"), storage.EdgeHasMemory),
//			pipeline.ResolveNodes("memories", "rels"),
//		},
//		Returns: []string{"memories"},
//	}
//
//	env, err := p.Execute(ctx, rt, pipeline.Env{"user_id": storage.String("u-1")})
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/mnemosdb/pkg/search"
	"github.com/orneryd/mnemosdb/pkg/storage"
)

// Env is the execution environment: variable name to bound value. Parameters
// seed it; each step adds exactly one binding.
type Env map[string]any

// Runtime carries the stores a pipeline executes against.
type Runtime struct {
	Engine storage.BatchEngine
	Index  *search.Index
}

// Step binds one named variable. Bind is the variable name; run produces the
// value from the current environment.
type Step struct {
	Bind string
	run  func(ctx context.Context, rt *Runtime, env Env) (any, error)
}

// Pipeline is a fixed, named composition of steps. Returns lists the
// variables to project into the result; empty Returns projects everything.
type Pipeline struct {
	Name    string
	Steps   []Step
	Returns []string
}

// StepError reports which step of which pipeline failed. It wraps the
// underlying store error so errors.Is(err, storage.ErrNotFound) still works.
type StepError struct {
	Pipeline string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline %q step %q: %v", e.Pipeline, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrUnboundVariable is returned when a step references a variable no
// earlier step bound and no parameter supplied.
var ErrUnboundVariable = errors.New("unbound pipeline variable")

// Execute runs the pipeline against the runtime with the given parameters.
// On success it returns the projected environment; on failure, a *StepError
// naming the failing step, with nothing projected.
func (p *Pipeline) Execute(ctx context.Context, rt *Runtime, params Env) (Env, error) {
	env := make(Env, len(params)+len(p.Steps))
	for k, v := range params {
		env[k] = v
	}

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return nil, &StepError{Pipeline: p.Name, Step: step.Bind, Err: err}
		}
		out, err := step.run(ctx, rt, env)
		if err != nil {
			return nil, &StepError{Pipeline: p.Name, Step: step.Bind, Err: err}
		}
		env[step.Bind] = out
	}

	if len(p.Returns) == 0 {
		return env, nil
	}
	result := make(Env, len(p.Returns))
	for _, name := range p.Returns {
		v, ok := env[name]
		if !ok {
			return nil, &StepError{Pipeline: p.Name, Step: name, Err: ErrUnboundVariable}
		}
		result[name] = v
	}
	return result, nil
}
