// Package variables resolves variable references for the debug session.
//
// A client expands composite values lazily through small integer handles.
// Each handle is bound to a path into the current variable snapshot, so the
// same handle can be listed again after a step and will show the value now
// found under that path.
package variables

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ObjectPlaceholder is the display value of an expandable object.
const ObjectPlaceholder = "Object"

// ErrUnknownReference is returned when a reference was never allocated.
var ErrUnknownReference = errors.New("unknown variables reference")

// Source supplies the current variable snapshot.
type Source interface {
	Variables(ctx context.Context) (Value, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Value, error)

// Variables implements Source.
func (f SourceFunc) Variables(ctx context.Context) (Value, error) { return f(ctx) }

// Variable is one listed child.
type Variable struct {
	Name               string
	Type               string
	Value              string
	VariablesReference int
	EvaluateName       string
}

// Result is the outcome of evaluating a path expression.
type Result struct {
	Result             string
	Type               string
	VariablesReference int
}

// Indirection lists and evaluates variables through references.
type Indirection struct {
	source  Source
	handles *handleTable
}

// New creates an Indirection over source.
func New(source Source) *Indirection {
	return &Indirection{
		source:  source,
		handles: newHandleTable(),
	}
}

// Allocated returns how many references have been handed out.
func (x *Indirection) Allocated() int {
	return x.handles.size()
}

// List returns the immediate children of the value bound to ref.
func (x *Indirection) List(ctx context.Context, ref int) ([]Variable, error) {
	var keys []string
	switch ref {
	case AllReference:
	case NoReference:
		return nil, fmt.Errorf("%w: %d", ErrUnknownReference, ref)
	default:
		path, ok := x.handles.lookup(ref)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownReference, ref)
		}
		keys = ParsePath(path)
	}

	snapshot, err := x.source.Variables(ctx)
	if err != nil {
		return nil, err
	}

	node := snapshot.Walk(keys)
	names := node.Keys()
	result := make([]Variable, 0, len(names))
	for _, name := range names {
		child, _ := node.Field(name)
		childKeys := append(append([]string{}, keys...), name)
		result = append(result, x.describe(name, childKeys, child))
	}
	return result, nil
}

// Evaluate resolves a dotted or slashed path expression against the snapshot.
func (x *Indirection) Evaluate(ctx context.Context, expr string) (Result, error) {
	snapshot, err := x.source.Variables(ctx)
	if err != nil {
		return Result{}, err
	}

	keys := ParsePath(expr)
	value := snapshot.Walk(keys)
	switch value.Kind() {
	case KindUndefined, KindNull:
		return Result{Result: value.Kind().String(), Type: value.Kind().String()}, nil
	case KindObject:
		ref := AllReference
		if len(keys) > 0 {
			ref = x.handles.allocate(JoinPath(keys))
		}
		return Result{
			Result:             ObjectPlaceholder,
			Type:               value.Kind().String(),
			VariablesReference: ref,
		}, nil
	default:
		return Result{Result: value.Text(), Type: value.Kind().String()}, nil
	}
}

func (x *Indirection) describe(name string, keys []string, value Value) Variable {
	v := Variable{
		Name:         name,
		Type:         value.Kind().String(),
		EvaluateName: strings.Join(keys, "."),
	}
	if value.IsObject() {
		v.Value = ObjectPlaceholder
		v.VariablesReference = x.handles.allocate(JoinPath(keys))
		return v
	}
	v.Value = value.Text()
	v.VariablesReference = NoReference
	return v
}
