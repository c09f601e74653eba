// Package flatten expands loop-annotated group steps into the flat leaf
// sequence the executor runs.
package flatten

import (
	"errors"
	"fmt"

	"macroctl/internal/step"
)

// ErrGroupCycle is returned in nested mode when a group directly or
// transitively contains a step with its own id.
var ErrGroupCycle = errors.New("group contains itself")

type options struct {
	nested bool
}

// Option configures Flatten.
type Option func(*options)

// WithNested expands groups found inside group children recursively.
// Without it only the top level is expanded and inner groups are emitted
// unchanged.
func WithNested() Option {
	return func(o *options) { o.nested = true }
}

// Flatten walks steps in order. Non-group steps are emitted unchanged; a
// group emits its children, in stored order, LoopCount times in a row.
// The returned steps are deep copies.
func Flatten(steps []step.Step, opts ...Option) ([]step.Step, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	out := make([]step.Step, 0, len(steps))
	for _, s := range steps {
		if !s.IsGroup() {
			out = append(out, step.Clone(s))
			continue
		}
		if !o.nested {
			for i := 0; i < s.Data.LoopCount(); i++ {
				out = append(out, step.CloneAll(s.Data.GroupSteps)...)
			}
			continue
		}
		expanded, err := expand(s, map[string]struct{}{})
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// expand recursively flattens group g. ancestors holds the ids of the
// groups currently being expanded.
func expand(g step.Step, ancestors map[string]struct{}) ([]step.Step, error) {
	if _, seen := ancestors[g.ID]; seen {
		return nil, fmt.Errorf("%w: %s", ErrGroupCycle, g.ID)
	}
	ancestors[g.ID] = struct{}{}
	defer delete(ancestors, g.ID)

	var body []step.Step
	for _, child := range g.Data.GroupSteps {
		if !child.IsGroup() {
			if _, seen := ancestors[child.ID]; seen {
				return nil, fmt.Errorf("%w: %s", ErrGroupCycle, child.ID)
			}
			body = append(body, step.Clone(child))
			continue
		}
		inner, err := expand(child, ancestors)
		if err != nil {
			return nil, err
		}
		body = append(body, inner...)
	}

	out := make([]step.Step, 0, len(body)*g.Data.LoopCount())
	for i := 0; i < g.Data.LoopCount(); i++ {
		out = append(out, step.CloneAll(body)...)
	}
	return out, nil
}

// Select resolves ids against steps in the order the ids are given.
// Unknown ids are skipped.
func Select(steps []step.Step, ids []string) []step.Step {
	byID := make(map[string]step.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	out := make([]step.Step, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}
