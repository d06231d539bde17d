package compiler

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/processors"
	"github.com/drblury/vuflow/internal/runtime/scenario"
	"github.com/drblury/vuflow/internal/runtime/template"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

// compileLoop picks the iteration mode from the loop fields:
//
//	over    one pass per element, bound to the loop value
//	count   exactly count passes, the loop value is the 0-based index
//	neither passes until whileTrue returns false
//
// whileTrue is consulted after every pass in all modes.
func (c *Compiler) compileLoop(l scenario.Loop) (StepFunc, error) {
	inner, err := c.compileSteps(l.Steps)
	if err != nil {
		return nil, fmt.Errorf("loop: %w", err)
	}

	var predicate processors.Predicate
	if l.WhileTrue != "" {
		p, ok := c.registry.Predicate(l.WhileTrue)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errspkg.ErrPredicateNotFound, l.WhileTrue)
		}
		predicate = p
	}

	count := -1
	if l.Count != nil {
		count = *l.Count
	}
	if l.Over == nil && count < 0 && predicate == nil {
		return nil, errspkg.ErrUnboundedLoop
	}

	name := l.LoopValue
	if name == "" {
		name = c.opts.LoopValueName
	}

	// pass runs the inner steps once and reports whether to continue.
	pass := func(ctx context.Context, v *vu.Context, value any) (bool, error) {
		v.Set(name, value)
		for i, step := range inner {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if err := step(ctx, v); err != nil {
				return false, fmt.Errorf("loop step %d: %w", i, err)
			}
		}
		if predicate == nil {
			return true, nil
		}
		keep, err := predicate(ctx, v)
		if err != nil {
			return false, fmt.Errorf("whileTrue %q: %w", l.WhileTrue, err)
		}
		return keep, nil
	}

	return func(ctx context.Context, v *vu.Context) error {
		if l.Over != nil {
			values, err := overValues(template.Render(l.Over, v.Vars))
			if err != nil {
				return err
			}
			if len(values) > 0 {
				for _, value := range values {
					keep, err := pass(ctx, v, value)
					if err != nil || !keep {
						return err
					}
				}
				return nil
			}
		}

		if count >= 0 {
			for i := 0; i < count; i++ {
				keep, err := pass(ctx, v, i)
				if err != nil || !keep {
					return err
				}
			}
			return nil
		}

		if predicate == nil {
			// an empty over list with nothing else to bound the loop
			return nil
		}
		for i := 0; ; i++ {
			keep, err := pass(ctx, v, i)
			if err != nil || !keep {
				return err
			}
		}
	}, nil
}

func overValues(rendered any) ([]any, error) {
	switch v := rendered.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("loop over: expected a list, got %T", rendered)
	}
}
