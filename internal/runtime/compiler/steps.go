package compiler

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/logging"
	"github.com/drblury/vuflow/internal/runtime/scenario"
	"github.com/drblury/vuflow/internal/runtime/template"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

func (c *Compiler) compileThink(t scenario.Think) StepFunc {
	return func(ctx context.Context, v *vu.Context) error {
		d, err := ParseDuration(template.Render(t.Duration, v.Vars), c.opts.DefaultThink)
		if err != nil {
			return fmt.Errorf("think: %w", err)
		}
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Compiler) compileLog(l scenario.Log) StepFunc {
	return func(_ context.Context, v *vu.Context) error {
		line := template.Text(l.Template, v.Vars)
		if _, err := fmt.Fprintln(c.opts.LogWriter, line); err != nil {
			return fmt.Errorf("log: %w", err)
		}
		v.Logger.Debug("Log step", logging.LogFields{"message": line})
		return nil
	}
}

func (c *Compiler) compileFunction(f scenario.Function) StepFunc {
	fn, ok := c.registry.Function(f.Name)
	if !ok {
		c.opts.Logger.Info("Function is not registered, step will be skipped", logging.LogFields{"function": f.Name})
		return func(_ context.Context, v *vu.Context) error {
			c.warnMissing(v, "function", f.Name)
			return nil
		}
	}
	return func(ctx context.Context, v *vu.Context) error {
		if err := fn(ctx, v, c.opts.Sink); err != nil {
			return fmt.Errorf("function %q: %w", f.Name, err)
		}
		return nil
	}
}

// warnMissing reports a processor that could not be resolved.
func (c *Compiler) warnMissing(v *vu.Context, kind, name string) {
	warning := errspkg.ProcessorNotFoundWarning{Kind: kind, Name: name}
	events.Error(c.opts.Sink, v.ID, warning)
	events.Counter(c.opts.Sink, events.CounterProcessorNotFound, 1)
}

// maxSeconds is the first number of seconds that no longer fits a Duration.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseDuration reads a think or timeout value. Numbers are seconds; strings
// are Go durations ("250ms") or numeric seconds ("1.5"). Nil and the empty
// string return def. Values past the Duration range are rejected.
func ParseDuration(value any, def time.Duration) (time.Duration, error) {
	var seconds float64
	switch v := value.(type) {
	case nil:
		return def, nil
	case time.Duration:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s is negative", errspkg.ErrInvalidDuration, v)
		}
		return v, nil
	case int:
		seconds = float64(v)
	case int64:
		seconds = float64(v)
	case uint64:
		seconds = float64(v)
	case float64:
		seconds = v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return def, nil
		}
		if d, err := time.ParseDuration(s); err == nil {
			if d < 0 {
				return 0, fmt.Errorf("%w: %q is negative", errspkg.ErrInvalidDuration, v)
			}
			return d, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errspkg.ErrInvalidDuration, v)
		}
		seconds = f
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", errspkg.ErrInvalidDuration, value)
	}

	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("%w: %v", errspkg.ErrInvalidDuration, value)
	}
	if seconds >= maxSeconds {
		return 0, fmt.Errorf("%w: %v seconds is out of range", errspkg.ErrInvalidDuration, value)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
