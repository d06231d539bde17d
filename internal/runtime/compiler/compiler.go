// Package compiler turns a scenario into a pipeline of step functions.
//
// A step function blocks until its work is done and returns once; the
// pipeline runs steps strictly in order and stops at the first error.
package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/logging"
	"github.com/drblury/vuflow/internal/runtime/processors"
	"github.com/drblury/vuflow/internal/runtime/scenario"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

const (
	DefaultLoopValueName = "$loopCount"
	DefaultThink         = time.Second
	DefaultAckTimeout    = 10 * time.Second

	tracerName = "github.com/drblury/vuflow/compiler"
)

// StepFunc is one compiled step.
type StepFunc func(ctx context.Context, v *vu.Context) error

// Options tune compiled steps. Zero values fall back to the defaults above.
type Options struct {
	DefaultThink  time.Duration
	AckTimeout    time.Duration
	LoopValueName string
	// LogWriter receives the output of log steps. Defaults to stdout.
	LogWriter io.Writer
	Sink      events.Sink
	Logger    logging.ServiceLogger
	Tracer    trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.DefaultThink <= 0 {
		o.DefaultThink = DefaultThink
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.LoopValueName == "" {
		o.LoopValueName = DefaultLoopValueName
	}
	if o.LogWriter == nil {
		o.LogWriter = os.Stdout
	}
	if o.Sink == nil {
		o.Sink = events.Nop
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopServiceLogger()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	return o
}

// Compiler compiles steps against one processor registry.
type Compiler struct {
	registry      *processors.Registry
	opts          Options
	beforeRequest []string
}

// NewCompiler creates a compiler. beforeRequest names hooks run ahead of
// every publish step's own hooks.
func NewCompiler(registry *processors.Registry, opts Options, beforeRequest ...string) *Compiler {
	if registry == nil {
		registry = processors.NewRegistry()
	}
	return &Compiler{
		registry:      registry,
		opts:          opts.withDefaults(),
		beforeRequest: beforeRequest,
	}
}

type namedStep struct {
	kind string
	fn   StepFunc
}

// Pipeline is the compiled flow of a scenario.
type Pipeline struct {
	steps  []namedStep
	tracer trace.Tracer
}

// Compile compiles the whole scenario. BeforeScenario functions run first,
// AfterScenario functions run last.
func Compile(spec scenario.Spec, registry *processors.Registry, opts Options) (Pipeline, error) {
	c := NewCompiler(registry, opts, spec.BeforeRequest...)

	flow := make([]scenario.Step, 0, len(spec.BeforeScenario)+len(spec.Flow)+len(spec.AfterScenario))
	for _, name := range spec.BeforeScenario {
		flow = append(flow, scenario.Function{Name: name})
	}
	flow = append(flow, spec.Flow...)
	for _, name := range spec.AfterScenario {
		flow = append(flow, scenario.Function{Name: name})
	}

	p := Pipeline{steps: make([]namedStep, 0, len(flow)), tracer: c.opts.Tracer}
	for i, step := range flow {
		fn, err := c.CompileStep(step)
		if err != nil {
			return Pipeline{}, fmt.Errorf("compile step %d (%s): %w", i, step.Kind(), err)
		}
		p.steps = append(p.steps, namedStep{kind: step.Kind(), fn: fn})
	}
	return p, nil
}

// CompileStep compiles a single step, recursing into loops.
func (c *Compiler) CompileStep(step scenario.Step) (StepFunc, error) {
	switch s := step.(type) {
	case scenario.Loop:
		return c.compileLoop(s)
	case scenario.Think:
		return c.compileThink(s), nil
	case scenario.Log:
		return c.compileLog(s), nil
	case scenario.Function:
		return c.compileFunction(s), nil
	case scenario.Publish:
		return c.compilePublish(s)
	case scenario.Unknown:
		c.opts.Logger.Debug("Ignoring unknown step", logging.LogFields{"keys": s.Keys})
		return noop, nil
	default:
		return nil, fmt.Errorf("unsupported step type %T", step)
	}
}

func (c *Compiler) compileSteps(steps []scenario.Step) ([]StepFunc, error) {
	out := make([]StepFunc, 0, len(steps))
	for i, step := range steps {
		fn, err := c.CompileStep(step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
		out = append(out, fn)
	}
	return out, nil
}

func noop(context.Context, *vu.Context) error { return nil }

// Len returns the number of top-level steps.
func (p Pipeline) Len() int {
	return len(p.steps)
}

// Run executes the steps in order and returns the first error. Each step
// runs inside its own span; a cancelled ctx stops the run between steps.
func (p Pipeline) Run(ctx context.Context, v *vu.Context) error {
	tracer := p.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		stepCtx, span := tracer.Start(ctx, "vuflow.step."+step.kind, trace.WithAttributes(
			attribute.String("vuflow.vu_id", v.ID),
			attribute.Int("vuflow.step.index", i),
		))
		err := step.fn(stepCtx, v)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.kind, err)
		}
	}
	return nil
}
