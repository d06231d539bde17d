// Package runner drives virtual users: it connects each one, routes inbound
// frames to its correlation engine, runs the compiled pipeline and always
// tears the connection down.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/vuflow/internal/runtime/compiler"
	"github.com/drblury/vuflow/internal/runtime/config"
	"github.com/drblury/vuflow/internal/runtime/correlation"
	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/ids"
	"github.com/drblury/vuflow/internal/runtime/logging"
	"github.com/drblury/vuflow/internal/runtime/vu"
	"github.com/drblury/vuflow/transport"
)

const tracerName = "github.com/drblury/vuflow/runner"

// Conn is the connection of one virtual user as the runner needs it.
type Conn interface {
	vu.Conn
	Subscribe(ctx context.Context, topic string) (<-chan transport.Inbound, error)
}

// Dialer opens the connection of one virtual user. cfg is already rendered
// for that user.
type Dialer func(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter, onEvent transport.EventHandler) (Conn, error)

// TransportDialer dials through reg, or transport.DefaultRegistry when nil.
func TransportDialer(reg *transport.Registry) Dialer {
	return func(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter, onEvent transport.EventHandler) (Conn, error) {
		c, err := transport.Dial(ctx, reg, cfg, logger, onEvent)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Dependencies are the collaborators shared by every virtual user of a run.
type Dependencies struct {
	Dial   Dialer
	Sink   events.Sink
	Logger logging.ServiceLogger
	Tracer trace.Tracer
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Dial == nil {
		d.Dial = TransportDialer(nil)
	}
	if d.Sink == nil {
		d.Sink = events.Nop
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopServiceLogger()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	return d
}

// Runner executes one compiled scenario for a configured number of users.
type Runner struct {
	cfg      *config.Config
	pipeline compiler.Pipeline
	deps     Dependencies
}

// New creates a runner. cfg should already have defaults applied.
func New(cfg *config.Config, pipeline compiler.Pipeline, deps Dependencies) *Runner {
	if cfg == nil {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}
	return &Runner{cfg: cfg, pipeline: pipeline, deps: deps.withDefaults()}
}

// RunVU runs a single virtual user to completion. The returned context is
// never nil, so callers can inspect variables even after a failure. Every
// error is also emitted to the sink.
func (r *Runner) RunVU(ctx context.Context, index int) (*vu.Context, error) {
	id := ids.NewVUID()
	v := vu.New(id, index, r.cfg.Variables)
	v.Logger = logging.ForVU(r.deps.Logger, id)

	ctx, span := r.deps.Tracer.Start(ctx, "vuflow.vu", trace.WithAttributes(
		attribute.String("vuflow.vu_id", id),
		attribute.Int("vuflow.vu_index", index),
	))
	defer span.End()

	events.Started(r.deps.Sink, id)
	v.Logger.Debug("Virtual user started", logging.LogFields{"index": index})

	err := r.run(ctx, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		events.Error(r.deps.Sink, id, err)
		events.Counter(r.deps.Sink, events.CounterVUFailed, 1)
		v.Logger.Error("Virtual user failed", err, nil)
		return v, err
	}

	events.Counter(r.deps.Sink, events.CounterVUCompleted, 1)
	v.Logger.Debug("Virtual user completed", logging.LogFields{"successes": v.Successes})
	return v, nil
}

func (r *Runner) run(ctx context.Context, v *vu.Context) error {
	vcfg := r.cfg.ForVU(v.Vars)
	v.ReplyTopic = vcfg.ReplyTopic

	conn, err := r.deps.Dial(ctx, vcfg, logging.NewWatermillAdapter(v.Logger), r.transportEvents(v))
	if err != nil {
		events.Counter(r.deps.Sink, events.CounterConnectError, 1)
		return errspkg.ConnectionError{Target: config.RedactTarget(vcfg.Target), Err: err}
	}
	v.Conn = conn
	v.Acks = correlation.New(v.ID, r.deps.Sink, v.Logger)
	events.Counter(r.deps.Sink, events.CounterConnect, 1)

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var routers sync.WaitGroup
	defer r.teardown(v, conn, cancel, &routers)

	for _, topic := range subscriptionTopics(vcfg) {
		inbound, err := conn.Subscribe(subCtx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
		routers.Add(1)
		go func() {
			defer routers.Done()
			for in := range inbound {
				v.Acks.HandleInbound(in.Topic, in.Payload)
			}
		}()
	}

	return r.pipeline.Run(ctx, v)
}

// teardown runs exactly once per connected user, whatever the outcome.
func (r *Runner) teardown(v *vu.Context, conn Conn, cancel context.CancelFunc, routers *sync.WaitGroup) {
	v.Acks.Close()
	cancel()
	if err := conn.Close(); err != nil {
		events.Counter(r.deps.Sink, events.CounterCloseError, 1)
		v.Logger.Error("Closing connection failed", err, nil)
	}
	routers.Wait()
}

func (r *Runner) transportEvents(v *vu.Context) transport.EventHandler {
	return func(ev transport.Event) {
		switch ev.Kind {
		case transport.EventReconnect:
			events.Counter(r.deps.Sink, events.CounterReconnect, 1)
			v.Logger.Info("Transport reconnected", logging.LogFields{"detail": ev.Detail})
		case transport.EventDisconnect, transport.EventError:
			if ev.Err == nil {
				v.Logger.Info("Transport "+string(ev.Kind), logging.LogFields{"detail": ev.Detail})
				return
			}
			events.Counter(r.deps.Sink, events.CounterTransportError, 1)
			events.Error(r.deps.Sink, v.ID, fmt.Errorf("transport %s (%s): %w", ev.Kind, ev.Detail, ev.Err))
		}
	}
}

func subscriptionTopics(cfg *config.Config) []string {
	seen := make(map[string]struct{}, len(cfg.Subscriptions)+1)
	topics := make([]string, 0, len(cfg.Subscriptions)+1)
	for _, topic := range append([]string{cfg.ReplyTopic}, cfg.Subscriptions...) {
		if topic == "" {
			continue
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

// Result is the outcome of one virtual user.
type Result struct {
	Index     int
	VUID      string
	Err       error
	Successes int64
	Duration  time.Duration
	// Skipped is set when the run was cancelled before the user started.
	Skipped bool
}

// Summary aggregates a whole run.
type Summary struct {
	Results   []Result
	Completed int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
}

// Run starts cfg.VUs users, ArrivalInterval apart, and waits for all of
// them. Users not yet started when ctx ends are reported as skipped.
func (r *Runner) Run(ctx context.Context) Summary {
	n := r.cfg.VUs
	if n < 0 {
		n = 0
	}
	results := make([]Result, n)
	start := time.Now()

	var wg sync.WaitGroup
	started := 0
	for ; started < n; started++ {
		if started > 0 && !r.arrive(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			t0 := time.Now()
			v, err := r.RunVU(ctx, index)
			results[index] = Result{
				Index:     index,
				VUID:      v.ID,
				Err:       err,
				Successes: v.Successes,
				Duration:  time.Since(t0),
			}
		}(started)
	}
	for i := started; i < n; i++ {
		results[i] = Result{Index: i, Err: ctx.Err(), Skipped: true}
	}
	wg.Wait()

	s := Summary{Results: results, Elapsed: time.Since(start)}
	for _, res := range results {
		switch {
		case res.Skipped:
			s.Skipped++
		case res.Err != nil:
			s.Failed++
		default:
			s.Completed++
		}
	}
	r.deps.Logger.Info("Run finished", logging.LogFields{
		"completed": s.Completed,
		"failed":    s.Failed,
		"skipped":   s.Skipped,
		"elapsed":   s.Elapsed.String(),
	})
	return s
}

func (r *Runner) arrive(ctx context.Context) bool {
	if r.cfg.ArrivalInterval <= 0 {
		return true
	}
	t := time.NewTimer(r.cfg.ArrivalInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
