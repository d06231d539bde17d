package compiler

import (
	"context"
	"fmt"

	"github.com/drblury/vuflow/internal/runtime/correlation"
	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
	"github.com/drblury/vuflow/internal/runtime/processors"
	"github.com/drblury/vuflow/internal/runtime/scenario"
	"github.com/drblury/vuflow/internal/runtime/template"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

type namedHook struct {
	name string
	fn   processors.Hook
}

type ackOutcome struct {
	result correlation.Result
	err    error
}

// compilePublish renders the request, runs the beforeRequest hooks one after
// another, publishes, and for acknowledged publishes waits for settlement.
func (c *Compiler) compilePublish(p scenario.Publish) (StepFunc, error) {
	names := make([]string, 0, len(c.beforeRequest)+len(p.BeforeRequest))
	names = append(names, c.beforeRequest...)
	names = append(names, p.BeforeRequest...)

	hooks := make([]namedHook, 0, len(names))
	for _, name := range names {
		fn, _ := c.registry.Hook(name)
		hooks = append(hooks, namedHook{name: name, fn: fn})
	}

	return func(ctx context.Context, v *vu.Context) error {
		if v.Conn == nil {
			return errspkg.ErrNotConnected
		}

		req := &processors.Request{
			Topic:   template.RenderString(p.Topic, v.Vars),
			Payload: template.Render(p.Payload, v.Vars),
		}
		if p.Options != nil {
			req.Options, _ = template.Render(p.Options, v.Vars).(map[string]any)
		}

		for _, h := range hooks {
			if h.fn == nil {
				c.warnMissing(v, "hook", h.name)
				continue
			}
			if err := h.fn(ctx, req, v, c.opts.Sink); err != nil {
				return errspkg.HookError{Hook: h.name, Err: err}
			}
		}
		if req.Topic == "" {
			return errspkg.ErrTopicRequired
		}

		metadata := optionsMetadata(req.Options)
		if p.Acknowledge == nil {
			payload, err := jsoncodec.EncodePayload(req.Payload)
			if err != nil {
				return fmt.Errorf("encode payload: %w", err)
			}
			return c.send(ctx, v, req.Topic, payload, metadata)
		}
		return c.publishAcknowledged(ctx, v, req, metadata, p.Acknowledge)
	}, nil
}

func (c *Compiler) send(ctx context.Context, v *vu.Context, topic string, payload []byte, metadata map[string]string) error {
	if err := v.Conn.Publish(ctx, topic, payload, metadata); err != nil {
		events.Counter(c.opts.Sink, events.CounterPublishError, 1)
		return errspkg.PublishError{Topic: topic, Err: err}
	}
	events.Counter(c.opts.Sink, events.CounterPublishSent, 1)
	events.Rate(c.opts.Sink, events.RatePublish)
	return nil
}

func (c *Compiler) publishAcknowledged(ctx context.Context, v *vu.Context, req *processors.Request, metadata map[string]string, ack *scenario.Acknowledge) error {
	if v.Acks == nil {
		return errspkg.ErrNotConnected
	}

	timeout, err := ParseDuration(template.Render(ack.Timeout, v.Vars), c.opts.AckTimeout)
	if err != nil {
		return fmt.Errorf("acknowledge timeout: %w", err)
	}
	method := template.RenderString(ack.Method, v.Vars)
	if method == "" {
		method = req.Topic
	}

	id := v.Acks.NextID()
	frame, err := correlation.EncodeRequest(id, method, req.Payload)
	if err != nil {
		return fmt.Errorf("encode request frame: %w", err)
	}

	done := make(chan ackOutcome, 1)
	settle := func(r correlation.Result, err error) {
		done <- ackOutcome{result: r, err: err}
	}
	if err := v.Acks.Register(id, method, timeout, expectation(ack, v.Vars), settle); err != nil {
		return err
	}

	if v.ReplyTopic != "" {
		metadata[correlation.MetadataReplyTo] = v.ReplyTopic
	}
	if err := c.send(ctx, v, req.Topic, frame, metadata); err != nil {
		v.Acks.Forget(id)
		return err
	}

	select {
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		v.LastBody = out.result.Raw
		v.Merge(out.result.Captures)
		v.Successes++
		return nil
	case <-ctx.Done():
		v.Acks.Forget(id)
		return ctx.Err()
	}
}

// expectation renders the acknowledge checks for the current variables.
func expectation(ack *scenario.Acknowledge, vars map[string]any) correlation.Expectation {
	exp := correlation.Expectation{HasData: ack.HasData}
	if ack.HasData {
		exp.Data = template.Render(ack.Data, vars)
	}
	for _, c := range ack.Capture {
		exp.Captures = append(exp.Captures, correlation.Capture{
			JSON: template.RenderString(c.JSON, vars),
			As:   template.RenderString(c.As, vars),
		})
	}
	for _, m := range ack.Match {
		exp.Matches = append(exp.Matches, correlation.MatchRule{
			JSON:  template.RenderString(m.JSON, vars),
			Value: template.Render(m.Value, vars),
		})
	}
	return exp
}

// optionsMetadata turns publish options into message metadata. Non-string
// values are JSON encoded.
func optionsMetadata(options map[string]any) map[string]string {
	md := make(map[string]string, len(options)+1)
	for k, val := range options {
		switch s := val.(type) {
		case string:
			md[k] = s
		default:
			if raw, err := jsoncodec.MarshalString(val); err == nil {
				md[k] = raw
			}
		}
	}
	return md
}
