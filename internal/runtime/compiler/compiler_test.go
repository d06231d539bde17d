package compiler

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/processors"
	"github.com/drblury/vuflow/internal/runtime/scenario"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

func TestLoopOverStopsWhenPredicateTurnsFalse(t *testing.T) {
	h := newHarness(t)
	seen := h.recordFunction(t, "record", "item")
	require.NoError(t, h.registry.RegisterPredicate("untilB", func(_ context.Context, v *vu.Context) (bool, error) {
		return v.Vars["item"] != "b", nil
	}))

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Loop{
			Steps:     []scenario.Step{scenario.Function{Name: "record"}},
			Over:      []any{"a", "b", "c"},
			LoopValue: "item",
			WhileTrue: "untilB",
		},
	}})

	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, *seen)
}

func TestLoopCountBindsIndex(t *testing.T) {
	h := newHarness(t)
	seen := h.recordFunction(t, "record", DefaultLoopValueName)

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Loop{
			Steps: []scenario.Step{scenario.Function{Name: "record"}},
			Count: scenario.IntPtr(3),
		},
	}})

	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2}, *seen)
	// the last bound value persists after the loop
	assert.Equal(t, 2, h.vu.Vars[DefaultLoopValueName])
}

func TestLoopOverTemplateAndNesting(t *testing.T) {
	h := newHarness(t)
	h.vu.Set("rooms", []any{"x", "y"})
	seen := h.recordFunction(t, "record", "room")

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Loop{
			LoopValue: "round",
			Count:     scenario.IntPtr(2),
			Steps: []scenario.Step{
				scenario.Loop{
					Over:      "{{ rooms }}",
					LoopValue: "room",
					Steps:     []scenario.Step{scenario.Function{Name: "record"}},
				},
			},
		},
	}})

	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y", "x", "y"}, *seen)
}

func TestUnboundedLoopUntilPredicate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.RegisterFunction("inc", func(_ context.Context, v *vu.Context, _ events.Sink) error {
		n, _ := v.Vars["n"].(int)
		v.Set("n", n+1)
		return nil
	}))
	require.NoError(t, h.registry.RegisterPredicate("belowFive", func(_ context.Context, v *vu.Context) (bool, error) {
		return v.Vars["n"].(int) < 5, nil
	}))

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Loop{Steps: []scenario.Step{scenario.Function{Name: "inc"}}, WhileTrue: "belowFive"},
	}})

	require.NoError(t, err)
	assert.Equal(t, 5, h.vu.Vars["n"])
}

func TestLoopCompileErrors(t *testing.T) {
	reg := processors.NewRegistry()

	_, err := Compile(scenario.Spec{Flow: []scenario.Step{scenario.Loop{}}}, reg, Options{})
	assert.ErrorIs(t, err, errspkg.ErrUnboundedLoop)

	_, err = Compile(scenario.Spec{Flow: []scenario.Step{scenario.Loop{Count: scenario.IntPtr(-1)}}}, reg, Options{})
	assert.ErrorIs(t, err, errspkg.ErrUnboundedLoop)

	_, err = Compile(scenario.Spec{Flow: []scenario.Step{scenario.Loop{WhileTrue: "nope"}}}, reg, Options{})
	assert.ErrorIs(t, err, errspkg.ErrPredicateNotFound)
}

func TestLoopOverRejectsScalar(t *testing.T) {
	h := newHarness(t)
	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Loop{Over: "{{ room }}"},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a list")
}

func TestHooksRunInSeriesBeforePublish(t *testing.T) {
	h := newHarness(t)
	var order []string
	hook := func(name string) processors.Hook {
		return func(_ context.Context, req *processors.Request, _ *vu.Context, _ events.Sink) error {
			order = append(order, name)
			req.Payload = req.Payload.(string) + "+" + name
			return nil
		}
	}
	require.NoError(t, h.registry.RegisterHook("scenarioHook", hook("scenario")))
	require.NoError(t, h.registry.RegisterHook("h1", hook("h1")))
	require.NoError(t, h.registry.RegisterHook("h2", hook("h2")))
	h.conn.onPublish = func(string, []byte, map[string]string) { order = append(order, "publish") }

	err := h.run(t, scenario.Spec{
		BeforeRequest: []string{"scenarioHook"},
		Flow: []scenario.Step{
			scenario.Publish{Topic: "chat.{{ room }}", Payload: "hi", BeforeRequest: []string{"h1", "h2"}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"scenario", "h1", "h2", "publish"}, order)
	msgs := h.conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chat.lobby", msgs[0].topic)
	assert.Equal(t, "hi+scenario+h1+h2", string(msgs[0].payload))
	assert.Equal(t, int64(1), h.sink.CounterTotal(events.CounterPublishSent))
	assert.Len(t, h.sink.Of(events.KindRate), 1)
}

func TestFailingHookSkipsRestAndPublish(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("signature service down")
	var h2Called bool
	require.NoError(t, h.registry.RegisterHook("h1", func(context.Context, *processors.Request, *vu.Context, events.Sink) error {
		return boom
	}))
	require.NoError(t, h.registry.RegisterHook("h2", func(context.Context, *processors.Request, *vu.Context, events.Sink) error {
		h2Called = true
		return nil
	}))

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Publish{Topic: "t", BeforeRequest: []string{"h1", "h2"}},
	}})

	var hookErr errspkg.HookError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, "h1", hookErr.Hook)
	assert.ErrorIs(t, err, boom)
	assert.False(t, h2Called)
	assert.Empty(t, h.conn.messages())
}

func TestMissingProcessorsWarnAndContinue(t *testing.T) {
	h := newHarness(t)
	seen := h.recordFunction(t, "after", "room")

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Function{Name: "ghost"},
		scenario.Publish{Topic: "t", BeforeRequest: []string{"ghostHook"}},
		scenario.Function{Name: "after"},
	}})

	require.NoError(t, err)
	assert.Equal(t, []any{"lobby"}, *seen)
	assert.Equal(t, int64(2), h.sink.CounterTotal(events.CounterProcessorNotFound))
	warnings := h.sink.Of(events.KindError)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0].Message, "ghost")
	assert.Len(t, h.conn.messages(), 1)
}

func TestPublishErrorStopsPipeline(t *testing.T) {
	h := newHarness(t)
	h.conn.err = errors.New("broker gone")
	seen := h.recordFunction(t, "after", "room")

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Publish{Topic: "t", Payload: map[string]any{"a": 1}},
		scenario.Function{Name: "after"},
	}})

	var pubErr errspkg.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, "t", pubErr.Topic)
	assert.Empty(t, *seen)
	assert.Equal(t, int64(1), h.sink.CounterTotal(events.CounterPublishError))
}

func TestAcknowledgedPublishCapturesBody(t *testing.T) {
	h := newHarness(t)
	h.respondWith(map[string]any{"status": "joined", "room": map[string]any{"id": "r-1"}})

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Publish{
			Topic:   "rooms",
			Payload: map[string]any{"room": "{{ room }}"},
			Options: map[string]any{"priority": 5},
			Acknowledge: &scenario.Acknowledge{
				Method:  "join",
				Capture: []scenario.Capture{{JSON: "$.room.id", As: "roomId"}},
				Match:   []scenario.Match{{JSON: "$.status", Value: "joined"}},
			},
		},
	}})

	require.NoError(t, err)
	assert.Equal(t, "r-1", h.vu.Vars["roomId"])
	assert.Equal(t, int64(1), h.vu.Successes)
	assert.JSONEq(t, `{"status":"joined","room":{"id":"r-1"}}`, h.vu.LastBody)
	assert.Equal(t, 0, h.vu.Acks.Len())

	msgs := h.conn.messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(string(msgs[0].payload), `40|{"id":"vu.1","m":"join"`))
	assert.Equal(t, "replies.vu", msgs[0].metadata["vuflow_reply_to"])
	assert.Equal(t, "5", msgs[0].metadata["priority"])
	assert.Len(t, h.sink.Of(events.KindMatch), 2)
	assert.Len(t, h.sink.Of(events.KindResponse), 1)
}

func TestAcknowledgedPublishDataMismatch(t *testing.T) {
	h := newHarness(t)
	h.respondWith("pong")

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Publish{Topic: "ping", Acknowledge: &scenario.Acknowledge{HasData: true, Data: "ping"}},
	}})

	var mismatch errspkg.DataMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Zero(t, h.vu.Successes)
}

func TestAcknowledgeTimeout(t *testing.T) {
	h := newHarness(t)

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Publish{Topic: "void", Acknowledge: &scenario.Acknowledge{Method: "join", Timeout: "30ms"}},
	}})

	var timeout errspkg.AcknowledgeTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "join", timeout.Method)
	assert.Equal(t, 0, h.vu.Acks.Len())
	assert.Equal(t, int64(1), h.sink.CounterTotal(events.CounterAckTimeout))
}

func TestAcknowledgeMethodDefaultsToTopic(t *testing.T) {
	h := newHarness(t)
	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Publish{Topic: "presence", Acknowledge: &scenario.Acknowledge{Timeout: 0.02}},
	}})

	var timeout errspkg.AcknowledgeTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "presence", timeout.Method)
}

func TestPublishRequiresConnection(t *testing.T) {
	h := newHarness(t)
	h.vu.Conn = nil
	err := h.run(t, scenario.Spec{Flow: []scenario.Step{scenario.Publish{Topic: "t"}}})
	assert.ErrorIs(t, err, errspkg.ErrNotConnected)
}

func TestLogAndUnknownSteps(t *testing.T) {
	h := newHarness(t)
	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Unknown{Keys: []string{"sleep"}},
		scenario.Log{Template: "joined {{ room }}"},
		scenario.Log{Template: map[string]any{"vu": "{{ $vuId }}"}},
	}})

	require.NoError(t, err)
	assert.Equal(t, "joined lobby\n{\"vu\":\"vu\"}\n", h.logs.String())
}

func TestScenarioHooksWrapFlow(t *testing.T) {
	h := newHarness(t)
	var order []string
	for _, name := range []string{"setup", "body", "teardown"} {
		n := name
		require.NoError(t, h.registry.RegisterFunction(n, func(context.Context, *vu.Context, events.Sink) error {
			order = append(order, n)
			return nil
		}))
	}

	err := h.run(t, scenario.Spec{
		BeforeScenario: []string{"setup"},
		AfterScenario:  []string{"teardown"},
		Flow:           []scenario.Step{scenario.Function{Name: "body"}},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "body", "teardown"}, order)
}

func TestThinkHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	p, err := Compile(scenario.Spec{Flow: []scenario.Step{scenario.Think{Duration: "1m"}}}, h.registry, h.options())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = p.Run(ctx, h.vu)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestThinkTemplatedDuration(t *testing.T) {
	h := newHarness(t)
	h.vu.Set("pause", "10ms")

	start := time.Now()
	err := h.run(t, scenario.Spec{Flow: []scenario.Step{scenario.Think{Duration: "{{ pause }}"}}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      any
		want    time.Duration
		wantErr bool
	}{
		{in: nil, want: time.Second},
		{in: "", want: time.Second},
		{in: 2, want: 2 * time.Second},
		{in: 0.25, want: 250 * time.Millisecond},
		{in: uint64(1), want: time.Second},
		{in: "150ms", want: 150 * time.Millisecond},
		{in: "1.5", want: 1500 * time.Millisecond},
		{in: 3 * time.Second, want: 3 * time.Second},
		{in: "soon", wantErr: true},
		{in: -1, wantErr: true},
		{in: "-2s", wantErr: true},
		{in: []any{1}, wantErr: true},
		{in: 9e9, want: time.Duration(9e9) * time.Second},
		{in: 1e10, wantErr: true},
		{in: "1e12", wantErr: true},
		{in: uint64(math.MaxUint64), wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in, time.Second)
		if tt.wantErr {
			assert.ErrorIs(t, err, errspkg.ErrInvalidDuration, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestPipelineShortCircuitsAndStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")
	require.NoError(t, h.registry.RegisterFunction("fail", func(context.Context, *vu.Context, events.Sink) error { return boom }))
	seen := h.recordFunction(t, "after", "room")

	err := h.run(t, scenario.Spec{Flow: []scenario.Step{
		scenario.Function{Name: "fail"},
		scenario.Function{Name: "after"},
	}})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, *seen)

	p, err := Compile(scenario.Spec{Flow: []scenario.Step{scenario.Function{Name: "after"}}}, h.registry, h.options())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx, h.vu), context.Canceled)
	assert.Empty(t, *seen)
	assert.Equal(t, 1, p.Len())
}
