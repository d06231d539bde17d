package compiler

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drblury/vuflow/internal/runtime/correlation"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/processors"
	"github.com/drblury/vuflow/internal/runtime/scenario"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

type published struct {
	topic    string
	payload  []byte
	metadata map[string]string
}

type fakeConn struct {
	mu        sync.Mutex
	published []published
	err       error
	onPublish func(topic string, payload []byte, metadata map[string]string)
	closed    int
}

func (f *fakeConn) Publish(_ context.Context, topic string, payload []byte, metadata map[string]string) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.published = append(f.published, published{topic: topic, payload: payload, metadata: metadata})
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(topic, payload, metadata)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.published))
	copy(out, f.published)
	return out
}

type harness struct {
	registry *processors.Registry
	sink     *events.Collector
	conn     *fakeConn
	vu       *vu.Context
	logs     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: processors.NewRegistry(),
		sink:     events.NewCollector(),
		conn:     &fakeConn{},
		logs:     &bytes.Buffer{},
	}
	h.vu = vu.New("vu", 0, map[string]any{"room": "lobby"})
	h.vu.Conn = h.conn
	h.vu.ReplyTopic = "replies.vu"
	h.vu.Acks = correlation.New("vu", h.sink, nil)
	t.Cleanup(h.vu.Acks.Close)
	return h
}

func (h *harness) options() Options {
	return Options{Sink: h.sink, LogWriter: h.logs}
}

func (h *harness) run(t *testing.T, spec scenario.Spec) error {
	t.Helper()
	p, err := Compile(spec, h.registry, h.options())
	require.NoError(t, err)
	return p.Run(context.Background(), h.vu)
}

// respondWith answers every acknowledged publish with the given results.
func (h *harness) respondWith(results ...any) {
	h.conn.onPublish = func(_ string, payload []byte, _ map[string]string) {
		req, ok, err := correlation.DecodeRequest(payload)
		if err != nil || !ok {
			return
		}
		frame, err := correlation.EncodeResponse(req.ID, nil, results...)
		if err != nil {
			return
		}
		h.vu.Acks.HandleInbound("replies.vu", frame)
	}
}

// recordFunction registers a function that appends the current value of
// variable to the returned slice.
func (h *harness) recordFunction(t *testing.T, name, variable string) *[]any {
	t.Helper()
	var seen []any
	require.NoError(t, h.registry.RegisterFunction(name, func(_ context.Context, v *vu.Context, _ events.Sink) error {
		seen = append(seen, v.Vars[variable])
		return nil
	}))
	return &seen
}
