// Package correlation matches acknowledge responses to the requests that
// asked for them. Each pending request is settled exactly once, either by the
// first matching response or by its timeout, whichever gets there first.
package correlation

import (
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/ids"
	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
	"github.com/drblury/vuflow/internal/runtime/logging"
)

// Result is handed to the settle callback of a matched request.
type Result struct {
	ID       string
	Method   string
	Body     any
	Raw      string
	Captures map[string]any
	Latency  time.Duration
}

// SettleFunc receives the outcome of a pending request. It is called exactly
// once per registration, never while the engine lock is held.
type SettleFunc func(Result, error)

type pending struct {
	id           string
	method       string
	registeredAt time.Time
	timeout      time.Duration
	timer        *time.Timer
	expect       Expectation
	onSettle     SettleFunc
	executed     bool
}

// maxSettled bounds how many settled ids from outside the engine's own
// sequence are remembered for late-frame detection. Sequence ids are
// recognised without bookkeeping.
const maxSettled = 1024

// Engine is owned by one virtual user.
type Engine struct {
	mu           sync.Mutex
	pending      map[string]*pending
	settled      map[string]struct{}
	settledOrder []string
	closed       bool

	seq    *ids.Sequence
	vuID   string
	sink   events.Sink
	logger logging.ServiceLogger
}

// New creates an engine whose ids are scoped to vuID.
func New(vuID string, sink events.Sink, logger logging.ServiceLogger) *Engine {
	if sink == nil {
		sink = events.Nop
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &Engine{
		pending: make(map[string]*pending),
		settled: make(map[string]struct{}),
		seq:     ids.NewSequence(vuID),
		vuID:    vuID,
		sink:    sink,
		logger:  logger.With(logging.LogFields{"component": "correlation"}),
	}
}

// NextID returns a fresh correlation id of the form "<vuID>.<n>".
func (e *Engine) NextID() string {
	return e.seq.Next()
}

// Register stores a pending request and arms its timeout.
func (e *Engine) Register(id, method string, timeout time.Duration, expect Expectation, onSettle SettleFunc) error {
	if onSettle == nil {
		return fmt.Errorf("vuflow: register %q: settle callback is required", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errspkg.ErrEngineClosed
	}
	if _, exists := e.pending[id]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateID, id)
	}

	p := &pending{
		id:           id,
		method:       method,
		registeredAt: time.Now(),
		timeout:      timeout,
		expect:       expect,
		onSettle:     onSettle,
	}
	delete(e.settled, id)
	e.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() { e.expire(p) })
	return nil
}

// claim removes p from the pending map if it is still unsettled. Only the
// caller that gets true may settle it.
func (e *Engine) claim(p *pending) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.executed || e.pending[p.id] != p {
		return false
	}
	p.executed = true
	delete(e.pending, p.id)
	e.markSettled(p.id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

func (e *Engine) expire(p *pending) {
	if !e.claim(p) {
		return
	}
	events.Counter(e.sink, events.CounterAckTimeout, 1)
	p.onSettle(Result{ID: p.id, Method: p.method}, errspkg.AcknowledgeTimeoutError{
		ID:      p.id,
		Method:  p.method,
		Timeout: p.timeout.String(),
	})
}

// HandleInbound routes one inbound payload. Frames without the responder
// marker are ignored. Malformed frames and responses for unknown ids are
// reported to the sink and dropped; a late response for an id that already
// settled, or that arrives after Close, is dropped silently.
func (e *Engine) HandleInbound(topic string, raw []byte) {
	resp, ok, err := DecodeResponse(raw)
	if !ok {
		return
	}
	if err != nil {
		events.Counter(e.sink, events.CounterAckMalformed, 1)
		events.Error(e.sink, e.vuID, err)
		e.logger.Debug("Dropping malformed acknowledge", logging.LogFields{"topic": topic, "error": err.Error()})
		return
	}

	e.mu.Lock()
	p := e.pending[resp.ID]
	_, late := e.settled[resp.ID]
	late = late || e.seq.Issued(resp.ID)
	closed := e.closed
	e.mu.Unlock()

	if p == nil {
		if late || closed {
			return
		}
		events.Counter(e.sink, events.CounterAckUnmatched, 1)
		events.Error(e.sink, e.vuID, fmt.Errorf("%w: id %s", errspkg.ErrUnmatchedResponse, resp.ID))
		e.logger.Debug("Dropping unmatched acknowledge", logging.LogFields{"topic": topic, "id": resp.ID})
		return
	}
	if !e.claim(p) {
		return
	}
	e.settle(p, resp)
}

func (e *Engine) settle(p *pending, resp Response) {
	latency := time.Since(p.registeredAt)
	result := Result{ID: p.id, Method: p.method, Latency: latency}
	events.Counter(e.sink, events.CounterAckReceived, 1)

	if resp.Err != nil {
		events.Response(e.sink, latency, 1, e.vuID)
		p.onSettle(result, errspkg.AckRejectedError{Method: p.method, Reason: resp.Err})
		return
	}

	result.Body = resp.Body()
	raw, err := jsoncodec.MarshalString(result.Body)
	if err != nil {
		p.onSettle(result, fmt.Errorf("serialize acknowledge body: %w", err))
		return
	}
	result.Raw = raw

	captures, err := Validate(result.Body, p.expect, e.sink)
	if err != nil {
		events.Response(e.sink, latency, 1, e.vuID)
		p.onSettle(result, err)
		return
	}
	result.Captures = captures
	events.Response(e.sink, latency, 0, e.vuID)
	p.onSettle(result, nil)
}

// Forget drops a pending request without settling it. It reports whether
// the id was still pending.
func (e *Engine) Forget(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[id]
	if !ok {
		return false
	}
	p.executed = true
	delete(e.pending, id)
	e.markSettled(id)
	p.timer.Stop()
	return true
}

// Len returns the number of pending requests.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close stops every timer and drops pending requests without settling them.
// Later registrations fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, p := range e.pending {
		p.executed = true
		p.timer.Stop()
		delete(e.pending, id)
	}
	e.settled = make(map[string]struct{})
	e.settledOrder = nil
	e.closed = true
}

// markSettled remembers a foreign id so a late response for it stays silent.
// The oldest ids are evicted past maxSettled. Callers hold e.mu.
func (e *Engine) markSettled(id string) {
	if e.seq.Issued(id) {
		return
	}
	if _, ok := e.settled[id]; ok {
		return
	}
	if len(e.settledOrder) >= maxSettled {
		delete(e.settled, e.settledOrder[0])
		e.settledOrder = e.settledOrder[1:]
	}
	e.settled[id] = struct{}{}
	e.settledOrder = append(e.settledOrder, id)
}
