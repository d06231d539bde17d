// Package events is the sink every virtual user reports into. Sinks are
// shared by all virtual users of a run and must tolerate concurrent Emit calls.
package events

import (
	"sync"
	"time"
)

// Kind names an event.
type Kind string

const (
	KindStarted  Kind = "started"
	KindError    Kind = "error"
	KindCounter  Kind = "counter"
	KindRate     Kind = "rate"
	KindMatch    Kind = "match"
	KindResponse Kind = "response"
)

// Counter and rate names emitted by the engine.
const (
	CounterConnect           = "vuflow.connect"
	CounterConnectError      = "vuflow.connect.error"
	CounterReconnect         = "vuflow.reconnect"
	CounterTransportError    = "vuflow.transport.error"
	CounterCloseError        = "vuflow.close.error"
	CounterPublishSent       = "vuflow.publish.sent"
	CounterPublishError      = "vuflow.publish.error"
	CounterAckReceived       = "vuflow.ack.received"
	CounterAckTimeout        = "vuflow.ack.timeout"
	CounterAckUnmatched      = "vuflow.ack.unmatched"
	CounterAckMalformed      = "vuflow.ack.malformed"
	CounterProcessorNotFound = "vuflow.processor.not_found"
	CounterVUCompleted       = "vuflow.vu.completed"
	CounterVUFailed          = "vuflow.vu.failed"
	RatePublish              = "vuflow.publish_rate"
)

// MatchDetail describes one evaluated capture or match expression.
type MatchDetail struct {
	Expected   any    `json:"expected,omitempty"`
	Got        any    `json:"got,omitempty"`
	Expression string `json:"expression"`
}

// Event is a single emission. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind          `json:"kind"`
	Name       string        `json:"name,omitempty"`
	Message    string        `json:"message,omitempty"`
	Delta      int64         `json:"delta,omitempty"`
	Success    bool          `json:"success,omitempty"`
	Match      *MatchDetail  `json:"match,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	VUID       string        `json:"vuId,omitempty"`
	Time       time.Time     `json:"time"`
}

// Sink accepts events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Nop discards events.
var Nop Sink = SinkFunc(func(Event) {})

func Started(s Sink, vuID string) {
	s.Emit(Event{Kind: KindStarted, VUID: vuID, Time: time.Now()})
}

func Error(s Sink, vuID string, err error) {
	if err == nil {
		return
	}
	s.Emit(Event{Kind: KindError, Message: err.Error(), VUID: vuID, Time: time.Now()})
}

func Counter(s Sink, name string, delta int64) {
	s.Emit(Event{Kind: KindCounter, Name: name, Delta: delta, Time: time.Now()})
}

func Rate(s Sink, name string) {
	s.Emit(Event{Kind: KindRate, Name: name, Time: time.Now()})
}

func Match(s Sink, success bool, detail MatchDetail) {
	s.Emit(Event{Kind: KindMatch, Success: success, Match: &detail, Time: time.Now()})
}

func Response(s Sink, latency time.Duration, statusCode int, vuID string) {
	s.Emit(Event{Kind: KindResponse, Latency: latency, StatusCode: statusCode, VUID: vuID, Time: time.Now()})
}

// Multi fans every event out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	flat := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			flat = append(flat, s)
		}
	}
	return multiSink(flat)
}

type multiSink []Sink

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Collector keeps every event in memory. Tests use it to assert on emissions.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything emitted so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Of returns the events of one kind.
func (c *Collector) Of(kind Kind) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// CounterTotal sums the deltas of a named counter.
func (c *Collector) CounterTotal(name string) int64 {
	var total int64
	for _, ev := range c.Of(KindCounter) {
		if ev.Name == name {
			total += ev.Delta
		}
	}
	return total
}
