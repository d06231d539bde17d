// Package transport provides the pluggable pub/sub layer virtual users connect
// through. Each transport package registers a Builder under the name used in
// the pubSubSystem configuration key.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport bundles the watermill publisher and subscriber one virtual user
// talks through.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Closer, when set, replaces closing Publisher and Subscriber
	// individually. Transports that share one connection use it.
	Closer func() error
}

// Config supplies the per-user connection settings. Values are already
// rendered for the virtual user when a Builder sees them.
type Config interface {
	GetPubSubSystem() string
	GetTarget() string
	GetUsername() string
	GetPassword() string
	GetToken() string
	GetClientID() string
	GetKafkaConsumerGroup() string
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSEndpoint() string
}

// EventKind classifies asynchronous connection events.
type EventKind string

const (
	EventReconnect  EventKind = "reconnect"
	EventDisconnect EventKind = "disconnect"
	EventError      EventKind = "error"
)

// Event is reported by a transport outside of any publish call.
type Event struct {
	Kind   EventKind
	Err    error
	Detail string
}

// EventHandler receives connection events. It may be called from transport
// goroutines and must not block.
type EventHandler func(Event)

func (h EventHandler) Emit(ev Event) {
	if h != nil {
		h(ev)
	}
}

// Builder creates a transport from configuration.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter, onEvent EventHandler) (Transport, error)
