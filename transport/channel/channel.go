// Package channel provides an in-memory transport backed by watermill's
// gochannel. Every virtual user dialing the same target shares one broker, so
// an in-process responder can answer them.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/vuflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultBroker is the broker name used when the target is empty.
const DefaultBroker = "default"

// Factory allows overriding the broker creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

var (
	brokersMu sync.Mutex
	brokers   = map[string]*gochannel.GoChannel{}
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Broker returns the shared broker for name, creating it on first use.
func Broker(name string, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if name == "" {
		name = DefaultBroker
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	brokersMu.Lock()
	defer brokersMu.Unlock()

	if b, ok := brokers[name]; ok {
		return b
	}
	b := Factory(gochannel.Config{OutputChannelBuffer: 256}, logger)
	brokers[name] = b
	return b
}

// Shutdown closes every shared broker. Brokers requested afterwards are new.
func Shutdown() error {
	brokersMu.Lock()
	defer brokersMu.Unlock()

	var firstErr error
	for name, b := range brokers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(brokers, name)
	}
	return firstErr
}

// Build attaches to the broker named by the target. Closing the returned
// transport leaves the shared broker running; subscriptions end with the
// context they were opened with.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, onEvent transport.EventHandler) (transport.Transport, error) {
	b := Broker(cfg.GetTarget(), logger)
	return transport.Transport{
		Publisher:  b,
		Subscriber: b,
		Closer:     func() error { return nil },
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
