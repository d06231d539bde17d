// Package nats provides a NATS Core transport. Credentials come from the
// rendered auth block and connection state changes are reported as
// transport events.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/vuflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport with JetStream disabled.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, onEvent transport.EventHandler) (transport.Transport, error) {
	url := cfg.GetTarget()
	opts := Options(cfg, onEvent)
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: opts,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: opts,
			Unmarshaler: marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Options maps the rendered auth fields onto connection options and wires
// the connection callbacks to onEvent.
func Options(cfg transport.Config, onEvent transport.EventHandler) []natsgo.Option {
	var opts []natsgo.Option
	if id := cfg.GetClientID(); id != "" {
		opts = append(opts, natsgo.Name(id))
	}
	if user := cfg.GetUsername(); user != "" {
		opts = append(opts, natsgo.UserInfo(user, cfg.GetPassword()))
	}
	if token := cfg.GetToken(); token != "" {
		opts = append(opts, natsgo.Token(token))
	}

	return append(opts,
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			onEvent.Emit(transport.Event{Kind: transport.EventReconnect, Detail: connectedURL(nc)})
		}),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			onEvent.Emit(transport.Event{Kind: transport.EventDisconnect, Err: err, Detail: connectedURL(nc)})
		}),
		natsgo.ErrorHandler(func(nc *natsgo.Conn, sub *natsgo.Subscription, err error) {
			detail := connectedURL(nc)
			if sub != nil {
				detail = sub.Subject
			}
			onEvent.Emit(transport.Event{Kind: transport.EventError, Err: err, Detail: detail})
		}),
	)
}

func connectedURL(nc *natsgo.Conn) string {
	if nc == nil {
		return ""
	}
	return nc.ConnectedUrl()
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
