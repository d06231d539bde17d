// Package rabbitmq provides a RabbitMQ/AMQP transport. Every virtual user
// binds its own non-durable queue to the topic exchange, so fan-out replies
// reach each user.
package rabbitmq

import (
	"context"
	"errors"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/vuflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// CloseConnection allows overriding the connection teardown for testing.
var CloseConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport sharing one connection between the
// publisher and the subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, onEvent transport.EventHandler) (transport.Transport, error) {
	uri, err := URI(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	amqpConfig := amqp.NewNonDurablePubSubConfig(
		uri,
		amqp.GenerateQueueNameTopicNameWithSuffix(QueueSuffix(cfg)),
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   uri,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, CloseConnection(conn))
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close(), CloseConnection(conn))
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Closer: func() error {
			return errors.Join(publisher.Close(), subscriber.Close(), CloseConnection(conn))
		},
	}, nil
}

// URI returns the target with the rendered username and password applied.
// Credentials already present in the target are kept when no username is set.
func URI(cfg transport.Config) (string, error) {
	target := cfg.GetTarget()
	user := cfg.GetUsername()
	if user == "" {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(user, cfg.GetPassword())
	return u.String(), nil
}

// QueueSuffix is the client id, or a short random id when none is set.
func QueueSuffix(cfg transport.Config) string {
	if id := cfg.GetClientID(); id != "" {
		return id
	}
	return watermill.NewShortUUID()
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
