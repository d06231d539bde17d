// Package kafka provides a Kafka transport. The target carries a
// comma-separated broker list; auth fields map onto SASL.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/vuflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, onEvent transport.EventHandler) (transport.Transport, error) {
	brokers := Brokers(cfg.GetTarget())

	pubSarama := kafka.DefaultSaramaSyncPublisherConfig()
	ApplyAuth(pubSarama, cfg)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubSarama,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subSarama := kafka.DefaultSaramaSubscriberConfig()
	ApplyAuth(subSarama, cfg)

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subSarama,
			ConsumerGroup:         ConsumerGroup(cfg),
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

// Brokers splits a target such as "kafka://a:9092,b:9092".
func Brokers(target string) []string {
	target = strings.TrimPrefix(target, "kafka://")
	var brokers []string
	for _, b := range strings.Split(target, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ConsumerGroup suffixes the configured group with the client id so each
// virtual user consumes its own copy of every reply.
func ConsumerGroup(cfg transport.Config) string {
	group := cfg.GetKafkaConsumerGroup()
	if group == "" {
		return ""
	}
	if id := cfg.GetClientID(); id != "" {
		return group + "-" + id
	}
	return group
}

// ApplyAuth sets the client id and SASL credentials. A token selects
// OAUTHBEARER, a username selects PLAIN.
func ApplyAuth(sc *sarama.Config, cfg transport.Config) {
	if id := cfg.GetClientID(); id != "" {
		sc.ClientID = id
	}

	switch {
	case cfg.GetToken() != "":
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		sc.Net.SASL.TokenProvider = staticToken(cfg.GetToken())
	case cfg.GetUsername() != "":
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = cfg.GetUsername()
		sc.Net.SASL.Password = cfg.GetPassword()
	}
}

type staticToken string

func (t staticToken) Token() (*sarama.AccessToken, error) {
	return &sarama.AccessToken{Token: string(t)}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
