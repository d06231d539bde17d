// Package transporttest provides helpers for testing transport builders.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/vuflow/transport"
)

// Config is a plain transport.Config for builder tests.
type Config struct {
	PubSubSystem       string
	Target             string
	Username           string
	Password           string
	Token              string
	ClientID           string
	KafkaConsumerGroup string
	AWSRegion          string
	AWSAccountID       string
	AWSEndpoint        string
}

var _ transport.Config = (*Config)(nil)

func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetTarget() string             { return c.Target }
func (c *Config) GetUsername() string           { return c.Username }
func (c *Config) GetPassword() string           { return c.Password }
func (c *Config) GetToken() string              { return c.Token }
func (c *Config) GetClientID() string           { return c.ClientID }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher counts Close calls and discards messages.
type Publisher struct {
	mu     sync.Mutex
	Closed int
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error { return nil }

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Subscriber counts Close calls and returns closed channels.
type Subscriber struct {
	mu     sync.Mutex
	Closed int
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}
