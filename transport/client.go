package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrClientClosed is returned by Publish and Subscribe after Close.
var ErrClientClosed = errors.New("transport: client is closed")

// Inbound is one message received on a subscribed topic.
type Inbound struct {
	Topic    string
	Payload  []byte
	Metadata map[string]string
}

// Client is the connection of one virtual user. It is safe for concurrent use.
type Client struct {
	name   string
	caps   Capabilities
	pub    message.Publisher
	sub    message.Subscriber
	closer func() error

	logger  watermill.LoggerAdapter
	onEvent EventHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial builds the transport named by cfg.GetPubSubSystem. A nil registry
// means DefaultRegistry. Subscriptions outlive ctx and end on Close.
func Dial(ctx context.Context, reg *Registry, cfg Config, logger watermill.LoggerAdapter, onEvent EventHandler) (*Client, error) {
	if reg == nil {
		reg = DefaultRegistry
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	t, err := reg.Build(ctx, cfg, logger, onEvent)
	if err != nil {
		return nil, err
	}
	if t.Publisher == nil || t.Subscriber == nil {
		closeTransport(t)
		return nil, fmt.Errorf("transport %q returned no publisher or subscriber", cfg.GetPubSubSystem())
	}

	name := cfg.GetPubSubSystem()
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Client{
		name:    name,
		caps:    reg.GetCapabilities(name),
		pub:     t.Publisher,
		sub:     t.Subscriber,
		closer:  t.Closer,
		logger:  logger.With(watermill.LogFields{"transport": name}),
		onEvent: onEvent,
		ctx:     cctx,
		cancel:  cancel,
	}, nil
}

// Name returns the registered transport name.
func (c *Client) Name() string { return c.name }

// Capabilities returns what the underlying transport supports.
func (c *Client) Capabilities() Capabilities { return c.caps }

// Publish sends payload to topic with metadata copied onto the message.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := c.caps.CheckSize(len(payload)); err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	msg.SetContext(ctx)

	return c.pub.Publish(topic, msg)
}

// Subscribe delivers messages on topic until ctx ends or the client closes.
// Messages are acked once handed to the channel. The channel is closed when
// delivery stops.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan Inbound, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	source, err := c.sub.Subscribe(c.ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", topic, err)
	}

	out := make(chan Inbound, 64)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		c.forward(ctx, topic, source, out)
	}()
	return out, nil
}

func (c *Client) forward(ctx context.Context, topic string, source <-chan *message.Message, out chan<- Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case msg, ok := <-source:
			if !ok {
				if !c.closed.Load() {
					c.logger.Info("Subscription ended", watermill.LogFields{"topic": topic})
					c.onEvent.Emit(Event{Kind: EventDisconnect, Detail: topic})
				}
				return
			}

			in := Inbound{
				Topic:    topic,
				Payload:  msg.Payload,
				Metadata: maps.Clone(map[string]string(msg.Metadata)),
			}
			select {
			case out <- in:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			case <-c.ctx.Done():
				msg.Nack()
				return
			}
		}
	}
}

// Close stops all subscriptions and releases the transport. Only the first
// call does work; later calls return the same result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.closeErr = closeTransport(Transport{Publisher: c.pub, Subscriber: c.sub, Closer: c.closer})
		c.wg.Wait()
	})
	return c.closeErr
}

func closeTransport(t Transport) error {
	if t.Closer != nil {
		return t.Closer()
	}
	var errs []error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}
