// Package responder answers request frames. It backs the echo example and
// the end to end tests: every "40|" frame received is handed to a Handler and
// the result is published as a "41|" frame to the topic named in the
// message's reply-to metadata.
package responder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/drblury/vuflow/internal/runtime/correlation"
	"github.com/drblury/vuflow/internal/runtime/logging"
	"github.com/drblury/vuflow/transport"
)

// Handler computes the error slot and the results for one request.
type Handler func(ctx context.Context, req correlation.Request) (errSlot any, results []any)

// Echo answers with the request params as the single result.
func Echo(_ context.Context, req correlation.Request) (any, []any) {
	return nil, []any{req.Params}
}

// Conn is the part of a transport client the responder uses.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error
	Subscribe(ctx context.Context, topic string) (<-chan transport.Inbound, error)
}

// Responder serves requests arriving on one or more topics.
type Responder struct {
	conn    Conn
	handler Handler
	logger  logging.ServiceLogger

	wg      sync.WaitGroup
	served  atomic.Int64
	dropped atomic.Int64
}

// New creates a responder. A nil handler means Echo.
func New(conn Conn, handler Handler, logger logging.ServiceLogger) *Responder {
	if handler == nil {
		handler = Echo
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &Responder{conn: conn, handler: handler, logger: logger}
}

// Listen subscribes to every topic before returning, then serves in the
// background until ctx ends or the subscriptions close.
func (r *Responder) Listen(ctx context.Context, topics ...string) error {
	feeds := make([]<-chan transport.Inbound, 0, len(topics))
	for _, topic := range topics {
		feed, err := r.conn.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		feeds = append(feeds, feed)
	}

	for _, feed := range feeds {
		feed := feed
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for in := range feed {
				r.serve(ctx, in)
			}
		}()
	}
	return nil
}

// Wait blocks until every subscription has ended.
func (r *Responder) Wait() {
	r.wg.Wait()
}

// Served returns the number of responses published.
func (r *Responder) Served() int64 { return r.served.Load() }

// Dropped returns the number of request frames that could not be answered.
func (r *Responder) Dropped() int64 { return r.dropped.Load() }

func (r *Responder) serve(ctx context.Context, in transport.Inbound) {
	req, ok, err := correlation.DecodeRequest(in.Payload)
	if !ok {
		return
	}
	if err != nil {
		r.dropped.Add(1)
		r.logger.Error("Dropping malformed request", err, logging.LogFields{"topic": in.Topic})
		return
	}

	replyTo := in.Metadata[correlation.MetadataReplyTo]
	if replyTo == "" {
		r.dropped.Add(1)
		r.logger.Info("Dropping request without reply topic", logging.LogFields{"topic": in.Topic, "id": req.ID})
		return
	}

	errSlot, results := r.handler(ctx, req)
	frame, err := correlation.EncodeResponse(req.ID, errSlot, results...)
	if err != nil {
		r.dropped.Add(1)
		r.logger.Error("Encoding response failed", err, logging.LogFields{"id": req.ID})
		return
	}
	if err := r.conn.Publish(ctx, replyTo, frame, nil); err != nil {
		r.dropped.Add(1)
		r.logger.Error("Publishing response failed", err, logging.LogFields{"id": req.ID, "reply_to": replyTo})
		return
	}
	r.served.Add(1)
	r.logger.Trace("Answered request", logging.LogFields{"id": req.ID, "method": req.Method})
}
