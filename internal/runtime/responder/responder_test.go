package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/vuflow/internal/runtime/correlation"
	"github.com/drblury/vuflow/transport"
)

type fakeConn struct {
	feed      chan transport.Inbound
	published chan transport.Inbound
	err       error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		feed:      make(chan transport.Inbound, 4),
		published: make(chan transport.Inbound, 4),
	}
}

func (f *fakeConn) Publish(_ context.Context, topic string, payload []byte, metadata map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.published <- transport.Inbound{Topic: topic, Payload: payload, Metadata: metadata}
	return nil
}

func (f *fakeConn) Subscribe(context.Context, string) (<-chan transport.Inbound, error) {
	return f.feed, nil
}

func request(t *testing.T, id string, params any, replyTo string) transport.Inbound {
	t.Helper()
	frame, err := correlation.EncodeRequest(id, "join", params)
	require.NoError(t, err)
	md := map[string]string{}
	if replyTo != "" {
		md[correlation.MetadataReplyTo] = replyTo
	}
	return transport.Inbound{Topic: "rooms", Payload: frame, Metadata: md}
}

func TestResponder_EchoesParams(t *testing.T) {
	conn := newFakeConn()
	r := New(conn, nil, nil)
	require.NoError(t, r.Listen(context.Background(), "rooms"))

	conn.feed <- request(t, "vu.1", map[string]any{"room": "lobby"}, "replies.vu")

	select {
	case out := <-conn.published:
		assert.Equal(t, "replies.vu", out.Topic)
		resp, ok, err := correlation.DecodeResponse(out.Payload)
		require.True(t, ok)
		require.NoError(t, err)
		assert.Equal(t, "vu.1", resp.ID)
		assert.Nil(t, resp.Err)
		assert.Equal(t, map[string]any{"room": "lobby"}, resp.Body())
	case <-time.After(time.Second):
		t.Fatal("no response published")
	}

	close(conn.feed)
	r.Wait()
	assert.Equal(t, int64(1), r.Served())
}

func TestResponder_CustomHandlerRejects(t *testing.T) {
	conn := newFakeConn()
	r := New(conn, func(_ context.Context, req correlation.Request) (any, []any) {
		return "room full", nil
	}, nil)
	require.NoError(t, r.Listen(context.Background(), "rooms"))

	conn.feed <- request(t, "vu.2", nil, "replies.vu")
	out := <-conn.published

	resp, _, err := correlation.DecodeResponse(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, "room full", resp.Err)
	close(conn.feed)
	r.Wait()
}

func TestResponder_Drops(t *testing.T) {
	conn := newFakeConn()
	r := New(conn, nil, nil)
	require.NoError(t, r.Listen(context.Background(), "rooms"))

	conn.feed <- request(t, "vu.3", nil, "")
	conn.feed <- transport.Inbound{Payload: []byte(`40|{not json`)}
	conn.feed <- transport.Inbound{Payload: []byte(`plain payload`)}
	close(conn.feed)
	r.Wait()

	assert.Equal(t, int64(2), r.Dropped())
	assert.Zero(t, r.Served())
	assert.Empty(t, conn.published)
}

func TestResponder_PublishFailure(t *testing.T) {
	conn := newFakeConn()
	conn.err = errors.New("broker down")
	r := New(conn, nil, nil)
	require.NoError(t, r.Listen(context.Background(), "rooms"))

	conn.feed <- request(t, "vu.4", nil, "replies.vu")
	close(conn.feed)
	r.Wait()

	assert.Equal(t, int64(1), r.Dropped())
}
