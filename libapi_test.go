package vuflow

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/vuflow/transport"
	"github.com/drblury/vuflow/transport/channel"
)

const roomsRun = `
config:
  pubSubSystem: channel
  target: libapi
  vus: 2
  ackTimeout: 1s
scenario:
  name: rooms
  flow:
    - publish:
        topic: rooms
        payload: {room: lobby}
        acknowledge:
          method: join
          match:
            json: $.room
            value: lobby
    - log: "{{ $vuId }} done"
`

func TestTransportNames(t *testing.T) {
	assert.Equal(t, []string{"aws", "channel", "kafka", "nats", "rabbitmq"}, TransportNames())
}

func TestRunDocumentWithEchoResponder(t *testing.T) {
	t.Cleanup(func() { _ = channel.Shutdown() })
	ctx := context.Background()

	doc, err := Parse([]byte(roomsRun))
	require.NoError(t, err)

	conn, err := transport.Dial(ctx, nil, &doc.Config, nil, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, NewResponder(conn, Echo, nil).Listen(ctx, "rooms"))

	recorder := NewRecorder()
	var out bytes.Buffer
	summary, err := RunDocument(ctx, doc, RunOptions{Sink: recorder, LogWriter: &out})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte(" done\n")))

	snap := recorder.Snapshot()
	assert.Equal(t, int64(2), snap.MatchesOK)
	assert.Equal(t, int64(2), snap.Latency.Count)
}

func TestRunDocumentRejectsBadScenario(t *testing.T) {
	doc, err := Parse([]byte(`
config:
  pubSubSystem: channel
scenario:
  flow:
    - loop:
        - think: 1
`))
	require.NoError(t, err)

	_, err = RunDocument(context.Background(), doc, RunOptions{})
	require.ErrorIs(t, err, ErrUnboundedLoop)
}

func TestRunDocumentNil(t *testing.T) {
	_, err := RunDocument(context.Background(), nil, RunOptions{})
	require.Error(t, err)
}
