package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f3rmion/musig2/wire"
)

func TestSendAndReceive(t *testing.T) {
	tr := NewChanTransport()
	defer tr.Close()

	inbox := tr.Inbox("p1")
	payload := []byte{1, 2, 3}
	require.NoError(t, tr.Send(context.Background(), Envelope{
		From:    "coordinator",
		To:      "p1",
		Kind:    wire.KindSessionStart,
		Payload: payload,
		TraceID: "trace",
	}))
	payload[0] = 9

	select {
	case env := <-inbox:
		assert.Equal(t, "coordinator", env.From)
		assert.Equal(t, wire.KindSessionStart, env.Kind)
		assert.Equal(t, []byte{1, 2, 3}, env.Payload, "payload is copied on send")
		assert.Equal(t, "trace", env.TraceID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPreservesOrder(t *testing.T) {
	tr := NewChanTransport()
	defer tr.Close()
	inbox := tr.Inbox("p1")

	for i := byte(0); i < 10; i++ {
		require.NoError(t, tr.Send(context.Background(), Envelope{To: "p1", Payload: []byte{i}}))
	}
	for i := byte(0); i < 10; i++ {
		env := <-inbox
		assert.Equal(t, []byte{i}, env.Payload)
	}
}

func TestWithDuplicates(t *testing.T) {
	tr := NewChanTransport(WithDuplicates())
	defer tr.Close()
	inbox := tr.Inbox("p1")

	require.NoError(t, tr.Send(context.Background(), Envelope{To: "p1", Payload: []byte("x")}))
	assert.Len(t, inbox, 2)
}

func TestUnknownPeer(t *testing.T) {
	tr := NewChanTransport()
	defer tr.Close()

	err := tr.Send(context.Background(), Envelope{To: "nobody"})
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestSendHonoursContext(t *testing.T) {
	tr := NewChanTransport(WithBufferSize(1))
	defer tr.Close()
	tr.Inbox("p1")

	require.NoError(t, tr.Send(context.Background(), Envelope{To: "p1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, Envelope{To: "p1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	tr := NewChanTransport()
	inbox := tr.Inbox("p1")
	require.NoError(t, tr.Send(context.Background(), Envelope{To: "p1"}))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, ok := <-inbox
	assert.True(t, ok, "pending message survives close")
	_, ok = <-inbox
	assert.False(t, ok, "inbox is closed")

	assert.ErrorIs(t, tr.Send(context.Background(), Envelope{To: "p1"}), ErrClosed)

	late := tr.Inbox("p2")
	_, ok = <-late
	assert.False(t, ok, "inboxes created after close are closed")
}
