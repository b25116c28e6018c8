package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/conduit/pkg/network"
	"github.com/HMasataka/conduit/pkg/transport/memory"
)

func connected(t *testing.T, opts ...memory.Option) *memory.Handler {
	t.Helper()

	h := memory.NewHandler(opts...)
	require.NoError(t, h.Initialize(network.DefaultConfig("loopback", 0, network.ProtocolCustom)))
	require.NoError(t, h.Connect(context.Background()))
	return h
}

func TestHandlerLifecycle(t *testing.T) {
	h := memory.NewHandler()
	assert.Equal(t, network.StateDisconnected, h.State())

	require.NoError(t, h.Initialize(network.DefaultConfig("loopback", 0, network.ProtocolCustom)))
	assert.Equal(t, network.StateDisconnected, h.State())

	require.NoError(t, h.Connect(context.Background()))
	assert.Equal(t, network.StateConnected, h.State())

	// connect while connected is a no-op success
	require.NoError(t, h.Connect(context.Background()))
	assert.Equal(t, network.StateConnected, h.State())

	require.NoError(t, h.Disconnect())
	assert.Equal(t, network.StateDisconnected, h.State())

	// disconnect when already disconnected is safe
	require.NoError(t, h.Disconnect())
	assert.Equal(t, network.StateDisconnected, h.State())
}

func TestInitializeFailure(t *testing.T) {
	cause := errors.New("bad setup")
	h := memory.NewHandler(memory.WithInitializeError(cause))

	err := h.Initialize(network.DefaultConfig("loopback", 0, network.ProtocolCustom))
	require.Error(t, err)
	assert.Equal(t, network.StateDisconnected, h.State())

	last := h.LastError()
	require.NotNil(t, last)
	assert.Equal(t, network.CodeInitializeFailed, last.Code)
	assert.ErrorIs(t, last, cause)
}

func TestConnectFailure(t *testing.T) {
	h := memory.NewHandler(memory.WithConnectError(errors.New("refused")))
	require.NoError(t, h.Initialize(network.DefaultConfig("loopback", 0, network.ProtocolCustom)))

	err := h.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, network.StateError, h.State())
	require.NotNil(t, h.LastError())
}

func TestSendRequiresConnection(t *testing.T) {
	h := memory.NewHandler()
	require.NoError(t, h.Initialize(network.DefaultConfig("loopback", 0, network.ProtocolCustom)))

	err := h.Send(context.Background(), network.NewTextMessage("x", ""))
	require.Error(t, err)

	var netErr *network.Error
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, network.CodeNotConnected, netErr.Code)
}

func TestEchoRoundTrip(t *testing.T) {
	h := connected(t)

	require.NoError(t, h.Send(context.Background(), network.NewTextMessage("ping", "topic")))

	msg, err := h.Receive(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "ping", msg.Text())
	assert.Equal(t, "topic", msg.Topic)
}

func TestReceiveTimeout(t *testing.T) {
	h := connected(t)

	msg, err := h.Receive(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestResponder(t *testing.T) {
	h := connected(t, memory.WithResponder(func(msg network.Message) *network.Message {
		reply := network.NewTextMessage("pong:"+msg.Text(), "")
		return &reply
	}))

	require.NoError(t, h.Send(context.Background(), network.NewTextMessage("ping", "")))

	msg, err := h.Receive(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "pong:ping", msg.Text())
}

func TestInjectDispatchesToCallbacks(t *testing.T) {
	h := connected(t)

	received := make(chan network.Message, 1)
	h.RegisterCallback(func(msg network.Message) { received <- msg })

	h.Inject(network.NewTextMessage("inbound", ""))

	select {
	case msg := <-received:
		assert.Equal(t, "inbound", msg.Text())
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}

	// the queued copy is still delivered through Receive
	msg, err := h.Receive(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "inbound", msg.Text())
}

func TestDisconnectUnblocksReceive(t *testing.T) {
	h := connected(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Receive(5 * time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Disconnect())

	select {
	case err := <-errCh:
		var netErr *network.Error
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, network.CodeConnectionClosing, netErr.Code)
	case <-time.After(time.Second):
		t.Fatal("receive did not observe the close")
	}
}
