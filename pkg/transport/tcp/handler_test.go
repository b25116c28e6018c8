package tcp_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/conduit/pkg/network"
	"github.com/HMasataka/conduit/pkg/transport/tcp"
)

// startEchoServer runs a TCP echo server on a random loopback port and
// returns its port
func startEchoServer(t *testing.T) uint16 {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						return
					}
					if _, err := conn.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return uint16(port)
}

func testConfig(port uint16) network.Config {
	cfg := network.DefaultConfig("127.0.0.1", port, network.ProtocolTCP)
	cfg.Timeout = 2 * time.Second
	cfg.ReconnectAutomatically = false
	return cfg
}

func TestConnectSendReceive(t *testing.T) {
	port := startEchoServer(t)

	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(port)))

	require.NoError(t, h.Connect(context.Background()))
	assert.Equal(t, network.StateConnected, h.State())

	require.NoError(t, h.Send(context.Background(), network.NewTextMessage("ping", "")))

	msg, err := h.Receive(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "ping", msg.Text())
	assert.NotEmpty(t, msg.Sender)

	require.NoError(t, h.Disconnect())
	assert.Equal(t, network.StateDisconnected, h.State())
}

func TestConnectWhileConnectedIsNoOp(t *testing.T) {
	port := startEchoServer(t)

	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(port)))
	require.NoError(t, h.Connect(context.Background()))

	require.NoError(t, h.Connect(context.Background()))
	assert.Equal(t, network.StateConnected, h.State())

	require.NoError(t, h.Disconnect())
}

func TestReceiveTimeoutReturnsNothing(t *testing.T) {
	port := startEchoServer(t)

	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(port)))
	require.NoError(t, h.Connect(context.Background()))
	defer h.Disconnect()

	msg, err := h.Receive(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, network.StateConnected, h.State())
}

func TestCallbacksSeeInboundData(t *testing.T) {
	port := startEchoServer(t)

	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(port)))
	require.NoError(t, h.Connect(context.Background()))
	defer h.Disconnect()

	received := make(chan string, 1)
	h.RegisterCallback(func(msg network.Message) { received <- msg.Text() })

	require.NoError(t, h.Send(context.Background(), network.NewTextMessage("fanout", "")))

	_, err := h.Receive(2 * time.Second)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "fanout", got)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestConnectFailure(t *testing.T) {
	// grab a port and close it again so nothing is listening there
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	listener.Close()
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(uint16(port))))

	require.Error(t, h.Connect(context.Background()))
	assert.Equal(t, network.StateError, h.State())

	last := h.LastError()
	require.NotNil(t, last)
	assert.Equal(t, network.CodeTransportFailure, last.Code)
}

func TestInitializeRejectsEmptyHost(t *testing.T) {
	h := tcp.NewHandler()

	err := h.Initialize(network.DefaultConfig("", 80, network.ProtocolTCP))
	require.Error(t, err)

	var netErr *network.Error
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, network.CodeInitializeFailed, netErr.Code)
}

func TestSendRequiresConnection(t *testing.T) {
	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(1)))

	err := h.Send(context.Background(), network.NewTextMessage("x", ""))
	require.Error(t, err)

	var netErr *network.Error
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, network.CodeNotConnected, netErr.Code)
}

func TestDisconnectUnblocksReceive(t *testing.T) {
	port := startEchoServer(t)

	h := tcp.NewHandler()
	require.NoError(t, h.Initialize(testConfig(port)))
	require.NoError(t, h.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Receive(5 * time.Second)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
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
