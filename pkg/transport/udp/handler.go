// Package udp provides the datagram protocol handler. One Send is one
// datagram; one Receive is one datagram. There is no reconnection policy
// because a connected UDP socket has nothing to re-establish.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/HMasataka/conduit/pkg/network"
)

const datagramBufferSize = 64 * 1024

// Handler is a protocol handler over a connected UDP socket
type Handler struct {
	network.BaseHandler

	mu        sync.Mutex
	conn      net.Conn
	closeChan chan struct{}
}

// NewHandler creates an unconnected UDP handler
func NewHandler() *Handler {
	return &Handler{}
}

// Factory returns a factory producing UDP handlers
func Factory() network.Factory {
	return func() network.Handler {
		return NewHandler()
	}
}

// Initialize implements network.Handler
func (h *Handler) Initialize(cfg network.Config) error {
	if cfg.Host == "" {
		err := network.NewError(network.CodeInitializeFailed, "Initialize", "host must not be empty")
		h.RecordError(err)
		return err
	}

	h.SetConfig(cfg)
	return nil
}

// Connect implements network.Handler
func (h *Handler) Connect(ctx context.Context) error {
	if h.State() == network.StateConnected {
		return nil
	}

	cfg := h.Config()
	h.SetState(network.StateConnecting)

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)))
	if err != nil {
		netErr := network.WrapError(err, network.CodeTransportFailure, "Connect",
			fmt.Sprintf("failed to open udp socket to %s:%d", cfg.Host, cfg.Port))
		h.RecordError(netErr)
		h.SetState(network.StateError)
		return netErr
	}

	h.mu.Lock()
	h.conn = conn
	h.closeChan = make(chan struct{})
	h.mu.Unlock()

	h.SetState(network.StateConnected)
	return nil
}

// Disconnect implements network.Handler
func (h *Handler) Disconnect() error {
	state := h.State()
	if state == network.StateDisconnected || state == network.StateDisconnecting {
		return nil
	}

	h.SetState(network.StateDisconnecting)

	h.mu.Lock()
	if h.closeChan != nil {
		close(h.closeChan)
		h.closeChan = nil
	}
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
	h.mu.Unlock()

	h.SetState(network.StateDisconnected)
	return nil
}

// Send implements network.Handler
func (h *Handler) Send(ctx context.Context, msg network.Message) error {
	conn, _, err := h.socket("Send")
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}

	if _, err := conn.Write(msg.Data); err != nil {
		netErr := network.WrapError(err, network.CodeTransportFailure, "Send", "write failed")
		h.RecordError(netErr)
		return netErr
	}

	return nil
}

// Receive implements network.Handler
func (h *Handler) Receive(timeout time.Duration) (*network.Message, error) {
	conn, closeChan, err := h.socket("Receive")
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, datagramBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}

		select {
		case <-closeChan:
			closeErr := network.NewError(network.CodeConnectionClosing, "Receive", "connection closing")
			h.RecordError(closeErr)
			return nil, closeErr
		default:
		}

		recvErr := network.WrapError(err, network.CodeReceiveFailed, "Receive", "read failed")
		h.RecordError(recvErr)
		return nil, recvErr
	}

	msg := network.NewMessage(buf[:n], "")
	msg.Sender = conn.RemoteAddr().String()

	h.Dispatch(msg)
	return &msg, nil
}

func (h *Handler) socket(source string) (net.Conn, chan struct{}, error) {
	h.mu.Lock()
	conn := h.conn
	closeChan := h.closeChan
	h.mu.Unlock()

	if h.State() != network.StateConnected || conn == nil {
		err := network.NewError(network.CodeNotConnected, source, "not connected")
		h.RecordError(err)
		return nil, nil, err
	}

	return conn, closeChan, nil
}
