// Package tcp provides the stream protocol handler used for the tcp, http
// and https protocol slots. TLS material comes from the connection config;
// reconnection on dial failure is owned here, per the config's policy, and
// never by the manager.
package tcp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/HMasataka/conduit/pkg/network"
)

const readBufferSize = 64 * 1024

// Handler is a protocol handler over a single TCP (optionally TLS) stream
type Handler struct {
	network.BaseHandler

	mu        sync.Mutex
	conn      net.Conn
	closeChan chan struct{}
}

// NewHandler creates an unconnected TCP handler
func NewHandler() *Handler {
	return &Handler{}
}

// Factory returns a factory producing TCP handlers
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

// Connect implements network.Handler. Dial failures are retried per the
// config's reconnect policy before the handler gives up and enters the
// error state.
func (h *Handler) Connect(ctx context.Context) error {
	if h.State() == network.StateConnected {
		return nil
	}

	cfg := h.Config()
	h.SetState(network.StateConnecting)

	attempts := 1
	if cfg.ReconnectAutomatically && cfg.MaxReconnectAttempts > 0 {
		attempts += cfg.MaxReconnectAttempts
	}

	var lastErr error
dial:
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.ReconnectDelay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break dial
			}
		}

		conn, err := h.dial(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		h.mu.Lock()
		h.conn = conn
		h.closeChan = make(chan struct{})
		h.mu.Unlock()

		h.SetState(network.StateConnected)
		return nil
	}

	netErr := network.WrapError(lastErr, network.CodeTransportFailure, "Connect",
		fmt.Sprintf("failed to connect to %s:%d", cfg.Host, cfg.Port))
	h.RecordError(netErr)
	h.SetState(network.StateError)
	return netErr
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
	conn, _, err := h.stream("Send")
	if err != nil {
		return err
	}

	cfg := h.Config()
	if cfg.Timeout > 0 {
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetWriteDeadline(deadline)
		} else {
			conn.SetWriteDeadline(time.Now().Add(cfg.Timeout))
		}
	}

	if _, err := conn.Write(msg.Data); err != nil {
		netErr := network.WrapError(err, network.CodeTransportFailure, "Send", "write failed")
		h.RecordError(netErr)
		return netErr
	}

	return nil
}

// Receive implements network.Handler. It reads whatever the peer has sent,
// up to one buffer's worth, and fans the message out to the registered
// callbacks before returning it.
func (h *Handler) Receive(timeout time.Duration) (*network.Message, error) {
	conn, closeChan, err := h.stream("Receive")
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, readBufferSize)
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

// stream returns the live connection or a not-connected error
func (h *Handler) stream(source string) (net.Conn, chan struct{}, error) {
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

func (h *Handler) dial(ctx context.Context, cfg network.Config) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.Timeout}

	if cfg.Protocol != network.ProtocolHTTPS {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}

// tlsConfig builds a tls.Config from the connection config's certificate
// material
func tlsConfig(cfg network.Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.VerifyPeer,
	}

	if cfg.CertificatePath != "" && cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertPath)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
