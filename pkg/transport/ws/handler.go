// Package ws provides the WebSocket protocol handler on top of
// gorilla/websocket. A background read pump feeds a buffered inbound queue
// and the callback fan-out; Receive drains the queue.
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HMasataka/conduit/pkg/network"
)

const defaultQueueSize = 256

// Handler is a protocol handler over one WebSocket connection
type Handler struct {
	network.BaseHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	queue     chan network.Message
	closeChan chan struct{}

	// gorilla permits a single concurrent writer
	writeMu sync.Mutex

	wg sync.WaitGroup
}

// NewHandler creates an unconnected WebSocket handler
func NewHandler() *Handler {
	return &Handler{}
}

// Factory returns a factory producing WebSocket handlers
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

// Connect implements network.Handler. The endpoint path comes from the
// "path" entry of the config params (default "/"); setting "secure" to
// "true" dials wss with the config's TLS settings. An auth token is sent as
// a bearer Authorization header.
func (h *Handler) Connect(ctx context.Context) error {
	if h.State() == network.StateConnected {
		return nil
	}

	cfg := h.Config()
	h.SetState(network.StateConnecting)

	scheme := "ws"
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.Timeout,
	}
	if cfg.Params["secure"] == "true" {
		scheme = "wss"
		dialer.TLSClientConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: !cfg.VerifyPeer,
		}
	}

	path := cfg.Params["path"]
	if path == "" {
		path = "/"
	}

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	url := fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, path)
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		netErr := network.WrapError(err, network.CodeTransportFailure, "Connect",
			fmt.Sprintf("failed to dial %s", url))
		h.RecordError(netErr)
		h.SetState(network.StateError)
		return netErr
	}

	h.mu.Lock()
	h.conn = conn
	h.queue = make(chan network.Message, defaultQueueSize)
	h.closeChan = make(chan struct{})
	h.mu.Unlock()

	h.SetState(network.StateConnected)

	h.wg.Add(1)
	go h.readPump(conn)

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
	conn := h.conn
	if h.closeChan != nil {
		close(h.closeChan)
		h.closeChan = nil
	}
	h.conn = nil
	h.mu.Unlock()

	if conn != nil {
		h.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		h.writeMu.Unlock()
		conn.Close()
	}

	h.wg.Wait()
	h.SetState(network.StateDisconnected)
	return nil
}

// Send implements network.Handler. Payloads are sent as binary frames.
func (h *Handler) Send(ctx context.Context, msg network.Message) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if h.State() != network.StateConnected || conn == nil {
		err := network.NewError(network.CodeNotConnected, "Send", "not connected")
		h.RecordError(err)
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else if timeout := h.Config().Timeout; timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, msg.Data); err != nil {
		netErr := network.WrapError(err, network.CodeTransportFailure, "Send", "write failed")
		h.RecordError(netErr)
		return netErr
	}

	return nil
}

// Receive implements network.Handler. Messages arrive through the read
// pump; Receive only waits on the queue.
func (h *Handler) Receive(timeout time.Duration) (*network.Message, error) {
	h.mu.Lock()
	queue := h.queue
	closeChan := h.closeChan
	h.mu.Unlock()

	if h.State() != network.StateConnected || queue == nil {
		err := network.NewError(network.CodeNotConnected, "Receive", "not connected")
		h.RecordError(err)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-queue:
		if !ok {
			err := network.NewError(network.CodeReceiveFailed, "Receive", "read pump stopped")
			h.RecordError(err)
			return nil, err
		}
		return &msg, nil
	case <-closeChan:
		err := network.NewError(network.CodeConnectionClosing, "Receive", "connection closing")
		h.RecordError(err)
		return nil, err
	case <-timer.C:
		return nil, nil
	}
}

// readPump pumps frames from the connection into the inbound queue and the
// callback fan-out until the connection goes away
func (h *Handler) readPump(conn *websocket.Conn) {
	defer h.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.State() == network.StateConnected {
				netErr := network.WrapError(err, network.CodeReceiveFailed, "Receive", "read failed")
				h.RecordError(netErr)
			}

			h.mu.Lock()
			if h.queue != nil {
				close(h.queue)
				h.queue = nil
			}
			h.mu.Unlock()
			return
		}

		msg := network.NewMessage(data, "")
		msg.Sender = conn.RemoteAddr().String()

		h.mu.Lock()
		queue := h.queue
		h.mu.Unlock()

		if queue != nil {
			select {
			case queue <- msg:
			default:
			}
		}

		h.Dispatch(msg)
	}
}
