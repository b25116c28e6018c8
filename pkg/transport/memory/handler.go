// Package memory provides an in-process loopback protocol handler. It
// implements the full handler contract without touching the network, which
// makes it the default choice for the custom protocol slot and for tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/conduit/pkg/network"
)

// Responder produces a scripted reply for an outbound message. Returning nil
// suppresses the reply.
type Responder func(msg network.Message) *network.Message

// Handler is a loopback handler: by default every sent message is queued
// back as the next inbound message. A Responder replaces the echo with a
// scripted reply.
type Handler struct {
	network.BaseHandler

	mu        sync.Mutex
	queue     chan network.Message
	closeChan chan struct{}

	responder  Responder
	queueSize  int
	initErr    error
	connectErr error
}

// Option configures a Handler
type Option func(*Handler)

// WithResponder replaces the default echo with a scripted reply
func WithResponder(r Responder) Option {
	return func(h *Handler) {
		h.responder = r
	}
}

// WithQueueSize sets the inbound queue capacity
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		h.queueSize = n
	}
}

// WithInitializeError makes Initialize fail with err
func WithInitializeError(err error) Option {
	return func(h *Handler) {
		h.initErr = err
	}
}

// WithConnectError makes Connect fail with err
func WithConnectError(err error) Option {
	return func(h *Handler) {
		h.connectErr = err
	}
}

// NewHandler creates a loopback handler
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Factory returns a factory producing loopback handlers with the given
// options
func Factory(opts ...Option) network.Factory {
	return func() network.Handler {
		return NewHandler(opts...)
	}
}

// Initialize implements network.Handler
func (h *Handler) Initialize(cfg network.Config) error {
	if h.initErr != nil {
		err := network.WrapError(h.initErr, network.CodeInitializeFailed, "Initialize", "initialization failed")
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

	h.SetState(network.StateConnecting)

	if h.connectErr != nil {
		err := network.WrapError(h.connectErr, network.CodeTransportFailure, "Connect", "connect failed")
		h.RecordError(err)
		h.SetState(network.StateError)
		return err
	}

	h.mu.Lock()
	h.queue = make(chan network.Message, h.queueSize)
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
	h.mu.Unlock()

	h.SetState(network.StateDisconnected)
	return nil
}

// Send implements network.Handler. The message, or the responder's reply to
// it, becomes the next inbound message.
func (h *Handler) Send(ctx context.Context, msg network.Message) error {
	if h.State() != network.StateConnected {
		err := network.NewError(network.CodeNotConnected, "Send", "not connected")
		h.RecordError(err)
		return err
	}

	reply := &msg
	if h.responder != nil {
		reply = h.responder(msg)
	}
	if reply == nil {
		return nil
	}

	h.Inject(*reply)
	return nil
}

// Inject queues an inbound message and fans it out to the registered
// callbacks, the way a socket transport would on arrival
func (h *Handler) Inject(msg network.Message) {
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

// Receive implements network.Handler
func (h *Handler) Receive(timeout time.Duration) (*network.Message, error) {
	if h.State() != network.StateConnected {
		err := network.NewError(network.CodeNotConnected, "Receive", "not connected")
		h.RecordError(err)
		return nil, err
	}

	h.mu.Lock()
	queue := h.queue
	closeChan := h.closeChan
	h.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-queue:
		return &msg, nil
	case <-closeChan:
		err := network.NewError(network.CodeConnectionClosing, "Receive", "connection closing")
		h.RecordError(err)
		return nil, err
	case <-timer.C:
		return nil, nil
	}
}
