package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handler is implemented by every concrete transport. A handler owns exactly
// one connection state and one last-error slot, both mutated only by the
// handler itself.
type Handler interface {
	// Initialize stores the connection config and performs protocol-specific
	// setup. Failure leaves the state disconnected and records an error.
	Initialize(cfg Config) error

	// Connect establishes the connection. Calling Connect while already
	// connected is a no-op success.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Safe to call when already
	// disconnected.
	Disconnect() error

	// Send transmits a message. Valid only while connected.
	Send(ctx context.Context, msg Message) error

	// Receive blocks for up to timeout waiting for an inbound message.
	// A clean timeout returns (nil, nil); a transport failure records an
	// error and returns it.
	Receive(timeout time.Duration) (*Message, error)

	// RegisterCallback registers fn to be invoked for every inbound message
	// and returns an id usable with UnregisterCallback
	RegisterCallback(fn MessageCallback) int

	// UnregisterCallback removes a callback; it reports whether the id was
	// registered
	UnregisterCallback(id int) bool

	// State returns the current connection state
	State() State

	// LastError returns the most recent error, or nil
	LastError() *Error
}

// Factory creates a fresh handler instance for one connection
type Factory func() Handler

// BaseHandler supplies the state, last-error and callback bookkeeping shared
// by every transport. Concrete handlers embed it and call Dispatch for each
// inbound message.
type BaseHandler struct {
	state atomic.Int32

	mu      sync.Mutex
	cfg     Config
	lastErr *Error

	// Callbacks live behind their own mutex so that registration never
	// contends with config or error access.
	cbMu      sync.Mutex
	nextCBID  int
	callbacks map[int]MessageCallback
}

// SetConfig stores the connection config
func (b *BaseHandler) SetConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// Config returns the stored connection config
func (b *BaseHandler) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// State returns the current connection state
func (b *BaseHandler) State() State {
	return State(b.state.Load())
}

// SetState updates the connection state
func (b *BaseHandler) SetState(s State) {
	b.state.Store(int32(s))
}

// CompareState atomically swaps the state if it currently equals old
func (b *BaseHandler) CompareState(old, new State) bool {
	return b.state.CompareAndSwap(int32(old), int32(new))
}

// RecordError stores err as the last error, overwriting any previous one
func (b *BaseHandler) RecordError(err *Error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
}

// LastError returns the most recent error, or nil
func (b *BaseHandler) LastError() *Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// RegisterCallback implements Handler
func (b *BaseHandler) RegisterCallback(fn MessageCallback) int {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()

	if b.callbacks == nil {
		b.callbacks = make(map[int]MessageCallback)
	}

	id := b.nextCBID
	b.nextCBID++
	b.callbacks[id] = fn
	return id
}

// UnregisterCallback implements Handler
func (b *BaseHandler) UnregisterCallback(id int) bool {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()

	if _, ok := b.callbacks[id]; !ok {
		return false
	}

	delete(b.callbacks, id)
	return true
}

// CallbackCount returns the number of registered callbacks
func (b *BaseHandler) CallbackCount() int {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	return len(b.callbacks)
}

// Dispatch invokes every registered callback with msg. The callback map is
// snapshotted under the lock and the lock released before any callback runs,
// so a callback may safely register, unregister or call back into the
// handler without deadlocking.
func (b *BaseHandler) Dispatch(msg Message) {
	b.cbMu.Lock()
	snapshot := make([]MessageCallback, 0, len(b.callbacks))
	for _, fn := range b.callbacks {
		snapshot = append(snapshot, fn)
	}
	b.cbMu.Unlock()

	for _, fn := range snapshot {
		fn(msg)
	}
}
