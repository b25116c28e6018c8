package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/conduit/logging"
	"github.com/HMasataka/conduit/pkg/eventbus"
)

// Manager tracks named connections and routes operations to the protocol
// handler stored under each connection id. It is safe for concurrent use:
// the internal mutex guards only the connection map and last-error slot and
// is never held across a delegated handler call, so operations on different
// connections proceed independently.
type Manager struct {
	mu          sync.Mutex
	connections map[string]Handler
	nextConnID  int
	lastErr     *Error

	registry HandlerRegistry
	logger   *logging.Logger
	eventBus eventbus.Bus
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithEventBus makes the manager publish connection lifecycle events
func WithEventBus(bus eventbus.Bus) ManagerOption {
	return func(m *Manager) {
		m.eventBus = bus
	}
}

// WithRegistry replaces the manager's handler registry
func WithRegistry(registry HandlerRegistry) ManagerOption {
	return func(m *Manager) {
		m.registry = registry
	}
}

// NewManager creates a connection manager with an empty handler registry
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		connections: make(map[string]Handler),
		registry:    NewHandlerRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return m
}

// RegisterProtocolHandler installs a handler factory for a protocol. The
// last registration for a given protocol wins.
func (m *Manager) RegisterProtocolHandler(protocol Protocol, factory Factory) {
	m.registry.Register(protocol, factory)
}

// CreateConnection resolves a handler for the config's protocol, initializes
// it and stores it under a fresh connection id. The id is never reused, even
// after the connection is closed.
func (m *Manager) CreateConnection(cfg Config) (string, error) {
	factory, ok := m.registry.Get(cfg.Protocol)
	if !ok {
		return "", m.fail(NewError(CodeHandlerUnavailable, "CreateConnection",
			fmt.Sprintf("no protocol handler registered for %s", cfg.Protocol)))
	}

	handler := factory()
	if err := handler.Initialize(cfg); err != nil {
		return "", m.fail(WrapError(err, CodeInitializeFailed, "CreateConnection",
			"failed to initialize protocol handler"))
	}

	m.mu.Lock()
	id := fmt.Sprintf("conn_%d", m.nextConnID)
	m.nextConnID++
	m.connections[id] = handler
	m.mu.Unlock()

	m.logger.Debug("connection created",
		"connection_id", id,
		"protocol", cfg.Protocol.String(),
		"host", cfg.Host,
		"port", cfg.Port,
	)
	m.publish(eventbus.EventConnectionCreated, id)

	return id, nil
}

// Connect establishes an existing connection
func (m *Manager) Connect(ctx context.Context, id string) error {
	handler, err := m.lookup(id, "Connect")
	if err != nil {
		return err
	}

	if err := handler.Connect(ctx); err != nil {
		m.publish(eventbus.EventConnectionError, id)
		return err
	}

	m.publish(eventbus.EventConnectionEstablished, id)
	return nil
}

// Disconnect disconnects an existing connection without removing it
func (m *Manager) Disconnect(id string) error {
	handler, err := m.lookup(id, "Disconnect")
	if err != nil {
		return err
	}

	if err := handler.Disconnect(); err != nil {
		return err
	}

	m.publish(eventbus.EventConnectionDisconnected, id)
	return nil
}

// CloseConnection disconnects the handler if it is connected, then removes
// the map entry unconditionally. It reports false only when the id was not
// present.
func (m *Manager) CloseConnection(id string) bool {
	m.mu.Lock()
	handler, ok := m.connections[id]
	if ok {
		delete(m.connections, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	// Move to disconnecting outside the map lock so in-flight blocking
	// calls on this handler observe the transition and return promptly.
	if handler.State() == StateConnected {
		if err := handler.Disconnect(); err != nil {
			m.logger.Warn("disconnect during close failed",
				"connection_id", id, "error", err)
		}
	}

	m.logger.Debug("connection closed", "connection_id", id)
	m.publish(eventbus.EventConnectionClosed, id)
	return true
}

// Send transmits a message on a connection
func (m *Manager) Send(ctx context.Context, id string, msg Message) error {
	handler, err := m.lookup(id, "Send")
	if err != nil {
		return err
	}
	return handler.Send(ctx, msg)
}

// Receive blocks for up to timeout waiting for an inbound message on a
// connection. A clean timeout returns (nil, nil).
func (m *Manager) Receive(id string, timeout time.Duration) (*Message, error) {
	handler, err := m.lookup(id, "Receive")
	if err != nil {
		return nil, err
	}
	return handler.Receive(timeout)
}

// RegisterCallback registers a message callback on a connection. It returns
// -1 when the connection is not found.
func (m *Manager) RegisterCallback(id string, fn MessageCallback) int {
	handler, err := m.lookup(id, "RegisterCallback")
	if err != nil {
		return -1
	}
	return handler.RegisterCallback(fn)
}

// UnregisterCallback removes a message callback from a connection
func (m *Manager) UnregisterCallback(id string, callbackID int) bool {
	handler, err := m.lookup(id, "UnregisterCallback")
	if err != nil {
		return false
	}
	return handler.UnregisterCallback(callbackID)
}

// ConnectionState returns the state of a connection, or StateError when the
// id is unknown
func (m *Manager) ConnectionState(id string) State {
	m.mu.Lock()
	handler, ok := m.connections[id]
	m.mu.Unlock()

	if !ok {
		return StateError
	}
	return handler.State()
}

// ActiveConnections returns a snapshot of the ids whose handler is currently
// connected
func (m *Manager) ActiveConnections() []string {
	m.mu.Lock()
	handlers := make(map[string]Handler, len(m.connections))
	for id, h := range m.connections {
		handlers[id] = h
	}
	m.mu.Unlock()

	active := make([]string, 0, len(handlers))
	for id, h := range handlers {
		if h.State() == StateConnected {
			active = append(active, id)
		}
	}
	return active
}

// CloseAllConnections disconnects and removes every tracked connection and
// returns the number of connections that were connected when it ran
func (m *Manager) CloseAllConnections() int {
	m.mu.Lock()
	handlers := m.connections
	m.connections = make(map[string]Handler)
	m.mu.Unlock()

	count := 0
	for id, h := range handlers {
		if h.State() == StateConnected {
			if err := h.Disconnect(); err != nil {
				m.logger.Warn("disconnect during shutdown failed",
					"connection_id", id, "error", err)
			}
			count++
		}
		m.publish(eventbus.EventConnectionClosed, id)
	}

	m.logger.Info("all connections closed", "count", count)
	return count
}

// LastError returns the most recent manager-level error, or nil. Handler
// failures are recorded on the handler itself, not here.
func (m *Manager) LastError() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// lookup resolves a connection id to its handler, recording a not-found
// error when absent. The map lock is released before returning so it is
// never held across the delegated call.
func (m *Manager) lookup(id, source string) (Handler, error) {
	m.mu.Lock()
	handler, ok := m.connections[id]
	m.mu.Unlock()

	if !ok {
		return nil, m.fail(NewError(CodeConnectionNotFound, source, "connection not found"))
	}
	return handler, nil
}

func (m *Manager) fail(err *Error) *Error {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	m.logger.Warn(err.Message, "source", err.Source, "code", err.Code)
	return err
}

func (m *Manager) publish(eventType eventbus.EventType, connectionID string) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(eventbus.NewEvent(eventType, "network.manager", connectionID))
}
