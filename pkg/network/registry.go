package network

import (
	"sync"
)

// HandlerRegistry maps a protocol to the factory producing handlers for it
type HandlerRegistry interface {
	// Register installs a factory for a protocol; the last registration for
	// a given protocol wins
	Register(protocol Protocol, factory Factory)

	// Get retrieves the factory for a protocol. There is no fallback between
	// protocols.
	Get(protocol Protocol) (Factory, bool)

	// Protocols returns the protocols that currently have a factory
	Protocols() []Protocol
}

// DefaultHandlerRegistry is the default implementation of HandlerRegistry
type DefaultHandlerRegistry struct {
	mu        sync.RWMutex
	factories map[Protocol]Factory
}

// NewHandlerRegistry creates an empty handler registry
func NewHandlerRegistry() *DefaultHandlerRegistry {
	return &DefaultHandlerRegistry{
		factories: make(map[Protocol]Factory),
	}
}

// Register implements HandlerRegistry
func (r *DefaultHandlerRegistry) Register(protocol Protocol, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocol] = factory
}

// Get implements HandlerRegistry
func (r *DefaultHandlerRegistry) Get(protocol Protocol) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[protocol]
	return factory, ok
}

// Protocols implements HandlerRegistry
func (r *DefaultHandlerRegistry) Protocols() []Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	protocols := make([]Protocol, 0, len(r.factories))
	for p := range r.factories {
		protocols = append(protocols, p)
	}
	return protocols
}
