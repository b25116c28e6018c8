// Package transport wires the concrete protocol handlers into a connection
// manager.
package transport

import (
	"github.com/HMasataka/conduit/pkg/network"
	"github.com/HMasataka/conduit/pkg/transport/memory"
	"github.com/HMasataka/conduit/pkg/transport/tcp"
	"github.com/HMasataka/conduit/pkg/transport/udp"
	"github.com/HMasataka/conduit/pkg/transport/ws"
)

// RegisterDefaults installs the built-in handlers: the stream handler for
// tcp, http and https, the datagram handler for udp, the WebSocket handler
// for websocket and the in-process loopback for custom. The mqtt, amqp and
// grpc slots ship no default; creating such a connection fails until the
// caller registers a handler for them.
func RegisterDefaults(m *network.Manager) {
	m.RegisterProtocolHandler(network.ProtocolTCP, tcp.Factory())
	m.RegisterProtocolHandler(network.ProtocolHTTP, tcp.Factory())
	m.RegisterProtocolHandler(network.ProtocolHTTPS, tcp.Factory())
	m.RegisterProtocolHandler(network.ProtocolUDP, udp.Factory())
	m.RegisterProtocolHandler(network.ProtocolWebSocket, ws.Factory())
	m.RegisterProtocolHandler(network.ProtocolCustom, memory.Factory())
}
