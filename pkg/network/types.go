package network

import (
	"time"
)

// Protocol identifies the transport protocol a connection uses
type Protocol int

// Supported protocols
const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolHTTP
	ProtocolHTTPS
	ProtocolWebSocket
	ProtocolMQTT
	ProtocolAMQP
	ProtocolGRPC
	ProtocolCustom
)

// String returns the protocol name
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolHTTP:
		return "http"
	case ProtocolHTTPS:
		return "https"
	case ProtocolWebSocket:
		return "websocket"
	case ProtocolMQTT:
		return "mqtt"
	case ProtocolAMQP:
		return "amqp"
	case ProtocolGRPC:
		return "grpc"
	case ProtocolCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseProtocol parses a protocol name as produced by Protocol.String
func ParseProtocol(s string) (Protocol, bool) {
	switch s {
	case "tcp":
		return ProtocolTCP, true
	case "udp":
		return ProtocolUDP, true
	case "http":
		return ProtocolHTTP, true
	case "https":
		return ProtocolHTTPS, true
	case "websocket":
		return ProtocolWebSocket, true
	case "mqtt":
		return ProtocolMQTT, true
	case "amqp":
		return ProtocolAMQP, true
	case "grpc":
		return ProtocolGRPC, true
	case "custom":
		return ProtocolCustom, true
	default:
		return ProtocolTCP, false
	}
}

// State represents the lifecycle state of a connection
type State int32

// Connection states
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config is the immutable parameter set used to initialize a protocol
// handler for one connection. It must not be mutated after being passed
// to Handler.Initialize.
type Config struct {
	Host     string        `json:"host" yaml:"host"`
	Port     uint16        `json:"port" yaml:"port"`
	Protocol Protocol      `json:"protocol" yaml:"protocol"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`

	ReconnectAutomatically bool          `json:"reconnect_automatically" yaml:"reconnect_automatically"`
	MaxReconnectAttempts   int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay         time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`

	// TLS material for secure transports (HTTPS, WSS, ...)
	CertificatePath string `json:"certificate_path,omitempty" yaml:"certificate_path,omitempty"`
	KeyPath         string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	CACertPath      string `json:"ca_cert_path,omitempty" yaml:"ca_cert_path,omitempty"`
	VerifyPeer      bool   `json:"verify_peer" yaml:"verify_peer"`

	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`

	// Params carries protocol-specific settings that have no dedicated field
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// DefaultConfig returns a Config for the given endpoint with the default
// timeout and reconnection policy
func DefaultConfig(host string, port uint16, protocol Protocol) Config {
	return Config{
		Host:                   host,
		Port:                   port,
		Protocol:               protocol,
		Timeout:                30 * time.Second,
		ReconnectAutomatically: true,
		MaxReconnectAttempts:   5,
		ReconnectDelay:         5 * time.Second,
		VerifyPeer:             true,
	}
}

// Message is an immutable unit of data in flight: a byte payload plus
// routing metadata. It has no identity beyond its contents.
type Message struct {
	Data      []byte            `json:"data"`
	Topic     string            `json:"topic,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Sender    string            `json:"sender,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// NewMessage creates a message from a raw byte payload
func NewMessage(data []byte, topic string) Message {
	return Message{
		Data:      data,
		Topic:     topic,
		Timestamp: time.Now(),
	}
}

// NewTextMessage creates a message whose payload is the byte encoding of text
func NewTextMessage(text string, topic string) Message {
	return NewMessage([]byte(text), topic)
}

// Text returns the payload decoded as a string
func (m Message) Text() string {
	return string(m.Data)
}

// WithHeader returns a copy of the message with the header set
func (m Message) WithHeader(key, value string) Message {
	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	headers[key] = value
	m.Headers = headers
	return m
}

// Header returns a header value and whether it was present
func (m Message) Header(key string) (string, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// MessageCallback is invoked for every inbound message on a connection
type MessageCallback func(msg Message)
