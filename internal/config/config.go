package config

import (
	"time"

	"github.com/HMasataka/conduit/logging"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server"`
	Network NetworkConfig  `json:"network" yaml:"network"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents the control-plane HTTP server configuration
type ServerConfig struct {
	Host         string   `json:"host" yaml:"host"`
	Port         int      `json:"port" yaml:"port"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// NetworkConfig represents defaults applied to managed connections
type NetworkConfig struct {
	Timeout              Duration `json:"timeout" yaml:"timeout"`
	ReceiveTimeout       Duration `json:"receive_timeout" yaml:"receive_timeout"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay       Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	EventBufferSize      int      `json:"event_buffer_size" yaml:"event_buffer_size"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         3000,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
			IdleTimeout:  Duration(120 * time.Second),
		},
		Network: NetworkConfig{
			Timeout:              Duration(30 * time.Second),
			ReceiveTimeout:       Duration(5 * time.Second),
			MaxReconnectAttempts: 5,
			ReconnectDelay:       Duration(5 * time.Second),
			EventBufferSize:      256,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Network.Timeout <= 0 {
		return NewConfigError("network.timeout", "timeout must be positive")
	}

	if c.Network.ReceiveTimeout <= 0 {
		return NewConfigError("network.receive_timeout", "timeout must be positive")
	}

	if c.Network.MaxReconnectAttempts < 0 {
		return NewConfigError("network.max_reconnect_attempts", "cannot be negative")
	}

	return nil
}
