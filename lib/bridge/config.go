// Package bridge implements the chat broker's control channel: a TCP
// server that carries each client through the three-phase room handshake
// (REQUEST -> ACKNOWLEDGE -> COMPLETE) per PROTOCOL.md and registers the
// client's datagram return port. Chat traffic never flows over this
// channel.
package bridge

import (
	"time"

	"github.com/ocmchat/chat-broker/lib/protocol"
)

// Default configuration values per PROTOCOL.md.
const (
	// DefaultListenAddr is the default control channel TCP listen address.
	DefaultListenAddr = "127.0.0.1:8000"

	// DefaultDatagramAddr is the default chat datagram UDP bind address.
	DefaultDatagramAddr = "127.0.0.1:8001"

	// DefaultHandshakeTimeout bounds the whole handshake exchange,
	// including the trailing return-port read. The protocol itself places
	// no bound on client think time; the deadline keeps abandoned
	// connections from pinning goroutines.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultReapInterval is the period of the liveness reaper.
	DefaultReapInterval = 20 * time.Second

	// DefaultInactivityTimeout is how long a member may stay silent before
	// the reaper evicts it (or, for a host, closes its room).
	DefaultInactivityTimeout = 300 * time.Second
)

// Config holds the broker configuration. All fields have sensible defaults
// that can be overridden.
type Config struct {
	// ListenAddr is the control channel TCP address.
	ListenAddr string

	// DatagramAddr is the UDP address the relay receives chat datagrams on.
	DatagramAddr string

	// HandshakeTimeout bounds one complete handshake exchange.
	HandshakeTimeout time.Duration

	// ReapInterval is the period between liveness sweeps.
	ReapInterval time.Duration

	// InactivityTimeout is the liveness threshold for eviction.
	InactivityTimeout time.Duration

	// MaxPayloadSize caps declared control frame payload sizes.
	MaxPayloadSize uint64

	// MaxConnections is the maximum number of concurrent control
	// connections (0 = no limit).
	MaxConnections int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        DefaultListenAddr,
		DatagramAddr:      DefaultDatagramAddr,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		ReapInterval:      DefaultReapInterval,
		InactivityTimeout: DefaultInactivityTimeout,
		MaxPayloadSize:    protocol.DefaultMaxPayloadSize,
		MaxConnections:    0,
	}
}

// Validate checks the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return &ConfigError{Field: "ListenAddr", Message: "cannot be empty"}
	}
	if c.DatagramAddr == "" {
		return &ConfigError{Field: "DatagramAddr", Message: "cannot be empty"}
	}
	if c.HandshakeTimeout < 0 {
		return &ConfigError{Field: "HandshakeTimeout", Message: "cannot be negative"}
	}
	if c.ReapInterval <= 0 {
		return &ConfigError{Field: "ReapInterval", Message: "must be positive"}
	}
	if c.InactivityTimeout <= 0 {
		return &ConfigError{Field: "InactivityTimeout", Message: "must be positive"}
	}
	if c.MaxPayloadSize == 0 {
		return &ConfigError{Field: "MaxPayloadSize", Message: "must be positive"}
	}
	if c.MaxConnections < 0 {
		return &ConfigError{Field: "MaxConnections", Message: "cannot be negative"}
	}
	return nil
}

// WithListenAddr returns a copy of the config with the listen address set.
func (c *Config) WithListenAddr(addr string) *Config {
	newCfg := *c
	newCfg.ListenAddr = addr
	return &newCfg
}

// WithDatagramAddr returns a copy of the config with the datagram address set.
func (c *Config) WithDatagramAddr(addr string) *Config {
	newCfg := *c
	newCfg.DatagramAddr = addr
	return &newCfg
}

// WithReaper returns a copy of the config with the reaper parameters set.
func (c *Config) WithReaper(interval, timeout time.Duration) *Config {
	newCfg := *c
	newCfg.ReapInterval = interval
	newCfg.InactivityTimeout = timeout
	return &newCfg
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
