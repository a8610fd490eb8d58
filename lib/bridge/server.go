package bridge

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ocmchat/chat-broker/lib/registry"
)

// DatagramSender delivers a raw-text datagram to a member address. The
// bridge uses it for the "user joined" system notice; the relay's sender
// satisfies it.
type DatagramSender interface {
	SendText(addr registry.MemberAddr, text string) error
}

// Server is the control channel server. It accepts TCP connections and
// runs one handshake exchange per connection.
type Server struct {
	config   *Config
	registry *registry.Registry
	sender   DatagramSender
	log      *logrus.Logger

	mu          sync.Mutex
	listener    net.Listener
	connections map[*Connection]struct{}
	closed      atomic.Bool

	// done is closed when the server shuts down.
	done chan struct{}
}

// NewServer creates a control channel server with the given configuration.
func NewServer(config *Config, reg *registry.Registry, sender DatagramSender, log *logrus.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}

	return &Server{
		config:      config,
		registry:    reg,
		sender:      sender,
		log:         log,
		connections: make(map[*Connection]struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Registry returns the room registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// ListenAndServe starts listening on the configured address and serves
// clients. Blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and handles them.
// Blocks until the server is closed.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil // Server was closed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		if !s.canAccept() {
			conn.Close()
			continue
		}

		go s.handleConnection(conn)
	}
}

// canAccept returns true if the server can accept a new connection.
func (s *Server) canAccept() bool {
	if s.config.MaxConnections == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections) < s.config.MaxConnections
}

// handleConnection runs the handshake for a single client connection.
func (s *Server) handleConnection(conn net.Conn) {
	c := NewConnection(conn)

	s.mu.Lock()
	s.connections[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.connections, c)
		s.mu.Unlock()
		c.Close()
	}()

	s.handshake(c)
}

// Close gracefully shuts down the server: the listener stops accepting and
// open control connections are closed. In-flight handshakes end when their
// connection closes or their deadline fires.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.mu.Lock()
	listener := s.listener
	connections := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		connections = append(connections, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range connections {
		c.Close()
	}

	return nil
}

// ConnectionCount returns the number of active control connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done returns a channel that is closed when the server shuts down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
