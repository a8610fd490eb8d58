// Package relay implements the chat broker's datagram plane: the UDP
// receive/fan-out loop, the outbound sender, and the liveness reaper.
package relay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ocmchat/chat-broker/lib/registry"
)

// addrCacheSize bounds the sender's resolved-address cache. Each entry is
// one member's return address; 512 covers far more members than a single
// broker hosts in practice.
const addrCacheSize = 512

// Sender errors.
var (
	// ErrSenderClosed is returned when sending on a closed sender.
	ErrSenderClosed = errors.New("sender is closed")
)

// Sender delivers raw-text datagrams to member addresses. Delivery is
// best-effort: one send failure never stops fan-out to other recipients.
//
// Resolved UDP addresses are cached in an LRU keyed by "ip:port" so the
// hot fan-out path does not re-resolve per message. Thread-safe.
type Sender struct {
	mu     sync.Mutex
	conn   net.PacketConn
	cache  *lru.Cache[string, *net.UDPAddr]
	closed bool
}

// NewSender creates a sender bound to an ephemeral local UDP port.
func NewSender() (*Sender, error) {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("creating sender socket: %w", err)
	}
	cache, err := lru.New[string, *net.UDPAddr](addrCacheSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Sender{conn: conn, cache: cache}, nil
}

// SendText sends text as a single raw datagram to the member address.
// Outbound broker datagrams carry no framing per PROTOCOL.md.
func (s *Sender) SendText(addr registry.MemberAddr, text string) error {
	return s.Send(addr, []byte(text))
}

// Send sends payload as a single datagram to the member address.
func (s *Sender) Send(addr registry.MemberAddr, payload []byte) error {
	udpAddr, err := s.resolve(addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return ErrSenderClosed
	}

	_, err = conn.WriteTo(payload, udpAddr)
	return err
}

// resolve returns the UDP address for a member, consulting the cache first.
func (s *Sender) resolve(addr registry.MemberAddr) (*net.UDPAddr, error) {
	key := net.JoinHostPort(addr.IP, strconv.Itoa(int(addr.Port)))
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", key)
	if err != nil {
		return nil, fmt.Errorf("resolving recipient %s: %w", key, err)
	}
	s.cache.Add(key, udpAddr)
	return udpAddr, nil
}

// LocalAddr returns the sender's local address.
func (s *Sender) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.LocalAddr()
}

// Close shuts down the sender socket. Safe to call multiple times.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
