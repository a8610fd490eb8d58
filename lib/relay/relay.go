package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ocmchat/chat-broker/lib/protocol"
	"github.com/ocmchat/chat-broker/lib/registry"
)

// ErrListenerClosed is returned when starting a closed relay.
var ErrListenerClosed = errors.New("relay closed")

// TextSender delivers a raw-text datagram to a member address.
// *Sender satisfies it; tests substitute a recorder.
type TextSender interface {
	SendText(addr registry.MemberAddr, text string) error
}

// Relay receives chat datagrams, authenticates them against the registry
// by the (room, token, source IP) triple, and fans them out to the other
// members of the room. Malformed and unauthenticated datagrams are dropped
// silently; the relay never propagates errors upward.
//
// Within one delivery, all outbound datagrams for an inbound message are
// issued before the next message is received. No ordering is guaranteed
// between concurrent senders.
type Relay struct {
	mu sync.Mutex

	// conn receives chat datagrams from clients.
	conn net.PacketConn

	addr     string
	registry *registry.Registry
	sender   TextSender
	log      *logrus.Logger

	// ctx controls the receive loop lifecycle.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

// New creates a relay that will listen on addr.
func New(addr string, reg *registry.Registry, sender TextSender, log *logrus.Logger) *Relay {
	if log == nil {
		log = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		addr:     addr,
		registry: reg,
		sender:   sender,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the UDP socket and starts the receive loop. Non-blocking.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrListenerClosed
	}
	if r.conn != nil {
		return fmt.Errorf("relay already started")
	}

	conn, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", r.addr, err)
	}
	r.conn = conn

	r.wg.Add(1)
	go r.receiveLoop()

	return nil
}

// receiveLoop continuously receives and processes chat datagrams.
func (r *Relay) receiveLoop() {
	defer r.wg.Done()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
				r.log.WithError(err).Debug("Datagram read failed")
				continue
			}
		}
		if n == 0 {
			continue
		}

		r.handleDatagram(buf[:n], from)
	}
}

// handleDatagram authenticates and fans out one received datagram.
func (r *Relay) handleDatagram(data []byte, from net.Addr) {
	dg, err := protocol.ParseDatagram(data)
	if err != nil {
		// Malformed datagrams are dropped without a response.
		r.log.WithField("from", from.String()).WithError(err).Debug("Dropping malformed datagram")
		return
	}

	sender, recipients, err := r.registry.LookupForDatagram(dg.RoomName, dg.Token, sourceIP(from))
	if err != nil {
		// Unauthorized datagrams are dropped without a response.
		r.log.WithFields(logrus.Fields{
			"room": dg.RoomName,
			"from": from.String(),
		}).WithError(err).Debug("Dropping unauthenticated datagram")
		return
	}

	r.broadcast(dg.RoomName, recipients, protocol.ChatLine(sender.Username, dg.Body))

	if sender.IsHost && isExitCommand(dg.Body) {
		r.closeRoom(dg.RoomName)
	}
}

// broadcast sends text to each recipient with a bound return port. A send
// failure is logged; the remaining recipients are still attempted.
func (r *Relay) broadcast(room string, recipients []registry.MemberAddr, text string) {
	for _, addr := range recipients {
		if !addr.Bound() {
			continue
		}
		if err := r.sender.SendText(addr, text); err != nil {
			r.log.WithFields(logrus.Fields{
				"room": room,
				"ip":   addr.IP,
				"port": addr.Port,
			}).WithError(err).Warn("Datagram send failed")
		}
	}
}

// closeRoom removes the room after sending the closing notice to every
// member of the final snapshot. The snapshot is taken inside the registry's
// critical section; sends happen outside it.
func (r *Relay) closeRoom(name string) {
	members := r.registry.CloseRoom(name)
	for _, m := range members {
		if !m.Addr.Bound() {
			continue
		}
		if err := r.sender.SendText(m.Addr, protocol.NoticeRoomClosed); err != nil {
			r.log.WithFields(logrus.Fields{
				"room": name,
				"ip":   m.Addr.IP,
			}).WithError(err).Warn("Closing notice send failed")
		}
	}
	r.log.WithFields(logrus.Fields{
		"room":    name,
		"members": len(members),
	}).Info("Room closed by host")
}

// Close stops the relay and releases the socket.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	r.cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			r.wg.Wait()
			return err
		}
	}
	r.wg.Wait()
	return nil
}

// Addr returns the local address the relay is bound to, or nil before Start.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// isExitCommand reports whether a message body is the host exit command:
// surrounding whitespace is stripped and the comparison is case-insensitive.
func isExitCommand(body string) bool {
	return strings.ToLower(strings.TrimSpace(body)) == protocol.ExitCommand
}

// sourceIP extracts the IP portion of a datagram source address. The
// source port is irrelevant; only the IP participates in authentication.
func sourceIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
