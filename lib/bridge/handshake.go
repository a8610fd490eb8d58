package bridge

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ocmchat/chat-broker/lib/protocol"
)

// handshake runs one complete REQUEST -> ACKNOWLEDGE -> COMPLETE exchange
// plus the trailing return-port registration. A single deadline covers the
// whole exchange. The connection is closed by the caller afterwards; chat
// traffic never flows here.
func (s *Server) handshake(c *Connection) {
	if t := s.config.HandshakeTimeout; t > 0 {
		if err := c.SetDeadline(time.Now().Add(t)); err != nil {
			return
		}
	}

	frame, err := protocol.ReadFrame(c.Reader(), s.config.MaxPayloadSize)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"addr": c.RemoteAddr(),
		}).WithError(err).Debug("Dropping malformed control frame")
		return
	}

	switch {
	case frame.Operation == protocol.OpCreateRoom && frame.State == protocol.StateRequest:
		s.handleCreate(c, frame)
	case frame.Operation == protocol.OpJoinRoom && frame.State == protocol.StateRequest:
		s.handleJoin(c, frame)
	default:
		s.log.WithFields(logrus.Fields{
			"addr":      c.RemoteAddr(),
			"operation": frame.Operation.String(),
			"state":     frame.State.String(),
		}).Debug("Closing connection on invalid operation/state")
	}
}

// handleCreate processes a CREATE_ROOM request.
func (s *Server) handleCreate(c *Connection, frame *protocol.Frame) {
	creds, err := protocol.ParseCredentials(frame.Payload)
	if err != nil {
		// Malformed credentials are conflated with a wrong password on the
		// wire; there is no separate status for them.
		s.sendAck(c, frame, protocol.StatusInvalidPassword)
		return
	}

	token, status, err := s.registry.CreateRoom(frame.RoomName, creds.Username, creds.Password, c.RemoteIP())
	if err != nil {
		s.log.WithField("room", frame.RoomName).WithError(err).Error("Room creation failed")
		return
	}

	if !s.sendAck(c, frame, status) || status != protocol.StatusSuccess {
		return
	}
	if !s.sendComplete(c, frame, token) {
		return
	}

	s.log.WithFields(logrus.Fields{
		"room": frame.RoomName,
		"host": creds.Username,
		"addr": c.RemoteAddr(),
	}).Info("Room created")

	s.bindReturnPort(c, frame.RoomName, token)
}

// handleJoin processes a JOIN_ROOM request. On success the join notice is
// broadcast to the room before the return port is read; the new member has
// no port bound yet and does not receive it.
func (s *Server) handleJoin(c *Connection, frame *protocol.Frame) {
	creds, err := protocol.ParseCredentials(frame.Payload)
	if err != nil {
		s.sendAck(c, frame, protocol.StatusInvalidPassword)
		return
	}

	token, status, err := s.registry.JoinRoom(frame.RoomName, creds.Username, creds.Password, c.RemoteIP())
	if err != nil {
		s.log.WithField("room", frame.RoomName).WithError(err).Error("Room join failed")
		return
	}

	if !s.sendAck(c, frame, status) || status != protocol.StatusSuccess {
		return
	}
	if !s.sendComplete(c, frame, token) {
		return
	}

	s.log.WithFields(logrus.Fields{
		"room": frame.RoomName,
		"user": creds.Username,
		"addr": c.RemoteAddr(),
	}).Info("Member joined room")

	s.notifyRoom(frame.RoomName, protocol.JoinNotice(creds.Username))
	s.bindReturnPort(c, frame.RoomName, token)
}

// bindReturnPort reads the 2-byte big-endian return port the client sends
// after COMPLETE and records it. If the read fails, the member stays with
// an unbound port; the reaper reclaims it through the inactivity path.
func (s *Server) bindReturnPort(c *Connection, room, token string) {
	var buf [protocol.ReturnPortSize]byte
	if _, err := io.ReadFull(c.Reader(), buf[:]); err != nil {
		s.log.WithFields(logrus.Fields{
			"room": room,
			"addr": c.RemoteAddr(),
		}).WithError(err).Warn("Return port not received; member left unbound")
		return
	}

	port := binary.BigEndian.Uint16(buf[:])
	if err := s.registry.BindReturnPort(token, port); err != nil {
		// The room can vanish between COMPLETE and the port read.
		s.log.WithField("room", room).WithError(err).Debug("Return port bind failed")
		return
	}

	s.log.WithFields(logrus.Fields{
		"room": room,
		"addr": c.RemoteAddr(),
		"port": port,
	}).Debug("Return port bound")
}

// notifyRoom sends a system notice to every member of the room that has a
// return port bound. Send failures are logged and the remaining members
// are still attempted.
func (s *Server) notifyRoom(room, text string) {
	if s.sender == nil {
		return
	}
	for _, m := range s.registry.RoomMembers(room) {
		if !m.Addr.Bound() {
			continue
		}
		if err := s.sender.SendText(m.Addr, text); err != nil {
			s.log.WithFields(logrus.Fields{
				"room": room,
				"ip":   m.Addr.IP,
				"port": m.Addr.Port,
			}).WithError(err).Warn("System notice send failed")
		}
	}
}

// sendAck writes the ACKNOWLEDGE frame. Returns false if the connection is
// no longer usable.
func (s *Server) sendAck(c *Connection, req *protocol.Frame, status protocol.Status) bool {
	ack, err := protocol.NewAck(req.RoomName, req.Operation, status)
	if err != nil {
		return false
	}
	if _, err := ack.WriteTo(c); err != nil {
		s.log.WithField("addr", c.RemoteAddr()).WithError(err).Debug("ACKNOWLEDGE write failed")
		return false
	}
	return true
}

// sendComplete writes the COMPLETE frame carrying the issued token.
func (s *Server) sendComplete(c *Connection, req *protocol.Frame, token string) bool {
	complete, err := protocol.NewComplete(req.RoomName, req.Operation, token)
	if err != nil {
		return false
	}
	if _, err := complete.WriteTo(c); err != nil {
		s.log.WithField("addr", c.RemoteAddr()).WithError(err).Debug("COMPLETE write failed")
		return false
	}
	return true
}
