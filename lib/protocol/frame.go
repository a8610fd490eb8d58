package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Codec errors for control frames.
var (
	// ErrShortHeader indicates fewer than HeaderSize bytes were available.
	ErrShortHeader = errors.New("control header shorter than 32 bytes")

	// ErrEmptyRoomName indicates a zero room_name_size field. The field
	// width already forbids names over 255 bytes; zero is rejected by policy.
	ErrEmptyRoomName = errors.New("room name size is zero")

	// ErrRoomNameTooLong indicates a room name over MaxRoomNameSize bytes.
	ErrRoomNameTooLong = errors.New("room name exceeds 255 bytes")

	// ErrPayloadTooLarge indicates a declared payload size above the
	// configured cap.
	ErrPayloadTooLarge = errors.New("declared payload size exceeds cap")

	// ErrInvalidRoomName indicates the room name is not valid UTF-8.
	ErrInvalidRoomName = errors.New("room name is not valid UTF-8")
)

// Header is the fixed 32-byte control frame header.
//
// Layout per PROTOCOL.md:
//
//	offset 0, 1 byte:   room_name_size (1..255)
//	offset 1, 1 byte:   operation
//	offset 2, 1 byte:   state
//	offset 3, 29 bytes: payload_size, big-endian unsigned
type Header struct {
	RoomNameSize uint8
	Operation    Operation
	State        State
	PayloadSize  uint64
}

// ParseHeader decodes a header from buf. buf must hold at least HeaderSize
// bytes. A zero room_name_size is rejected, as is a payload_size too large
// to represent in a uint64.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if buf[0] == 0 {
		return Header{}, ErrEmptyRoomName
	}

	// The payload_size field is 29 bytes wide but sizes are capped far
	// below 2^64; any set bit above the low 8 bytes is malformed.
	for _, b := range buf[3 : HeaderSize-8] {
		if b != 0 {
			return Header{}, ErrPayloadTooLarge
		}
	}

	return Header{
		RoomNameSize: buf[0],
		Operation:    Operation(buf[1]),
		State:        State(buf[2]),
		PayloadSize:  binary.BigEndian.Uint64(buf[HeaderSize-8 : HeaderSize]),
	}, nil
}

// Marshal encodes the header into a fresh HeaderSize byte slice.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.RoomNameSize
	buf[1] = byte(h.Operation)
	buf[2] = byte(h.State)
	binary.BigEndian.PutUint64(buf[HeaderSize-8:HeaderSize], h.PayloadSize)
	return buf
}

// Frame is a decoded control frame: header plus room name and payload body.
type Frame struct {
	Operation Operation
	State     State
	RoomName  string
	Payload   []byte
}

// NewFrame builds a frame after validating the room name. The payload is
// used as-is; its interpretation depends on the state (credentials for
// REQUEST, status byte for ACKNOWLEDGE, token for COMPLETE).
func NewFrame(room string, op Operation, state State, payload []byte) (*Frame, error) {
	if len(room) == 0 {
		return nil, ErrEmptyRoomName
	}
	if len(room) > MaxRoomNameSize {
		return nil, ErrRoomNameTooLong
	}
	if !utf8.ValidString(room) {
		return nil, ErrInvalidRoomName
	}
	return &Frame{
		Operation: op,
		State:     state,
		RoomName:  room,
		Payload:   payload,
	}, nil
}

// NewAck builds an ACKNOWLEDGE frame carrying a single status byte.
func NewAck(room string, op Operation, status Status) (*Frame, error) {
	return NewFrame(room, op, StateAcknowledge, []byte{byte(status)})
}

// NewComplete builds a COMPLETE frame carrying the issued token.
func NewComplete(room string, op Operation, token string) (*Frame, error) {
	return NewFrame(room, op, StateComplete, []byte(token))
}

// Marshal encodes the frame as header + room name + payload.
func (f *Frame) Marshal() ([]byte, error) {
	if len(f.RoomName) == 0 {
		return nil, ErrEmptyRoomName
	}
	if len(f.RoomName) > MaxRoomNameSize {
		return nil, ErrRoomNameTooLong
	}

	h := Header{
		RoomNameSize: uint8(len(f.RoomName)),
		Operation:    f.Operation,
		State:        f.State,
		PayloadSize:  uint64(len(f.Payload)),
	}

	buf := make([]byte, 0, HeaderSize+len(f.RoomName)+len(f.Payload))
	buf = append(buf, h.Marshal()...)
	buf = append(buf, f.RoomName...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

// WriteTo writes the encoded frame to w.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	buf, err := f.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// Status returns the status byte of an ACKNOWLEDGE frame.
func (f *Frame) Status() (Status, error) {
	if f.State != StateAcknowledge || len(f.Payload) != 1 {
		return 0, fmt.Errorf("frame %s/%s does not carry a status byte", f.Operation, f.State)
	}
	return Status(f.Payload[0]), nil
}

// ReadFrame reads exactly one control frame from r. Declared payload sizes
// above maxPayload are rejected before the body is read, bounding memory
// consumption per connection. A short read anywhere is an error; the caller
// closes the connection.
func ReadFrame(r io.Reader, maxPayload uint64) (*Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}

	h, err := ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	if h.PayloadSize > maxPayload {
		return nil, ErrPayloadTooLarge
	}

	body := make([]byte, uint64(h.RoomNameSize)+h.PayloadSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	name := body[:h.RoomNameSize]
	if !utf8.Valid(name) {
		return nil, ErrInvalidRoomName
	}

	return &Frame{
		Operation: h.Operation,
		State:     h.State,
		RoomName:  string(name),
		Payload:   body[h.RoomNameSize:],
	}, nil
}
