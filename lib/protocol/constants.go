// Package protocol implements the chat broker wire protocol per PROTOCOL.md.
// The control channel carries length-prefixed binary frames over TCP; chat
// traffic is carried in length-prefixed UDP datagrams. All codec functions
// are pure and hold no state.
package protocol

// Wire format sizes per PROTOCOL.md.
const (
	// HeaderSize is the fixed size of a control frame header in bytes.
	HeaderSize = 32

	// PayloadSizeWidth is the width of the payload_size header field in bytes.
	PayloadSizeWidth = 29

	// MaxRoomNameSize is the maximum room name length in bytes.
	// The room_name_size field is a single unsigned byte.
	MaxRoomNameSize = 255

	// MaxTokenSize is the maximum token length in a datagram in bytes.
	// The token_size field is a single unsigned byte.
	MaxTokenSize = 255

	// MaxDatagramSize is the maximum size of a chat datagram in bytes.
	MaxDatagramSize = 4096

	// MinDatagramSize is the minimum size of a chat datagram in bytes.
	// Shorter datagrams are discarded silently.
	MinDatagramSize = 2

	// ReturnPortSize is the size of the return-port message a client sends
	// on the control channel after COMPLETE, in bytes (big-endian uint16).
	ReturnPortSize = 2

	// DefaultMaxPayloadSize is the default cap on declared control frame
	// payload sizes. The header field is wide enough for absurd values;
	// anything above this bound is treated as malformed.
	DefaultMaxPayloadSize = 1 << 20
)

// Operation identifies a room lifecycle operation on the control channel.
type Operation byte

// Operation codes per PROTOCOL.md.
const (
	OpCreateRoom Operation = 1
	OpJoinRoom   Operation = 2
)

// Valid reports whether the operation code is a known one.
func (o Operation) Valid() bool {
	return o == OpCreateRoom || o == OpJoinRoom
}

// String returns a human-readable operation name.
func (o Operation) String() string {
	switch o {
	case OpCreateRoom:
		return "CREATE_ROOM"
	case OpJoinRoom:
		return "JOIN_ROOM"
	default:
		return "UNKNOWN"
	}
}

// State identifies the handshake phase a control frame belongs to.
type State byte

// State codes per PROTOCOL.md. A handshake always runs
// REQUEST -> ACKNOWLEDGE -> COMPLETE on a single connection.
const (
	StateRequest     State = 0
	StateAcknowledge State = 1
	StateComplete    State = 2
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRequest:
		return "REQUEST"
	case StateAcknowledge:
		return "ACKNOWLEDGE"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Status is the one-byte result code carried in an ACKNOWLEDGE payload.
type Status byte

// Status codes per PROTOCOL.md.
const (
	StatusSuccess         Status = 0
	StatusRoomExists      Status = 1
	StatusRoomNotFound    Status = 2
	StatusInvalidPassword Status = 3
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRoomExists:
		return "ROOM_EXISTS"
	case StatusRoomNotFound:
		return "ROOM_NOT_FOUND"
	case StatusInvalidPassword:
		return "INVALID_PASSWORD"
	default:
		return "UNKNOWN"
	}
}
