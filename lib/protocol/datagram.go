package protocol

import (
	"errors"
	"unicode/utf8"
)

// Codec errors for chat datagrams. The relay drops malformed datagrams
// silently; these errors exist for logging and tests.
var (
	// ErrDatagramTooSmall indicates a datagram shorter than MinDatagramSize.
	ErrDatagramTooSmall = errors.New("datagram shorter than 2 bytes")

	// ErrDatagramOverrun indicates the declared field lengths overrun the
	// received buffer.
	ErrDatagramOverrun = errors.New("datagram field lengths overrun buffer")

	// ErrDatagramTooLarge indicates an encoded datagram over MaxDatagramSize.
	ErrDatagramTooLarge = errors.New("datagram exceeds 4096 bytes")

	// ErrTokenTooLong indicates a token over MaxTokenSize bytes.
	ErrTokenTooLong = errors.New("token exceeds 255 bytes")

	// ErrInvalidUTF8 indicates a datagram field that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("datagram field is not valid UTF-8")
)

// Datagram is a decoded chat datagram.
//
// Wire layout per PROTOCOL.md:
//
//	[room_name_size u8][token_size u8][room name][token][message body]
//
// Outbound broker datagrams (relayed messages, system notices) carry no
// framing: they are raw UTF-8 text.
type Datagram struct {
	RoomName string
	Token    string
	Body     string
}

// ParseDatagram decodes a received datagram. Every field, including the
// body, must be valid UTF-8.
func ParseDatagram(buf []byte) (*Datagram, error) {
	if len(buf) < MinDatagramSize {
		return nil, ErrDatagramTooSmall
	}

	roomSize := int(buf[0])
	tokenSize := int(buf[1])
	if roomSize == 0 {
		return nil, ErrEmptyRoomName
	}
	if MinDatagramSize+roomSize+tokenSize > len(buf) {
		return nil, ErrDatagramOverrun
	}

	room := buf[MinDatagramSize : MinDatagramSize+roomSize]
	token := buf[MinDatagramSize+roomSize : MinDatagramSize+roomSize+tokenSize]
	body := buf[MinDatagramSize+roomSize+tokenSize:]

	if !utf8.Valid(room) || !utf8.Valid(token) || !utf8.Valid(body) {
		return nil, ErrInvalidUTF8
	}

	return &Datagram{
		RoomName: string(room),
		Token:    string(token),
		Body:     string(body),
	}, nil
}

// EncodeDatagram encodes a chat datagram for sending to the broker.
func EncodeDatagram(room, token, body string) ([]byte, error) {
	if len(room) == 0 {
		return nil, ErrEmptyRoomName
	}
	if len(room) > MaxRoomNameSize {
		return nil, ErrRoomNameTooLong
	}
	if len(token) > MaxTokenSize {
		return nil, ErrTokenTooLong
	}

	total := MinDatagramSize + len(room) + len(token) + len(body)
	if total > MaxDatagramSize {
		return nil, ErrDatagramTooLarge
	}

	buf := make([]byte, 0, total)
	buf = append(buf, byte(len(room)), byte(len(token)))
	buf = append(buf, room...)
	buf = append(buf, token...)
	buf = append(buf, body...)
	return buf, nil
}
