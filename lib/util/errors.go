// Package util provides common utilities for the chat broker implementation.
// This includes the sentinel errors shared between the registry and the
// transport layers.
package util

import "errors"

// Sentinel errors for registry operations.
// The first three map directly to ACKNOWLEDGE status codes per PROTOCOL.md.
var (
	// ErrRoomExists indicates a room with the requested name already exists.
	// Maps to status ROOM_EXISTS.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound indicates the requested room does not exist.
	// Maps to status ROOM_NOT_FOUND.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidPassword indicates the supplied password was rejected.
	// Maps to status INVALID_PASSWORD.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrUnknownToken indicates the token is not bound to any room.
	ErrUnknownToken = errors.New("unknown token")

	// ErrAddressMismatch indicates a datagram arrived from an IP other than
	// the one recorded when its token was issued. Such datagrams are dropped
	// without a response.
	ErrAddressMismatch = errors.New("source address mismatch")
)
