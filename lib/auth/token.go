package auth

import "github.com/google/uuid"

// UUIDSource issues tokens as random version 4 UUIDs rendered as text.
// Collision resistance comes from the 122 bits of randomness; tokens are
// never reused within a broker process.
type UUIDSource struct{}

// NewToken returns a fresh opaque token.
func (UUIDSource) NewToken() string {
	return uuid.NewString()
}
