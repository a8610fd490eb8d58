package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingUsername indicates a credential payload without a username.
var ErrMissingUsername = errors.New("username is required")

// Credentials is the payload of a CREATE_ROOM or JOIN_ROOM REQUEST frame:
// a small self-describing JSON object. An empty password means the room
// requires no password.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ParseCredentials decodes a REQUEST payload. The username must be present
// and non-empty; the password defaults to "".
func ParseCredentials(payload []byte) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(payload, &c); err != nil {
		return Credentials{}, fmt.Errorf("parsing credentials: %w", err)
	}
	if c.Username == "" {
		return Credentials{}, ErrMissingUsername
	}
	return c, nil
}

// Marshal encodes the credentials as a REQUEST payload.
func (c Credentials) Marshal() ([]byte, error) {
	if c.Username == "" {
		return nil, ErrMissingUsername
	}
	return json.Marshal(c)
}
