// Package auth provides the credential collaborators consumed by the
// registry: a bcrypt-backed password verifier and a UUID token source.
package auth

import "golang.org/x/crypto/bcrypt"

// BcryptHasher derives and checks one-way room password verifiers using
// bcrypt. bcrypt's comparison is constant-time.
type BcryptHasher struct {
	// Cost is the bcrypt work factor. Zero means bcrypt.DefaultCost.
	Cost int
}

// NewBcryptHasher returns a hasher with the default bcrypt cost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.DefaultCost}
}

// Hash derives a verifier blob from a password.
func (h *BcryptHasher) Hash(password string) ([]byte, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

// Verify reports whether password matches the verifier blob.
func (h *BcryptHasher) Verify(password string, verifier []byte) bool {
	return bcrypt.CompareHashAndPassword(verifier, []byte(password)) == nil
}
