package auth

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDSource_NewToken(t *testing.T) {
	src := UUIDSource{}

	tok := src.NewToken()
	if _, err := uuid.Parse(tok); err != nil {
		t.Fatalf("NewToken() = %q is not a UUID: %v", tok, err)
	}

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok := src.NewToken()
		if _, dup := seen[tok]; dup {
			t.Fatalf("NewToken() repeated %q", tok)
		}
		seen[tok] = struct{}{}
	}
}
