package token_test

import (
	"testing"
	"time"

	"github.com/RipMyLoven/ani/pkg/token"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	codec := token.NewCodec("test-secret")
	issued := time.Now().Truncate(time.Second)

	cred, err := codec.Encode("alice", "session-123", issued)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	claims, err := codec.Decode(cred)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("Expected username alice, got %s", claims.Username)
	}
	if claims.SessionID != "session-123" {
		t.Errorf("Expected session id session-123, got %s", claims.SessionID)
	}
	if !claims.IssuedAt.Equal(issued) {
		t.Errorf("Expected issuedAt %v, got %v", issued, claims.IssuedAt)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := token.NewCodec("test-secret")

	for _, cred := range []string{"", "not-a-token", "a.b.c", "only:colons:here"} {
		if _, err := codec.Decode(cred); err != token.ErrInvalidFormat {
			t.Errorf("Decode(%q): expected ErrInvalidFormat, got %v", cred, err)
		}
	}
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	minter := token.NewCodec("secret-a")
	verifier := token.NewCodec("secret-b")

	cred, err := minter.Encode("alice", "session-123", time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := verifier.Decode(cred); err != token.ErrInvalidFormat {
		t.Errorf("Expected ErrInvalidFormat for foreign signature, got %v", err)
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	codec := token.NewCodec("test-secret")

	// A credential minted without a session id must not validate.
	cred, err := codec.Encode("alice", "", time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := codec.Decode(cred); err != token.ErrInvalidFormat {
		t.Errorf("Expected ErrInvalidFormat for empty session id, got %v", err)
	}
}
