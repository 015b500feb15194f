package security

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if hash == "password123" {
		t.Fatalf("password stored in clear")
	}

	if err := CheckPassword(hash, "password123"); err != nil {
		t.Fatalf("CheckPassword(correct): %v", err)
	}

	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("CheckPassword(wrong) = %v, want ErrPasswordMismatch", err)
	}

	if err := CheckPassword("not-a-hash", "password123"); err == nil || errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("CheckPassword(bad hash) = %v, want a hash error", err)
	}
}

func TestHashPassword_RejectsOverlongInput(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("HashPassword(73 bytes) = %v, want ErrPasswordTooLong", err)
	}
}

func TestVerificationToken(t *testing.T) {
	raw, hashed, err := NewVerificationToken()
	if err != nil {
		t.Fatalf("NewVerificationToken: %v", err)
	}

	if len(raw) != 40 {
		t.Fatalf("raw token length = %d, want 40", len(raw))
	}

	if hashed != HashVerificationToken(raw) {
		t.Fatalf("hash mismatch")
	}

	other, _, _ := NewVerificationToken()
	if other == raw {
		t.Fatalf("tokens repeat")
	}
}
