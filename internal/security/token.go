package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const EmailVerificationTTL = 20 * time.Minute

// NewVerificationToken returns a random token for the email link and the
// sha256 hash that is stored in its place.
func NewVerificationToken() (raw string, hashed string, err error) {
	b := make([]byte, 20)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	raw = hex.EncodeToString(b)
	return raw, HashVerificationToken(raw), nil
}

func HashVerificationToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
