// Package password wraps bcrypt hashing for user credentials.
package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the longest accepted raw password. bcrypt ignores input
// beyond 72 bytes, so longer passwords are rejected up front.
const MaxLength = 72

// Hash returns a salted bcrypt hash of the raw password. Each call uses a
// fresh salt, so hashing the same input twice yields different tokens.
func Hash(raw string) (string, error) {
	if len(raw) > MaxLength {
		return "", fmt.Errorf("password exceeds %d bytes", MaxLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether raw matches the stored hash. A malformed hash is a
// verification failure, not an error.
func Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
