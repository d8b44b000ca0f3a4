package invite

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// codeAlphabet omits 0/O/1/I to keep hand-typed codes unambiguous.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeRandomLen = 10

// codePattern constrains admin-supplied custom codes.
var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{4,64}$`)

// GenerateCode produces a new invite token of the form INV-XXXXXXXXXX.
func GenerateCode() (string, error) {
	b := make([]byte, codeRandomLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	token := make([]byte, codeRandomLen)
	for i, v := range b {
		token[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return "INV-" + string(token), nil
}

// ValidCustomCode reports whether an admin-supplied code token is
// acceptable: 4-64 characters of upper-case letters, digits, underscore or
// hyphen.
func ValidCustomCode(code string) bool {
	return codePattern.MatchString(code)
}
