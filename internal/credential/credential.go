// Package credential hashes and verifies account passwords.
package credential

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type Verifier struct {
	cost            int
	legacyPlaintext bool
}

// NewVerifier returns a bcrypt verifier. With legacyPlaintext set, stored
// values that are not bcrypt hashes are compared as plaintext and reported
// as needing a rehash.
func NewVerifier(cost int, legacyPlaintext bool) *Verifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Verifier{cost: cost, legacyPlaintext: legacyPlaintext}
}

func (v *Verifier) Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plain matches stored and whether stored should be
// replaced with a fresh hash.
func (v *Verifier) Verify(stored, plain string) (ok bool, needsRehash bool) {
	if isBcrypt(stored) {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)); err != nil {
			return false, false
		}
		cost, err := bcrypt.Cost([]byte(stored))
		return true, err == nil && cost != v.cost
	}

	if !v.legacyPlaintext {
		return false, false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1 {
		return true, true
	}
	return false, false
}

func isBcrypt(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
