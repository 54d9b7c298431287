// Package auth decides whether a client credential may open a stream.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Gate checks a shared secret. A gate with neither a password nor a hash
// admits everyone.
type Gate struct {
	password []byte
	hash     []byte
}

// NewGate builds a gate from a plaintext password or a bcrypt hash. When both
// are set the hash wins.
func NewGate(password, passwordHash string) (*Gate, error) {
	g := &Gate{}
	if h := strings.TrimSpace(passwordHash); h != "" {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, errors.Join(errors.New("auth.password_hash is not a bcrypt hash"), err)
		}
		g.hash = []byte(h)
		return g, nil
	}
	if password != "" {
		g.password = []byte(password)
	}
	return g, nil
}

// Enabled reports whether credentials are checked at all.
func (g *Gate) Enabled() bool {
	return g != nil && (len(g.hash) > 0 || len(g.password) > 0)
}

// IsAuthorized reports whether credential grants access.
func (g *Gate) IsAuthorized(credential string) bool {
	if !g.Enabled() {
		return true
	}
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(credential)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(credential), g.password) == 1
}

// HashPassword returns a bcrypt hash suitable for auth.password_hash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
