// Package authpw hashes and verifies account passwords.
package authpw

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted when an invite is accepted.
const MinPasswordLength = 8

var (
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Hasher wraps bcrypt with a configurable cost; tests use bcrypt.MinCost.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Validate checks the password policy without hashing.
func Validate(password string) error {
	if len(strings.TrimSpace(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

func (h *Hasher) Hash(password string) (string, error) {
	if err := Validate(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports ErrInvalidCredentials for a mismatch or an account without a password.
func (h *Hasher) Compare(hash, password string) error {
	if hash == "" || password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
