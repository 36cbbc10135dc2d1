package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxSecretLen is the longest secret bcrypt will hash without truncation.
const maxSecretLen = 72

var errEmptyHash = errors.New("auth: stored hash is empty")

// HashPassword returns the bcrypt hash of secret.
func HashPassword(secret string) (string, error) {
	switch {
	case secret == "":
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	case len(secret) > maxSecretLen:
		return "", fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxSecretLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether secret matches hash. The comparison runs in
// constant time with respect to the secret.
func VerifyPassword(hash, secret string) error {
	if hash == "" {
		return errEmptyHash
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
