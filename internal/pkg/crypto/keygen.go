// Package crypto provides key and token generation for the premium key manager.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// AdminTokenLength is the length of generated admin API tokens.
	AdminTokenLength = 40

	// tokenChars contains characters used in admin tokens.
	tokenChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrTokenMismatch indicates a presented admin token does not match the stored hash.
var ErrTokenMismatch = errors.New("admin token does not match")

// GenerateKeyID generates a new premium key identifier (random UUID v4).
func GenerateKeyID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate key ID: %w", err)
	}
	return id.String(), nil
}

// GenerateAdminToken generates a random admin API token.
func GenerateAdminToken() (string, error) {
	return generateRandomString(AdminTokenLength, tokenChars)
}

// HashAdminToken returns the bcrypt hash stored in configuration for token.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin token: %w", err)
	}
	return string(hash), nil
}

// VerifyAdminToken checks token against a bcrypt hash.
func VerifyAdminToken(hash, token string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return fmt.Errorf("failed to verify admin token: %w", err)
	}
	return nil
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	charsetLen := len(charset)

	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	for i := 0; i < length; i++ {
		result[i] = charset[int(randomBytes[i])%charsetLen]
	}

	return string(result), nil
}
