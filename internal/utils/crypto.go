package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateSecureCode returns 32 random bytes, URL-safe encoded. Used for partner API keys.
func GenerateSecureCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashSecret returns the bcrypt hash stored in configuration instead of the key itself.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// MatchesAny reports whether secret matches one of the bcrypt hashes.
func MatchesAny(secret string, hashes []string) bool {
	if secret == "" {
		return false
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(secret)) == nil {
			return true
		}
	}
	return false
}
