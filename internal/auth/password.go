// Package auth holds credential hashing, bearer-token issuance and the
// optional TOTP second factor.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 120000
	saltLen          = 16
	keyLen           = 32
)

// HashPassword derives a PBKDF2-HMAC-SHA256 digest under a fresh random
// salt and returns base64(salt || digest).
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	digest := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, digest...)), nil
}

// VerifyPassword checks a candidate password against a stored hash in
// constant time. Malformed stored hashes verify as false.
func VerifyPassword(password, stored string) bool {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(raw) != saltLen+keyLen {
		return false
	}
	salt, digest := raw[:saltLen], raw[saltLen:]
	candidate := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(candidate, digest) == 1
}
