package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations is the PBKDF2 work factor.
const pbkdf2Iterations = 210_000

// keyLength is the derived key size in bytes.
const keyLength = 32

// Hasher is the one-way credential transform. Hash is deterministic for a
// given plaintext and salt; Verify re-hashes and compares, it never reverses.
type Hasher interface {
	Hash(plaintext, salt string) string
	Verify(plaintext, salt, expected string) bool
}

// PBKDF2Hasher derives password hashes with PBKDF2-SHA256 and a per-account
// salt.
type PBKDF2Hasher struct {
	iterations int
}

// NewHasher creates a hasher with the production work factor.
func NewHasher() *PBKDF2Hasher {
	return &PBKDF2Hasher{iterations: pbkdf2Iterations}
}

// NewHasherWithIterations creates a hasher with a custom work factor.
// Intended for tests, where the production factor is needlessly slow.
func NewHasherWithIterations(iterations int) *PBKDF2Hasher {
	return &PBKDF2Hasher{iterations: iterations}
}

// Hash derives a hex-encoded key from the plaintext and salt.
func (h *PBKDF2Hasher) Hash(plaintext, salt string) string {
	key := pbkdf2.Key([]byte(plaintext), []byte(salt), h.iterations, keyLength, sha256.New)
	return hex.EncodeToString(key)
}

// Verify re-hashes the plaintext and compares in constant time.
func (h *PBKDF2Hasher) Verify(plaintext, salt, expected string) bool {
	computed := h.Hash(plaintext, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}

// NewSalt generates a fresh per-account salt.
func NewSalt() string {
	return uuid.New().String()
}
