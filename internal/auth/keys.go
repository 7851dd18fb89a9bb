// Package auth guards the service's MCP endpoint with API keys. Keys are
// configured as bcrypt hashes, so the plain keys never touch disk.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix distinguishes API keys from other bearer credentials.
	APIKeyPrefix = "wa_"

	// apiKeyRandomBytes is the entropy of a generated key.
	apiKeyRandomBytes = 32
)

// APIKey is a named bcrypt hash.
type APIKey struct {
	Name string
	Hash string
}

// KeyStore validates presented keys against the configured hashes. A
// successfully validated key is remembered by its SHA-256 digest so
// bcrypt runs once per key, not once per request.
type KeyStore struct {
	keys []APIKey

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewKeyStore creates a store over keys.
func NewKeyStore(keys []APIKey) *KeyStore {
	return &KeyStore{
		keys:     keys,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Validate returns the name of the key matching key.
func (s *KeyStore) Validate(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	digest := sha256.Sum256([]byte(key))

	s.mu.RLock()
	name, ok := s.verified[digest]
	s.mu.RUnlock()

	if ok {
		return name, true
	}

	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			s.mu.Lock()
			s.verified[digest] = k.Name
			s.mu.Unlock()

			return k.Name, true
		}
	}

	return "", false
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int { return len(s.keys) }

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating API key: %w", err)
	}

	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing API key: %w", err)
	}

	return string(hash), nil
}
