package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const defaultCost = 12

// ErrInvalidKey is returned when an API key matches none of the configured
// hashes.
var ErrInvalidKey = errors.New("auth: invalid API key")

// KeyHasher hashes API keys and checks presented keys against a set of
// bcrypt hashes. The hashes live in configuration, never the keys.
type KeyHasher struct {
	cost   int
	hashes [][]byte
}

// NewKeyHasher creates a KeyHasher that accepts any key matching one of
// hashes. Malformed hashes are rejected up front.
func NewKeyHasher(hashes []string) (*KeyHasher, error) {
	return newKeyHasherWithCost(defaultCost, hashes)
}

func newKeyHasherWithCost(cost int, hashes []string) (*KeyHasher, error) {
	k := &KeyHasher{cost: cost}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("auth: api key hash %d: %w", i, err)
		}
		k.hashes = append(k.hashes, []byte(h))
	}
	return k, nil
}

// Hash returns the bcrypt hash of key, for the hash-key command.
func (k *KeyHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", errors.New("auth: API key is empty")
	}
	if len(key) > 72 {
		// bcrypt only looks at the first 72 bytes.
		return "", errors.New("auth: API key must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), k.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing API key: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when key matches one of the configured hashes.
func (k *KeyHasher) Verify(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for _, h := range k.hashes {
		err := bcrypt.CompareHashAndPassword(h, []byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("auth: comparing API key hash: %w", err)
		}
	}
	return ErrInvalidKey
}
