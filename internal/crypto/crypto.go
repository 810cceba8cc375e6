// Package crypto implements the at-rest encryption feature named in
// Swarm.encryption (spec.md §3, §4.12): a swarm's persisted objective is
// sealed with ChaCha20-Poly1305 before it reaches the store when a swarm is
// created with Encryption=true (internal/swarm). The same Sealer is reused
// by internal/memory to optionally seal collective-memory values, gated by
// a process-wide configuration flag rather than a per-swarm one.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealer seals and opens byte payloads with a single key.
type Sealer struct {
	aead chacha20poly1305.AEAD
}

// NewSealer builds a Sealer from a 32-byte key (e.g. one from DeriveKey).
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a fresh random 32-byte key suitable for NewSealer.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a stable 32-byte key from a secret and a context label
// via HKDF-SHA256, so the same secret always yields the same sealing key
// without having to persist the key itself.
func DeriveKey(secret, info []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext, prefixing the returned ciphertext with a random
// nonce so Open is self-contained.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}
