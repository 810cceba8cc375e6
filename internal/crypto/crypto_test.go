package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeal_Open_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)

	plaintext := []byte("collective memory is sensitive")
	sealed, err := s.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestSeal_ProducesDistinctCiphertextsForSameInput(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)

	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "a fresh random nonce must make repeated seals of the same plaintext differ")
}

func TestOpen_RejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = s.Open(sealed)
	require.Error(t, err)
}

func TestOpen_RejectsTooShortInput(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)

	_, err = s.Open([]byte("short"))
	require.Error(t, err)
}

func TestDeriveKey_IsDeterministicAndContextScoped(t *testing.T) {
	k1, err := DeriveKey([]byte("secret"), []byte("ctx-a"))
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("secret"), []byte("ctx-a"))
	require.NoError(t, err)
	require.Equal(t, k1, k2, "the same secret and context must always derive the same key")
	require.Len(t, k1, 32)

	k3, err := DeriveKey([]byte("secret"), []byte("ctx-b"))
	require.NoError(t, err)
	require.NotEqual(t, k1, k3, "a different context label must derive a different key")
}

func TestDeriveKey_UsableBySealer(t *testing.T) {
	key, err := DeriveKey([]byte("a-data-dir"), []byte("hivecore-memory-encryption"))
	require.NoError(t, err)

	s, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("value"))
	require.NoError(t, err)
	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "value", string(opened))
}
