package session

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	s, err := NewSealer(secret)
	require.NoError(t, err)
	return s
}

func TestSealUnseal(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal("user-1", time.Hour)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "user-1")

	principal, err := s.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal)
}

func TestUnsealRejects(t *testing.T) {
	s := newTestSealer(t)
	other := newTestSealer(t)

	expired, err := s.Seal("user-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Seal("user-1", time.Hour)
	require.NoError(t, err)
	valid, err := s.Seal("user-1", time.Hour)
	require.NoError(t, err)
	tampered := valid[:len(valid)-2] + "AA"
	if tampered == valid {
		tampered = valid[:len(valid)-2] + "BB"
	}

	tests := map[string]string{
		"expired":       expired,
		"other key":     foreign,
		"tampered":      tampered,
		"not base64":    "%%%",
		"too short":     "YWJj",
		"random opaque": "b4d7f1e0c9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Unseal(token)
			assert.Error(t, err)
		})
	}
}

func TestSealRequiresPrincipal(t *testing.T) {
	_, err := newTestSealer(t).Seal("", time.Hour)
	assert.Error(t, err)
}

func TestNewSealerKeyLength(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestSealerDerivesSeparateKeys(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		secret := bytes.Repeat([]byte{0x42}, size)
		s, err := NewSealer(secret)
		require.NoError(t, err)

		assert.Len(t, s.signingKey, 32)
		assert.Len(t, s.encryptionKey, size)
		assert.NotEqual(t, s.signingKey[:size], s.encryptionKey)
		assert.NotEqual(t, secret, s.encryptionKey)
		assert.NotEqual(t, secret, s.signingKey[:size])

		again, err := NewSealer(secret)
		require.NoError(t, err)
		sealed, err := s.Seal("user-1", time.Hour)
		require.NoError(t, err)
		principal, err := again.Unseal(sealed)
		require.NoError(t, err, "keys are deterministic for a secret")
		assert.Equal(t, "user-1", principal)
	}
}
