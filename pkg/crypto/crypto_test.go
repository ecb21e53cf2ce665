package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key := DeriveKey([]byte("correct horse battery staple"), salt)

	plaintext := []byte("the quick brown fox")
	sealed, err := Seal(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealNonceIsRandom(t *testing.T) {
	key := make([]byte, KeyLength)
	a, err := Seal(key, []byte("same input"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenWrongKey(t *testing.T) {
	key := make([]byte, KeyLength)
	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	wrong := make([]byte, KeyLength)
	wrong[0] = 1
	_, err = Open(wrong, sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestOpenTampered(t *testing.T) {
	key := make([]byte, KeyLength)
	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Open(key, sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestOpenTooShort(t *testing.T) {
	key := make([]byte, KeyLength)
	_, err := Open(key, make([]byte, NonceLength))
	assert.ErrorIs(t, err, ErrSealedTooShort)
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := Seal([]byte("short"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = Open([]byte("short"), make([]byte, 64))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltLength)
	k1 := DeriveKey([]byte("pass"), salt)
	k2 := DeriveKey([]byte("pass"), salt)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeyLength)

	k3 := DeriveKey([]byte("other"), salt)
	assert.NotEqual(t, k1, k3)
}

func TestSecureWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	SecureWipe(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
}
