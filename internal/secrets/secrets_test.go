package secrets

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestNewEncryptor(t *testing.T) {
	t.Run("accepts a 32-byte key", func(t *testing.T) {
		enc, err := NewEncryptor(testKey(t))
		require.NoError(t, err)
		require.NotNil(t, enc)
	})

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := NewEncryptor(make([]byte, 16))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("rejects empty keys", func(t *testing.T) {
		_, err := NewEncryptor(nil)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	cases := []string{
		"",
		"a",
		"ya29.a0AfH6SMC-short-lived-token",
		strings.Repeat("long-refresh-token-", 200),
		"token with spaces and unicode ✓ émojis",
	}

	for _, plaintext := range cases {
		blob, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, blob)

		got, err := enc.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	a, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	// Fresh nonce per call means the blobs must differ.
	assert.NotEqual(t, a, b)
}

func TestDecryptFailsClosed(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		blob, err := enc.Encrypt("secret-token")
		require.NoError(t, err)

		other, err := NewEncryptor(testKey(t))
		require.NoError(t, err)

		_, err = other.Decrypt(blob)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		blob, err := enc.Encrypt("secret-token")
		require.NoError(t, err)

		tampered := []byte(blob)
		// Flip one character somewhere past the nonce prefix.
		i := len(tampered) - 2
		if tampered[i] == 'A' {
			tampered[i] = 'B'
		} else {
			tampered[i] = 'A'
		}

		_, err = enc.Decrypt(string(tampered))
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := enc.Decrypt("!!! not base64 !!!")
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := enc.Decrypt("AAAA")
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestGenerateToken(t *testing.T) {
	t.Run("returns base64url without padding", func(t *testing.T) {
		token, err := GenerateToken(32)
		require.NoError(t, err)
		assert.NotContains(t, token, "=")
		assert.NotContains(t, token, "+")
		assert.NotContains(t, token, "/")
	})

	t.Run("unique across calls", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := GenerateToken(32)
			require.NoError(t, err)
			assert.False(t, seen[token])
			seen[token] = true
		}
	})
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
	assert.False(t, Equal("abc", "abcd"))
	assert.True(t, Equal("", ""))
}
