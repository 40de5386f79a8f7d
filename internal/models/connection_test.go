package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocialConnectionExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil expiry never expires", func(t *testing.T) {
		c := &SocialConnection{}
		assert.False(t, c.Expired(now))
		assert.False(t, c.ExpiresWithin(now, 24*time.Hour))
	})

	t.Run("past expiry is expired", func(t *testing.T) {
		at := now.Add(-time.Minute)
		c := &SocialConnection{ExpiresAt: &at}
		assert.True(t, c.Expired(now))
	})

	t.Run("future expiry inside the window", func(t *testing.T) {
		at := now.Add(10 * time.Minute)
		c := &SocialConnection{ExpiresAt: &at}
		assert.False(t, c.Expired(now))
		assert.True(t, c.ExpiresWithin(now, 30*time.Minute))
		assert.False(t, c.ExpiresWithin(now, 5*time.Minute))
	})
}

func TestStringListRoundTrip(t *testing.T) {
	v, err := StringList{"read", "write"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["read","write"]`, v)

	var out StringList
	require.NoError(t, out.Scan([]byte(`["read","write"]`)))
	assert.Equal(t, StringList{"read", "write"}, out)

	var empty StringList
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)

	nilValue, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", nilValue)
}

func TestJSONMapRoundTrip(t *testing.T) {
	v, err := JSONMap{"pages": []any{map[string]any{"id": "p1"}}}.Value()
	require.NoError(t, err)

	var out JSONMap
	require.NoError(t, out.Scan(v.(string)))
	require.Contains(t, out, "pages")

	assert.Error(t, out.Scan(42))
}
