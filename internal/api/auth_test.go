package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := generateJWT("2f1f2df2-9e53-4f0e-8f63-111111111111", "test-secret")
	require.NoError(t, err)

	userID, err := parseJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "2f1f2df2-9e53-4f0e-8f63-111111111111", userID)
}

func TestParseJWTRejectsWrongSecret(t *testing.T) {
	token, err := generateJWT("user-1", "secret-a")
	require.NoError(t, err)

	_, err = parseJWT(token, "secret-b")
	assert.Error(t, err)
}

func TestParseJWTRejectsExpiredToken(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	tokenString, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = parseJWT(tokenString, "test-secret")
	assert.Error(t, err)
}

func TestParseJWTRejectsNonHMACAlgorithm(t *testing.T) {
	// alg=none style forgery: header claims a different algorithm.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": "user-1",
	})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = parseJWT(tokenString, "test-secret")
	assert.Error(t, err)
}

func TestParseJWTRequiresUserIDClaim(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = parseJWT(tokenString, "test-secret")
	assert.Error(t, err)
}
