package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeUnknownProvider:    http.StatusNotFound,
		CodeMissingConfig:      http.StatusInternalServerError,
		CodeInvalidState:       http.StatusBadRequest,
		CodeMissingCode:        http.StatusBadRequest,
		CodeAccessDenied:       http.StatusForbidden,
		CodeExchangeFailed:     http.StatusBadGateway,
		CodeRefreshFailed:      http.StatusBadGateway,
		CodeVerificationFailed: http.StatusUnauthorized,
		CodeTokenExpired:       http.StatusUnauthorized,
		CodeTokenRevoked:       http.StatusUnauthorized,
		CodeIdentityFailed:     http.StatusBadGateway,
		CodeConnectionNotFound: http.StatusNotFound,
		CodeConnectionExists:   http.StatusConflict,
		CodeEncryptionFailed:   http.StatusInternalServerError,
		CodeProviderError:      http.StatusBadGateway,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeUnauthenticated:    http.StatusUnauthorized,
		CodeInternal:           http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), "code %s", code)
	}
}

func TestErrorString(t *testing.T) {
	err := FromProvider(CodeExchangeFailed, "reddit", "token exchange failed", errors.New("status 500"))
	assert.Equal(t, "EXCHANGE_FAILED [reddit]: token exchange failed: status 500", err.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeRefreshFailed, "refresh failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestInternalFoldsUntypedErrors(t *testing.T) {
	t.Run("untyped error becomes INTERNAL", func(t *testing.T) {
		err := Internal(errors.New("sql: connection refused"))
		assert.Equal(t, CodeInternal, err.Code)
		assert.Equal(t, "internal error", err.Message)
	})

	t.Run("typed error passes through", func(t *testing.T) {
		orig := New(CodeInvalidState, "state mismatch")
		got := Internal(orig)
		assert.Same(t, orig, got)
	})

	t.Run("typed error inside a wrap chain passes through", func(t *testing.T) {
		orig := New(CodeConnectionNotFound, "no connection")
		wrapped := fmt.Errorf("loading connection: %w", orig)
		got := Internal(wrapped)
		assert.Equal(t, CodeConnectionNotFound, got.Code)
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeAccessDenied, CodeOf(New(CodeAccessDenied, "denied")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", New(CodeMissingCode, "no code"))
	assert.Equal(t, CodeMissingCode, CodeOf(wrapped))
}

func TestIsCode(t *testing.T) {
	err := New(CodeTokenExpired, "token expired, please reconnect")
	assert.True(t, IsCode(err, CodeTokenExpired))
	assert.False(t, IsCode(err, CodeTokenRevoked))
}

func TestRateLimited(t *testing.T) {
	err := RateLimited("twitter", 30*time.Second, errors.New("429"))
	require.Equal(t, CodeRateLimited, err.Code)
	assert.Equal(t, "twitter", err.Provider)
	assert.Equal(t, 30*time.Second, err.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}
