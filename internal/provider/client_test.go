package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postlinehq/postline/internal/apperrors"
)

func TestJoinScopes(t *testing.T) {
	t.Run("merges and deduplicates", func(t *testing.T) {
		got := joinScopes([]string{"read", "write"}, []string{"write", "follow"}, " ")
		assert.Equal(t, "read write follow", got)
	})

	t.Run("skips empty entries", func(t *testing.T) {
		got := joinScopes([]string{"read", ""}, nil, ",")
		assert.Equal(t, "read", got)
	})
}

func TestRetryAfter(t *testing.T) {
	t.Run("delta seconds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"90"}}}
		assert.Equal(t, 90*time.Second, retryAfter(resp))
	})

	t.Run("http date", func(t *testing.T) {
		at := time.Now().Add(2 * time.Minute).UTC()
		resp := &http.Response{Header: http.Header{"Retry-After": []string{at.Format(http.TimeFormat)}}}
		got := retryAfter(resp)
		assert.Greater(t, got, time.Minute)
		assert.LessOrEqual(t, got, 2*time.Minute)
	})

	t.Run("absent", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Zero(t, retryAfter(resp))
	})

	t.Run("garbage", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"soon"}}}
		assert.Zero(t, retryAfter(resp))
	})
}

func TestProviderErrorDetail(t *testing.T) {
	assert.Equal(t, "invalid_grant: code expired",
		providerErrorDetail([]byte(`{"error":"invalid_grant","error_description":"code expired"}`)))
	assert.Equal(t, "invalid_request", providerErrorDetail([]byte(`{"error":"invalid_request"}`)))
	assert.Equal(t, "nope", providerErrorDetail([]byte(`nope`)))
	assert.Equal(t, "(empty body)", providerErrorDetail(nil))
}

func TestGetJSONMapsUnauthorizedToRevoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": "invalid_token"})
	}))
	defer srv.Close()

	var out map[string]any
	err := getJSON(context.Background(), "test", apperrors.CodeIdentityFailed, srv.URL, "dead-token", &out)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTokenRevoked))
}

func TestTikTokExchangeUsesClientKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "app-id", r.PostForm.Get("client_key"))
		assert.Empty(t, r.PostForm.Get("client_id"))
		assert.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "act.token",
			"refresh_token": "rft.token",
			"expires_in":    86400,
			"open_id":       "open-123",
			"token_type":    "Bearer",
		})
	}))
	defer srv.Close()

	tk := NewTikTok(testCreds())
	tk.cfg.TokenURL = srv.URL

	tok, err := tk.ExchangeCode(context.Background(), ExchangeRequest{
		Code:         "auth-code",
		RedirectURI:  "https://app.example.com/cb",
		CodeVerifier: "the-verifier",
	})
	require.NoError(t, err)
	assert.Equal(t, "act.token", tok.AccessToken)
	assert.Equal(t, "open-123", tok.Raw["open_id"])
}

func TestTikTokIdentityReportsEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// TikTok wraps failures in a 200 response.
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{},
			"error": map[string]any{
				"code":    "access_token_invalid",
				"message": "The access token is invalid or not found",
			},
		})
	}))
	defer srv.Close()

	tk := NewTikTok(testCreds())
	tk.cfg.IdentityURL = srv.URL

	_, err := tk.Identity(context.Background(), "dead-token")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeIdentityFailed))
	assert.Contains(t, err.Error(), "access_token_invalid")
}
