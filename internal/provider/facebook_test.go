package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postlinehq/postline/internal/apperrors"
)

func testCreds() ClientCredentials {
	return ClientCredentials{ClientID: "app-id", ClientSecret: "app-secret"}
}

func TestFacebookAuthorizationURL(t *testing.T) {
	fb := NewFacebook(testCreds())

	raw, err := fb.AuthorizationURL(AuthorizeRequest{
		RedirectURI:      "https://app.example.com/api/oauth/callback/facebook",
		State:            "st4te",
		AdditionalScopes: []string{"ads_read"},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)

	q := u.Query()
	assert.Equal(t, "app-id", q.Get("client_id"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "pages_manage_posts,")
	assert.Contains(t, q.Get("scope"), "ads_read")
	assert.Empty(t, q.Get("code_challenge"))
}

func TestFacebookAuthorizationURLWithCredentialOverride(t *testing.T) {
	fb := NewFacebook(testCreds())

	raw, err := fb.AuthorizationURL(AuthorizeRequest{
		RedirectURI: "https://app.example.com/cb",
		State:       "s",
		Credentials: &ClientCredentials{ClientID: "byok-id", ClientSecret: "byok-secret"},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "byok-id", u.Query().Get("client_id"))
}

func TestFacebookExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "app-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "app-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "auth-code", r.PostForm.Get("code"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "short-lived",
			"token_type":   "bearer",
			"expires_in":   5183944,
		})
	}))
	defer srv.Close()

	fb := NewFacebook(testCreds())
	fb.cfg.TokenURL = srv.URL

	tok, err := fb.ExchangeCode(context.Background(), ExchangeRequest{
		Code:        "auth-code",
		RedirectURI: "https://app.example.com/cb",
	})
	require.NoError(t, err)
	assert.Equal(t, "short-lived", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
	require.NotNil(t, tok.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(5183944*time.Second), *tok.ExpiresAt, 5*time.Second)
}

func TestFacebookExchangeCodeRejectsErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "the code has expired",
		})
	}))
	defer srv.Close()

	fb := NewFacebook(testCreds())
	fb.cfg.TokenURL = srv.URL

	_, err := fb.ExchangeCode(context.Background(), ExchangeRequest{Code: "stale"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeExchangeFailed))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestFacebookExchangeCodeRejectsMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token_type": "bearer"})
	}))
	defer srv.Close()

	fb := NewFacebook(testCreds())
	fb.cfg.TokenURL = srv.URL

	_, err := fb.ExchangeCode(context.Background(), ExchangeRequest{Code: "c"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeExchangeFailed))
}

func TestFacebookRateLimitedExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	fb := NewFacebook(testCreds())
	fb.cfg.TokenURL = srv.URL

	_, err := fb.ExchangeCode(context.Background(), ExchangeRequest{Code: "c"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRateLimited))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 2*time.Minute, appErr.RetryAfter)
}

func TestFacebookLongLivedExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "fb_exchange_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "short-lived", r.PostForm.Get("fb_exchange_token"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "long-lived",
			"token_type":   "bearer",
			"expires_in":   5183944,
		})
	}))
	defer srv.Close()

	fb := NewFacebook(testCreds())
	fb.cfg.TokenURL = srv.URL

	tok, err := fb.ExchangeForLongLivedToken(context.Background(), "short-lived", nil)
	require.NoError(t, err)
	assert.Equal(t, "long-lived", tok.AccessToken)
}

func TestFacebookVerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "user-token", q.Get("input_token"))
		assert.Equal(t, "app-id|app-secret", q.Get("access_token"))

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"app_id":     "app-id",
				"user_id":    "10001",
				"is_valid":   true,
				"expires_at": time.Now().Add(time.Hour).Unix(),
				"scopes":     []string{"public_profile", "email"},
			},
		})
	}))
	defer srv.Close()

	fb := NewFacebook(testCreds())
	fb.cfg.VerifyURL = srv.URL

	v, err := fb.VerifyToken(context.Background(), "user-token")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "10001", v.UserID)
	assert.Equal(t, "app-id", v.AppID)
	assert.Contains(t, v.Scopes, "email")
	require.NotNil(t, v.ExpiresAt)
}

func TestFacebookIdentity(t *testing.T) {
	t.Run("includes pages when the fan-out succeeds", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"id":    "10001",
				"name":  "Pat Example",
				"email": "pat@example.com",
				"picture": map[string]any{
					"data": map[string]any{"url": "https://cdn.example.com/pat.jpg"},
				},
			})
		})
		mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "p1", "name": "Page One", "category": "Brand"},
				},
			})
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		fb := NewFacebook(testCreds())
		fb.cfg.IdentityURL = srv.URL + "/me"
		fb.pagesURL = srv.URL + "/me/accounts"

		id, err := fb.Identity(context.Background(), "user-token")
		require.NoError(t, err)
		assert.Equal(t, "10001", id.ProviderAccountID)
		assert.Equal(t, "Pat Example", id.DisplayName)
		assert.Equal(t, "pat@example.com", id.Email)
		assert.Equal(t, "https://cdn.example.com/pat.jpg", id.AvatarURL)

		pages, ok := id.Metadata["pages"].([]map[string]any)
		require.True(t, ok)
		require.Len(t, pages, 1)
		assert.Equal(t, "Page One", pages[0]["name"])
	})

	t.Run("survives a failing pages fan-out", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"id": "10001", "name": "Pat Example"})
		})
		mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		fb := NewFacebook(testCreds())
		fb.cfg.IdentityURL = srv.URL + "/me"
		fb.pagesURL = srv.URL + "/me/accounts"

		id, err := fb.Identity(context.Background(), "user-token")
		require.NoError(t, err)
		assert.Equal(t, "10001", id.ProviderAccountID)
		assert.NotContains(t, id.Metadata, "pages")
	})
}
