package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYouTubeAuthorizationURLRequestsOfflineAccess(t *testing.T) {
	yt := NewYouTube(testCreds())

	raw, err := yt.AuthorizationURL(AuthorizeRequest{
		RedirectURI: "https://app.example.com/api/oauth/callback/youtube",
		State:       "st4te",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Contains(t, q.Get("scope"), "youtube.upload")
}

func TestYouTubeRefreshPreservesNoRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "app-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "app-secret", r.PostForm.Get("client_secret"))

		// Google does not return the refresh token on refresh.
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.fresh",
			"token_type":   "Bearer",
			"expires_in":   3599,
		})
	}))
	defer srv.Close()

	yt := NewYouTube(testCreds())
	yt.cfg.TokenURL = srv.URL

	tok, err := yt.RefreshAccessToken(context.Background(), RefreshRequest{RefreshToken: "1//refresh"})
	require.NoError(t, err)
	assert.Equal(t, "ya29.fresh", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
}

func TestYouTubeVerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ya29.token", r.URL.Query().Get("access_token"))

		// tokeninfo reports expires_in as a string.
		json.NewEncoder(w).Encode(map[string]any{
			"aud":        "app-id.apps.googleusercontent.com",
			"sub":        "108000000000000000000",
			"scope":      "https://www.googleapis.com/auth/youtube.upload https://www.googleapis.com/auth/userinfo.email",
			"expires_in": "3093",
		})
	}))
	defer srv.Close()

	yt := NewYouTube(testCreds())
	yt.cfg.VerifyURL = srv.URL

	v, err := yt.VerifyToken(context.Background(), "ya29.token")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "108000000000000000000", v.UserID)
	assert.Len(t, v.Scopes, 2)
	require.NotNil(t, v.ExpiresAt)
}

func TestYouTubeIdentityWithChannels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "108000000000000000000",
			"name":    "Pat Example",
			"email":   "pat@example.com",
			"picture": "https://lh3.example.com/pat.jpg",
		})
	})
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snippet", r.URL.Query().Get("part"))
		assert.Equal(t, "true", r.URL.Query().Get("mine"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id": "UC123",
					"snippet": map[string]any{
						"title":     "Pat's Channel",
						"customUrl": "@patexample",
					},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	yt := NewYouTube(testCreds())
	yt.cfg.IdentityURL = srv.URL + "/userinfo"
	yt.channelsURL = srv.URL + "/channels"

	id, err := yt.Identity(context.Background(), "ya29.token")
	require.NoError(t, err)
	assert.Equal(t, "108000000000000000000", id.ProviderAccountID)

	channels, ok := id.Metadata["channels"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, channels, 1)
	assert.Equal(t, "Pat's Channel", channels[0]["title"])
}
