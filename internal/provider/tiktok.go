package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/postlinehq/postline/internal/apperrors"
)

// TikTok implements the TikTok v2 OAuth flow. TikTok calls the client id
// "client_key" everywhere, requires PKCE, and rotates refresh tokens on every
// refresh.
type TikTok struct {
	cfg   Config
	creds ClientCredentials
}

func NewTikTok(creds ClientCredentials) *TikTok {
	return &TikTok{
		cfg: Config{
			ID:           "tiktok",
			DisplayName:  "TikTok",
			AuthorizeURL: "https://www.tiktok.com/v2/auth/authorize/",
			TokenURL:     "https://open.tiktokapis.com/v2/oauth/token/",
			IdentityURL:  "https://open.tiktokapis.com/v2/user/info/",
			DefaultScopes: []string{
				"user.info.basic",
				"video.publish",
				"video.upload",
			},
			SupportsRefresh:      true,
			SupportsVerification: false,
			TokensExpire:         true,
			RequiresPKCE:         true,
		},
		creds: creds,
	}
}

func (t *TikTok) Config() Config { return t.cfg }

func (t *TikTok) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(t.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_key", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(t.cfg.DefaultScopes, req.AdditionalScopes, ","))
	q.Set("code_challenge", CodeChallengeS256(req.CodeVerifier))
	q.Set("code_challenge_method", "S256")
	return t.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (t *TikTok) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(t.creds, req.Credentials)

	form := url.Values{}
	form.Set("client_key", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("code_verifier", req.CodeVerifier)
	return postToken(ctx, t.cfg.ID, apperrors.CodeExchangeFailed, t.cfg.TokenURL, form)
}

func (t *TikTok) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(t.creds, req.Credentials)

	form := url.Values{}
	form.Set("client_key", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	return postToken(ctx, t.cfg.ID, apperrors.CodeRefreshFailed, t.cfg.TokenURL, form)
}

func (t *TikTok) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var out struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				UnionID     string `json:"union_id"`
				AvatarURL   string `json:"avatar_url"`
				DisplayName string `json:"display_name"`
				Username    string `json:"username"`
			} `json:"user"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	q := url.Values{}
	q.Set("fields", "open_id,union_id,avatar_url,display_name,username")
	if err := getJSON(ctx, t.cfg.ID, apperrors.CodeIdentityFailed, t.cfg.IdentityURL+"?"+q.Encode(), accessToken, &out); err != nil {
		return nil, err
	}
	// TikTok reports failures inside a 200 body.
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return nil, apperrors.FromProvider(apperrors.CodeIdentityFailed, t.cfg.ID, "identity request failed",
			fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message))
	}

	user := out.Data.User
	username := user.Username
	if username == "" {
		username = user.DisplayName
	}
	return &Identity{
		ProviderAccountID: user.OpenID,
		Username:          username,
		DisplayName:       user.DisplayName,
		AvatarURL:         user.AvatarURL,
		Metadata: map[string]any{
			"union_id": user.UnionID,
		},
	}, nil
}
