package provider

import (
	"context"
	"net/url"

	"github.com/postlinehq/postline/internal/apperrors"
)

// Twitter implements the X/Twitter v2 OAuth flow. PKCE is mandatory, the
// token endpoint wants Basic client authentication, and every refresh rotates
// the refresh token.
type Twitter struct {
	cfg   Config
	creds ClientCredentials
}

func NewTwitter(creds ClientCredentials) *Twitter {
	return &Twitter{
		cfg: Config{
			ID:           "twitter",
			DisplayName:  "Twitter / X",
			AuthorizeURL: "https://twitter.com/i/oauth2/authorize",
			TokenURL:     "https://api.twitter.com/2/oauth2/token",
			IdentityURL:  "https://api.twitter.com/2/users/me",
			DefaultScopes: []string{
				"tweet.read",
				"tweet.write",
				"users.read",
				"offline.access",
			},
			SupportsRefresh:      true,
			SupportsVerification: false,
			TokensExpire:         true,
			RequiresPKCE:         true,
		},
		creds: creds,
	}
}

func (t *Twitter) Config() Config { return t.cfg }

func (t *Twitter) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(t.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(t.cfg.DefaultScopes, req.AdditionalScopes, " "))
	q.Set("code_challenge", CodeChallengeS256(req.CodeVerifier))
	q.Set("code_challenge_method", "S256")
	return t.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (t *Twitter) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(t.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("code_verifier", req.CodeVerifier)
	form.Set("client_id", creds.ClientID)
	return postToken(ctx, t.cfg.ID, apperrors.CodeExchangeFailed, t.cfg.TokenURL, form,
		withBasicAuth(creds.ClientID, creds.ClientSecret))
}

func (t *Twitter) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(t.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	form.Set("client_id", creds.ClientID)
	return postToken(ctx, t.cfg.ID, apperrors.CodeRefreshFailed, t.cfg.TokenURL, form,
		withBasicAuth(creds.ClientID, creds.ClientSecret))
}

func (t *Twitter) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var out struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}

	q := url.Values{}
	q.Set("user.fields", "id,name,username,profile_image_url")
	if err := getJSON(ctx, t.cfg.ID, apperrors.CodeIdentityFailed, t.cfg.IdentityURL+"?"+q.Encode(), accessToken, &out); err != nil {
		return nil, err
	}

	return &Identity{
		ProviderAccountID: out.Data.ID,
		Username:          out.Data.Username,
		DisplayName:       out.Data.Name,
		AvatarURL:         out.Data.ProfileImageURL,
	}, nil
}
