package provider

import (
	"context"
	"net/url"

	"github.com/postlinehq/postline/internal/apperrors"
)

// Instagram implements the Basic Display flow. The code exchange yields a
// short-lived token which must immediately be upgraded via ig_exchange_token;
// there is no refresh grant.
type Instagram struct {
	cfg         Config
	creds       ClientCredentials
	exchangeURL string
}

func NewInstagram(creds ClientCredentials) *Instagram {
	return &Instagram{
		cfg: Config{
			ID:            "instagram",
			DisplayName:   "Instagram",
			AuthorizeURL:  "https://api.instagram.com/oauth/authorize",
			TokenURL:      "https://api.instagram.com/oauth/access_token",
			IdentityURL:   "https://graph.instagram.com/me",
			DefaultScopes: []string{"user_profile", "user_media"},
			SupportsRefresh:       false,
			SupportsVerification:  false,
			TokensExpire:          true,
			RequiresPKCE:          false,
			SupportsTokenExchange: true,
		},
		creds:       creds,
		exchangeURL: "https://graph.instagram.com/access_token",
	}
}

func (i *Instagram) Config() Config { return i.cfg }

func (i *Instagram) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(i.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(i.cfg.DefaultScopes, req.AdditionalScopes, ","))
	return i.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (i *Instagram) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(i.creds, req.Credentials)

	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("code", req.Code)
	return postToken(ctx, i.cfg.ID, apperrors.CodeExchangeFailed, i.cfg.TokenURL, form)
}

// ExchangeForLongLivedToken upgrades a short-lived token to the ~60 day
// variant. Instagram serves this grant over GET with query parameters.
func (i *Instagram) ExchangeForLongLivedToken(ctx context.Context, accessToken string, override *ClientCredentials) (*Token, error) {
	creds := resolveCreds(i.creds, override)

	q := url.Values{}
	q.Set("grant_type", "ig_exchange_token")
	q.Set("client_secret", creds.ClientSecret)
	q.Set("access_token", accessToken)

	var wire tokenWire
	if err := getJSON(ctx, i.cfg.ID, apperrors.CodeExchangeFailed, i.exchangeURL+"?"+q.Encode(), "", &wire); err != nil {
		return nil, err
	}
	if wire.AccessToken == "" {
		return nil, apperrors.FromProvider(apperrors.CodeExchangeFailed, i.cfg.ID, "token response missing access token", nil)
	}
	return &Token{
		AccessToken: wire.AccessToken,
		TokenType:   wire.TokenType,
		ExpiresIn:   wire.ExpiresIn,
		ExpiresAt:   expiryFromSeconds(wire.ExpiresIn),
		Scope:       wire.Scope,
	}, nil
}

func (i *Instagram) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		AccountType string `json:"account_type"`
		MediaCount  int64  `json:"media_count"`
	}

	// Basic Display authenticates reads with a query parameter, not a header.
	q := url.Values{}
	q.Set("fields", "id,username,account_type,media_count")
	q.Set("access_token", accessToken)
	if err := getJSON(ctx, i.cfg.ID, apperrors.CodeIdentityFailed, i.cfg.IdentityURL+"?"+q.Encode(), "", &me); err != nil {
		return nil, err
	}

	return &Identity{
		ProviderAccountID: me.ID,
		Username:          me.Username,
		DisplayName:       me.Username,
		Metadata: map[string]any{
			"account_type": me.AccountType,
			"media_count":  me.MediaCount,
		},
	}, nil
}
