package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/postlinehq/postline/internal/apperrors"
)

const defaultMastodonInstance = "https://mastodon.social"

// Mastodon implements OAuth against a Mastodon instance. Every URL is
// relative to the instance base, so bring-your-own-keys credentials may point
// the adapter at a different server. Access tokens never expire; validity is
// checked with verify_credentials, which doubles as the identity endpoint.
type Mastodon struct {
	cfg   Config
	creds ClientCredentials
}

func NewMastodon(creds ClientCredentials) *Mastodon {
	if creds.BaseURL == "" {
		creds.BaseURL = defaultMastodonInstance
	}
	base := strings.TrimRight(creds.BaseURL, "/")
	return &Mastodon{
		cfg: Config{
			ID:            "mastodon",
			DisplayName:   "Mastodon",
			AuthorizeURL:  base + "/oauth/authorize",
			TokenURL:      base + "/oauth/token",
			IdentityURL:   base + "/api/v1/accounts/verify_credentials",
			VerifyURL:     base + "/api/v1/accounts/verify_credentials",
			DefaultScopes: []string{"read", "write"},
			SupportsRefresh:      false,
			SupportsVerification: true,
			TokensExpire:         false,
			RequiresPKCE:         false,
		},
		creds: creds,
	}
}

func (m *Mastodon) Config() Config { return m.cfg }

// base returns the instance root for the effective credentials.
func (m *Mastodon) base(creds ClientCredentials) string {
	if creds.BaseURL != "" {
		return strings.TrimRight(creds.BaseURL, "/")
	}
	return strings.TrimRight(m.creds.BaseURL, "/")
}

func (m *Mastodon) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(m.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(m.cfg.DefaultScopes, req.AdditionalScopes, " "))
	return m.base(creds) + "/oauth/authorize?" + q.Encode(), nil
}

func (m *Mastodon) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(m.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("scope", joinScopes(m.cfg.DefaultScopes, nil, " "))
	return postToken(ctx, m.cfg.ID, apperrors.CodeExchangeFailed, m.base(creds)+"/oauth/token", form)
}

// VerifyToken checks the token against verify_credentials. A definite
// rejection maps to Valid=false; transport and server failures stay errors.
func (m *Mastodon) VerifyToken(ctx context.Context, accessToken string) (*Verification, error) {
	account, err := m.verifyCredentials(ctx, accessToken)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeTokenRevoked) {
			return &Verification{Valid: false}, nil
		}
		return nil, err
	}
	return &Verification{
		Valid:  true,
		UserID: account.ID,
	}, nil
}

func (m *Mastodon) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	account, err := m.verifyCredentials(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	displayName := account.DisplayName
	if displayName == "" {
		displayName = account.Username
	}
	return &Identity{
		ProviderAccountID: account.ID,
		Username:          account.Acct,
		DisplayName:       displayName,
		AvatarURL:         account.Avatar,
		Metadata: map[string]any{
			"url":             account.URL,
			"followers_count": account.FollowersCount,
			"instance":        m.base(m.creds),
		},
	}, nil
}

type mastodonAccount struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Acct           string `json:"acct"`
	DisplayName    string `json:"display_name"`
	Avatar         string `json:"avatar"`
	URL            string `json:"url"`
	FollowersCount int64  `json:"followers_count"`
}

func (m *Mastodon) verifyCredentials(ctx context.Context, accessToken string) (*mastodonAccount, error) {
	var account mastodonAccount
	endpoint := m.base(m.creds) + "/api/v1/accounts/verify_credentials"
	if err := getJSON(ctx, m.cfg.ID, apperrors.CodeIdentityFailed, endpoint, accessToken, &account); err != nil {
		return nil, err
	}
	return &account, nil
}
