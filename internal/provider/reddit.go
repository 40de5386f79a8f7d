package provider

import (
	"context"
	"net/url"

	"github.com/postlinehq/postline/internal/apperrors"
)

// redditUserAgent follows Reddit's API rules: a descriptive, unique agent
// string. Generic agents get throttled aggressively.
const redditUserAgent = "web:postline:v1.0 (by /u/postline)"

// Reddit implements the Reddit OAuth flow. The token endpoint requires Basic
// client authentication, authorize URLs need duration=permanent to receive a
// refresh token at all, and refresh responses omit the refresh token (the
// original stays valid).
type Reddit struct {
	cfg   Config
	creds ClientCredentials
}

func NewReddit(creds ClientCredentials) *Reddit {
	return &Reddit{
		cfg: Config{
			ID:            "reddit",
			DisplayName:   "Reddit",
			AuthorizeURL:  "https://www.reddit.com/api/v1/authorize",
			TokenURL:      "https://www.reddit.com/api/v1/access_token",
			IdentityURL:   "https://oauth.reddit.com/api/v1/me",
			DefaultScopes: []string{"identity", "submit", "read"},
			ExtraAuthParams: map[string]string{
				"duration": "permanent",
			},
			SupportsRefresh:      true,
			SupportsVerification: false,
			TokensExpire:         true,
			RequiresPKCE:         false,
		},
		creds: creds,
	}
}

func (r *Reddit) Config() Config { return r.cfg }

func (r *Reddit) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(r.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(r.cfg.DefaultScopes, req.AdditionalScopes, " "))
	for k, v := range r.cfg.ExtraAuthParams {
		q.Set(k, v)
	}
	return r.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (r *Reddit) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(r.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	return postToken(ctx, r.cfg.ID, apperrors.CodeExchangeFailed, r.cfg.TokenURL, form,
		withBasicAuth(creds.ClientID, creds.ClientSecret),
		withHeader("User-Agent", redditUserAgent))
}

func (r *Reddit) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(r.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	return postToken(ctx, r.cfg.ID, apperrors.CodeRefreshFailed, r.cfg.TokenURL, form,
		withBasicAuth(creds.ClientID, creds.ClientSecret),
		withHeader("User-Agent", redditUserAgent))
}

func (r *Reddit) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		IconImg      string  `json:"icon_img"`
		TotalKarma   int64   `json:"total_karma"`
		LinkKarma    int64   `json:"link_karma"`
		CommentKarma int64   `json:"comment_karma"`
		CreatedUTC   float64 `json:"created_utc"`
	}
	if err := getJSON(ctx, r.cfg.ID, apperrors.CodeIdentityFailed, r.cfg.IdentityURL, accessToken, &me,
		withHeader("User-Agent", redditUserAgent)); err != nil {
		return nil, err
	}

	return &Identity{
		ProviderAccountID: me.ID,
		Username:          me.Name,
		DisplayName:       me.Name,
		AvatarURL:         me.IconImg,
		Metadata: map[string]any{
			"total_karma":   me.TotalKarma,
			"link_karma":    me.LinkKarma,
			"comment_karma": me.CommentKarma,
		},
	}, nil
}
