package provider

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/postlinehq/postline/internal/apperrors"
)

// YouTube implements Google OAuth scoped to YouTube. Google only hands out a
// refresh token when the authorize URL carries access_type=offline and
// prompt=consent; refresh responses omit the refresh token (the original
// stays valid until revoked).
type YouTube struct {
	cfg         Config
	creds       ClientCredentials
	channelsURL string
}

func NewYouTube(creds ClientCredentials) *YouTube {
	return &YouTube{
		cfg: Config{
			ID:           "youtube",
			DisplayName:  "YouTube",
			AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			IdentityURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
			VerifyURL:    "https://oauth2.googleapis.com/tokeninfo",
			DefaultScopes: []string{
				"https://www.googleapis.com/auth/youtube.upload",
				"https://www.googleapis.com/auth/youtube.readonly",
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			ExtraAuthParams: map[string]string{
				"access_type": "offline",
				"prompt":      "consent",
			},
			SupportsRefresh:      true,
			SupportsVerification: true,
			TokensExpire:         true,
			RequiresPKCE:         false,
		},
		creds:       creds,
		channelsURL: "https://www.googleapis.com/youtube/v3/channels",
	}
}

func (y *YouTube) Config() Config { return y.cfg }

func (y *YouTube) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(y.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(y.cfg.DefaultScopes, req.AdditionalScopes, " "))
	for k, v := range y.cfg.ExtraAuthParams {
		q.Set(k, v)
	}
	return y.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (y *YouTube) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(y.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return postToken(ctx, y.cfg.ID, apperrors.CodeExchangeFailed, y.cfg.TokenURL, form)
}

func (y *YouTube) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(y.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return postToken(ctx, y.cfg.ID, apperrors.CodeRefreshFailed, y.cfg.TokenURL, form)
}

// VerifyToken asks Google's tokeninfo endpoint about the access token.
// tokeninfo answers 400 for invalid tokens, which surfaces here as a
// verification error rather than Valid=false; callers treat both as invalid.
func (y *YouTube) VerifyToken(ctx context.Context, accessToken string) (*Verification, error) {
	var out struct {
		Audience  string `json:"aud"`
		UserID    string `json:"sub"`
		Scope     string `json:"scope"`
		ExpiresIn string `json:"expires_in"`
	}

	q := url.Values{}
	q.Set("access_token", accessToken)
	if err := getJSON(ctx, y.cfg.ID, apperrors.CodeVerificationFailed, y.cfg.VerifyURL+"?"+q.Encode(), "", &out); err != nil {
		return nil, err
	}

	v := &Verification{
		Valid:  out.UserID != "" || out.Audience != "",
		UserID: out.UserID,
		AppID:  out.Audience,
	}
	if out.Scope != "" {
		v.Scopes = strings.Fields(out.Scope)
	}
	// tokeninfo reports expires_in as a string.
	if secs, err := strconv.ParseInt(out.ExpiresIn, 10, 64); err == nil {
		v.ExpiresAt = expiryFromSeconds(secs)
	}
	return v, nil
}

func (y *YouTube) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := getJSON(ctx, y.cfg.ID, apperrors.CodeIdentityFailed, y.cfg.IdentityURL, accessToken, &me); err != nil {
		return nil, err
	}

	identity := &Identity{
		ProviderAccountID: me.ID,
		Username:          me.Name,
		DisplayName:       me.Name,
		Email:             me.Email,
		AvatarURL:         me.Picture,
		Metadata:          map[string]any{},
	}

	if channels, err := y.fetchChannels(ctx, accessToken); err != nil {
		log.Printf("youtube: fetching channels failed: %v", err)
	} else if len(channels) > 0 {
		identity.Metadata["channels"] = channels
	}
	return identity, nil
}

func (y *YouTube) fetchChannels(ctx context.Context, accessToken string) ([]map[string]any, error) {
	var out struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title       string `json:"title"`
				CustomURL   string `json:"customUrl"`
				Description string `json:"description"`
			} `json:"snippet"`
		} `json:"items"`
	}

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("mine", "true")
	if err := getJSON(ctx, y.cfg.ID, apperrors.CodeIdentityFailed, y.channelsURL+"?"+q.Encode(), accessToken, &out); err != nil {
		return nil, err
	}

	channels := make([]map[string]any, 0, len(out.Items))
	for _, item := range out.Items {
		channels = append(channels, map[string]any{
			"id":         item.ID,
			"title":      item.Snippet.Title,
			"custom_url": item.Snippet.CustomURL,
		})
	}
	return channels, nil
}
