package provider

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/postlinehq/postline/internal/apperrors"
)

// Facebook implements the Graph API OAuth flow. Facebook has no refresh
// grant; instead the short-lived user token from the code exchange is traded
// for a ~60 day token via fb_exchange_token, after which the connection must
// be re-authorized.
type Facebook struct {
	cfg      Config
	creds    ClientCredentials
	pagesURL string
}

func NewFacebook(creds ClientCredentials) *Facebook {
	return &Facebook{
		cfg: Config{
			ID:           "facebook",
			DisplayName:  "Facebook",
			AuthorizeURL: "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL:     "https://graph.facebook.com/v19.0/oauth/access_token",
			IdentityURL:  "https://graph.facebook.com/v19.0/me",
			VerifyURL:    "https://graph.facebook.com/v19.0/debug_token",
			DefaultScopes: []string{
				"public_profile",
				"email",
				"pages_show_list",
				"pages_manage_posts",
				"pages_read_engagement",
			},
			SupportsRefresh:       false,
			SupportsVerification:  true,
			TokensExpire:          true,
			RequiresPKCE:          false,
			SupportsTokenExchange: true,
		},
		creds:    creds,
		pagesURL: "https://graph.facebook.com/v19.0/me/accounts",
	}
}

func (f *Facebook) Config() Config { return f.cfg }

func (f *Facebook) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(f.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(f.cfg.DefaultScopes, req.AdditionalScopes, ","))
	return f.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (f *Facebook) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(f.creds, req.Credentials)

	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("code", req.Code)
	return postToken(ctx, f.cfg.ID, apperrors.CodeExchangeFailed, f.cfg.TokenURL, form)
}

// ExchangeForLongLivedToken trades a short-lived user token for the ~60 day
// variant.
func (f *Facebook) ExchangeForLongLivedToken(ctx context.Context, accessToken string, override *ClientCredentials) (*Token, error) {
	creds := resolveCreds(f.creds, override)

	form := url.Values{}
	form.Set("grant_type", "fb_exchange_token")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("fb_exchange_token", accessToken)
	return postToken(ctx, f.cfg.ID, apperrors.CodeExchangeFailed, f.cfg.TokenURL, form)
}

// VerifyToken inspects a user token via debug_token, authenticated with the
// app token ("app_id|app_secret").
func (f *Facebook) VerifyToken(ctx context.Context, accessToken string) (*Verification, error) {
	var out struct {
		Data struct {
			AppID     string   `json:"app_id"`
			UserID    string   `json:"user_id"`
			IsValid   bool     `json:"is_valid"`
			ExpiresAt int64    `json:"expires_at"`
			Scopes    []string `json:"scopes"`
		} `json:"data"`
	}

	q := url.Values{}
	q.Set("input_token", accessToken)
	q.Set("access_token", f.creds.ClientID+"|"+f.creds.ClientSecret)
	if err := getJSON(ctx, f.cfg.ID, apperrors.CodeVerificationFailed, f.cfg.VerifyURL+"?"+q.Encode(), "", &out); err != nil {
		return nil, err
	}

	v := &Verification{
		Valid:  out.Data.IsValid,
		Scopes: out.Data.Scopes,
		UserID: out.Data.UserID,
		AppID:  out.Data.AppID,
	}
	if out.Data.ExpiresAt > 0 {
		t := time.Unix(out.Data.ExpiresAt, 0)
		v.ExpiresAt = &t
	}
	return v, nil
}

func (f *Facebook) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}

	q := url.Values{}
	q.Set("fields", "id,name,email,picture.width(200).height(200)")
	if err := getJSON(ctx, f.cfg.ID, apperrors.CodeIdentityFailed, f.cfg.IdentityURL+"?"+q.Encode(), accessToken, &me); err != nil {
		return nil, err
	}

	identity := &Identity{
		ProviderAccountID: me.ID,
		Username:          me.Name,
		DisplayName:       me.Name,
		Email:             me.Email,
		AvatarURL:         me.Picture.Data.URL,
		Metadata:          map[string]any{},
	}

	// Pages are nice to have; identity succeeds without them.
	if pages, err := f.fetchPages(ctx, accessToken); err != nil {
		log.Printf("facebook: fetching pages failed: %v", err)
	} else if len(pages) > 0 {
		identity.Metadata["pages"] = pages
	}
	return identity, nil
}

func (f *Facebook) fetchPages(ctx context.Context, accessToken string) ([]map[string]any, error) {
	var out struct {
		Data []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"data"`
	}
	if err := getJSON(ctx, f.cfg.ID, apperrors.CodeIdentityFailed, f.pagesURL, accessToken, &out); err != nil {
		return nil, err
	}

	pages := make([]map[string]any, 0, len(out.Data))
	for _, p := range out.Data {
		pages = append(pages, map[string]any{
			"id":       p.ID,
			"name":     p.Name,
			"category": p.Category,
		})
	}
	return pages, nil
}
