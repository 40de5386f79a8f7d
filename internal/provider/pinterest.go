package provider

import (
	"context"
	"log"
	"net/url"

	"github.com/postlinehq/postline/internal/apperrors"
)

// Pinterest implements the Pinterest v5 OAuth flow. The token endpoint wants
// Basic client authentication; refresh responses carry the same long-lived
// refresh token back.
type Pinterest struct {
	cfg       Config
	creds     ClientCredentials
	boardsURL string
}

func NewPinterest(creds ClientCredentials) *Pinterest {
	return &Pinterest{
		cfg: Config{
			ID:           "pinterest",
			DisplayName:  "Pinterest",
			AuthorizeURL: "https://www.pinterest.com/oauth/",
			TokenURL:     "https://api.pinterest.com/v5/oauth/token",
			IdentityURL:  "https://api.pinterest.com/v5/user_account",
			DefaultScopes: []string{
				"user_accounts:read",
				"boards:read",
				"pins:read",
				"pins:write",
			},
			SupportsRefresh:      true,
			SupportsVerification: false,
			TokensExpire:         true,
			RequiresPKCE:         false,
		},
		creds:     creds,
		boardsURL: "https://api.pinterest.com/v5/boards",
	}
}

func (p *Pinterest) Config() Config { return p.cfg }

func (p *Pinterest) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(p.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(p.cfg.DefaultScopes, req.AdditionalScopes, ","))
	return p.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (p *Pinterest) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(p.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	return postToken(ctx, p.cfg.ID, apperrors.CodeExchangeFailed, p.cfg.TokenURL, form,
		withBasicAuth(creds.ClientID, creds.ClientSecret))
}

func (p *Pinterest) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(p.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	return postToken(ctx, p.cfg.ID, apperrors.CodeRefreshFailed, p.cfg.TokenURL, form,
		withBasicAuth(creds.ClientID, creds.ClientSecret))
}

func (p *Pinterest) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		AccountType   string `json:"account_type"`
		ProfileImage  string `json:"profile_image"`
		FollowerCount int64  `json:"follower_count"`
	}
	if err := getJSON(ctx, p.cfg.ID, apperrors.CodeIdentityFailed, p.cfg.IdentityURL, accessToken, &me); err != nil {
		return nil, err
	}

	// Older app tiers omit the numeric id; the username is stable enough to
	// key on in that case.
	accountID := me.ID
	if accountID == "" {
		accountID = me.Username
	}

	identity := &Identity{
		ProviderAccountID: accountID,
		Username:          me.Username,
		DisplayName:       me.Username,
		AvatarURL:         me.ProfileImage,
		Metadata: map[string]any{
			"account_type":   me.AccountType,
			"follower_count": me.FollowerCount,
		},
	}

	if boards, err := p.fetchBoards(ctx, accessToken); err != nil {
		log.Printf("pinterest: fetching boards failed: %v", err)
	} else if len(boards) > 0 {
		identity.Metadata["boards"] = boards
	}
	return identity, nil
}

func (p *Pinterest) fetchBoards(ctx context.Context, accessToken string) ([]map[string]any, error) {
	var out struct {
		Items []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Privacy string `json:"privacy"`
		} `json:"items"`
	}
	if err := getJSON(ctx, p.cfg.ID, apperrors.CodeIdentityFailed, p.boardsURL, accessToken, &out); err != nil {
		return nil, err
	}

	boards := make([]map[string]any, 0, len(out.Items))
	for _, b := range out.Items {
		boards = append(boards, map[string]any{
			"id":      b.ID,
			"name":    b.Name,
			"privacy": b.Privacy,
		})
	}
	return boards, nil
}
