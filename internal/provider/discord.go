package provider

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/postlinehq/postline/internal/apperrors"
)

// Discord implements the Discord OAuth flow. Refresh tokens rotate on every
// refresh; the old one is invalidated immediately.
type Discord struct {
	cfg       Config
	creds     ClientCredentials
	guildsURL string
	cdnURL    string
}

func NewDiscord(creds ClientCredentials) *Discord {
	return &Discord{
		cfg: Config{
			ID:            "discord",
			DisplayName:   "Discord",
			AuthorizeURL:  "https://discord.com/oauth2/authorize",
			TokenURL:      "https://discord.com/api/oauth2/token",
			IdentityURL:   "https://discord.com/api/users/@me",
			DefaultScopes: []string{"identify", "email", "guilds"},
			SupportsRefresh:      true,
			SupportsVerification: false,
			TokensExpire:         true,
			RequiresPKCE:         false,
		},
		creds:     creds,
		guildsURL: "https://discord.com/api/users/@me/guilds",
		cdnURL:    "https://cdn.discordapp.com",
	}
}

func (d *Discord) Config() Config { return d.cfg }

func (d *Discord) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(d.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(d.cfg.DefaultScopes, req.AdditionalScopes, " "))
	return d.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (d *Discord) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(d.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return postToken(ctx, d.cfg.ID, apperrors.CodeExchangeFailed, d.cfg.TokenURL, form)
}

func (d *Discord) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(d.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return postToken(ctx, d.cfg.ID, apperrors.CodeRefreshFailed, d.cfg.TokenURL, form)
}

func (d *Discord) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Avatar     string `json:"avatar"`
		Email      string `json:"email"`
	}
	if err := getJSON(ctx, d.cfg.ID, apperrors.CodeIdentityFailed, d.cfg.IdentityURL, accessToken, &me); err != nil {
		return nil, err
	}

	displayName := me.GlobalName
	if displayName == "" {
		displayName = me.Username
	}

	var avatarURL string
	if me.Avatar != "" {
		avatarURL = fmt.Sprintf("%s/avatars/%s/%s.png", d.cdnURL, me.ID, me.Avatar)
	}

	identity := &Identity{
		ProviderAccountID: me.ID,
		Username:          me.Username,
		DisplayName:       displayName,
		Email:             me.Email,
		AvatarURL:         avatarURL,
		Metadata:          map[string]any{},
	}

	if guilds, err := d.fetchGuilds(ctx, accessToken); err != nil {
		log.Printf("discord: fetching guilds failed: %v", err)
	} else if len(guilds) > 0 {
		identity.Metadata["guilds"] = guilds
	}
	return identity, nil
}

func (d *Discord) fetchGuilds(ctx context.Context, accessToken string) ([]map[string]any, error) {
	var out []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Owner bool   `json:"owner"`
	}
	if err := getJSON(ctx, d.cfg.ID, apperrors.CodeIdentityFailed, d.guildsURL, accessToken, &out); err != nil {
		return nil, err
	}

	guilds := make([]map[string]any, 0, len(out))
	for _, g := range out {
		guilds = append(guilds, map[string]any{
			"id":    g.ID,
			"name":  g.Name,
			"owner": g.Owner,
		})
	}
	return guilds, nil
}
