package provider

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/postlinehq/postline/internal/apperrors"
)

// LinkedIn implements the LinkedIn OAuth flow with the OpenID Connect
// userinfo endpoint for identity. Client credentials travel in the form body;
// refresh responses echo the existing refresh token back.
type LinkedIn struct {
	cfg     Config
	creds   ClientCredentials
	orgsURL string
}

func NewLinkedIn(creds ClientCredentials) *LinkedIn {
	return &LinkedIn{
		cfg: Config{
			ID:           "linkedin",
			DisplayName:  "LinkedIn",
			AuthorizeURL: "https://www.linkedin.com/oauth/v2/authorization",
			TokenURL:     "https://www.linkedin.com/oauth/v2/accessToken",
			IdentityURL:  "https://api.linkedin.com/v2/userinfo",
			DefaultScopes: []string{
				"openid",
				"profile",
				"email",
				"w_member_social",
			},
			SupportsRefresh:      true,
			SupportsVerification: false,
			TokensExpire:         true,
			RequiresPKCE:         false,
		},
		creds:   creds,
		orgsURL: "https://api.linkedin.com/v2/organizationAcls",
	}
}

func (l *LinkedIn) Config() Config { return l.cfg }

func (l *LinkedIn) AuthorizationURL(req AuthorizeRequest) (string, error) {
	creds := resolveCreds(l.creds, req.Credentials)

	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("response_type", "code")
	q.Set("scope", joinScopes(l.cfg.DefaultScopes, req.AdditionalScopes, " "))
	return l.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (l *LinkedIn) ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error) {
	creds := resolveCreds(l.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("redirect_uri", req.RedirectURI)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return postToken(ctx, l.cfg.ID, apperrors.CodeExchangeFailed, l.cfg.TokenURL, form)
}

func (l *LinkedIn) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error) {
	creds := resolveCreds(l.creds, req.Credentials)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", req.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return postToken(ctx, l.cfg.ID, apperrors.CodeRefreshFailed, l.cfg.TokenURL, form)
}

func (l *LinkedIn) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	var me struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := getJSON(ctx, l.cfg.ID, apperrors.CodeIdentityFailed, l.cfg.IdentityURL, accessToken, &me); err != nil {
		return nil, err
	}

	identity := &Identity{
		ProviderAccountID: me.Sub,
		Username:          me.Name,
		DisplayName:       me.Name,
		Email:             me.Email,
		AvatarURL:         me.Picture,
		Metadata:          map[string]any{},
	}

	if orgs, err := l.fetchOrganizations(ctx, accessToken); err != nil {
		log.Printf("linkedin: fetching organizations failed: %v", err)
	} else if len(orgs) > 0 {
		identity.Metadata["organizations"] = orgs
	}
	return identity, nil
}

// fetchOrganizations lists organizations the member administers. Requires
// the rw_organization_admin scope, so failure here is expected for plain
// member grants.
func (l *LinkedIn) fetchOrganizations(ctx context.Context, accessToken string) ([]map[string]any, error) {
	var out struct {
		Elements []struct {
			Organization string `json:"organization"`
			Role         string `json:"role"`
			State        string `json:"state"`
		} `json:"elements"`
	}

	q := url.Values{}
	q.Set("q", "roleAssignee")
	q.Set("role", "ADMINISTRATOR")
	q.Set("state", "APPROVED")
	if err := getJSON(ctx, l.cfg.ID, apperrors.CodeIdentityFailed, l.orgsURL+"?"+q.Encode(), accessToken, &out,
		withHeader("X-Restli-Protocol-Version", "2.0.0")); err != nil {
		return nil, err
	}

	orgs := make([]map[string]any, 0, len(out.Elements))
	for _, e := range out.Elements {
		// Organization URNs look like "urn:li:organization:12345".
		id := e.Organization
		if idx := strings.LastIndex(id, ":"); idx >= 0 {
			if _, err := strconv.ParseInt(id[idx+1:], 10, 64); err == nil {
				id = id[idx+1:]
			}
		}
		orgs = append(orgs, map[string]any{
			"id":   id,
			"urn":  e.Organization,
			"role": e.Role,
		})
	}
	return orgs, nil
}
