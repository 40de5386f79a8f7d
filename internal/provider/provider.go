// Package provider contains the adapters that translate the OAuth engine's
// generic requests into provider-specific HTTP calls.
//
// Every social network is one adapter implementing the Provider interface.
// Optional flow steps (refresh, verification, long-lived exchange) are
// capability sub-interfaces gated by the flags in Config — callers check the
// flag, then type-assert. Adapters are stateless translation layers: they own
// no persistent data and every call is a bounded request/response.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// ClientCredentials identifies an OAuth application at a provider.
//
// Platform defaults come from configuration at startup. Callers may supply
// their own application ("bring your own keys") per request; overrides always
// travel as an explicit request field, never through shared mutable state.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	// BaseURL overrides the provider's API host for providers that are
	// instance-relative (Mastodon). Empty means the adapter default.
	BaseURL string
}

// Config is the static description of one provider. Immutable after
// registration.
type Config struct {
	// ID is the stable identifier used in routes, storage and the registry.
	ID string
	// DisplayName is the human-readable provider name.
	DisplayName string

	AuthorizeURL string
	TokenURL     string
	IdentityURL  string
	// VerifyURL is set only when SupportsVerification is true.
	VerifyURL string

	// DefaultScopes are always requested; callers may append more.
	DefaultScopes []string

	// ExtraAuthParams are provider-mandated authorize-URL additions, such as
	// offline-access or consent-forcing flags.
	ExtraAuthParams map[string]string

	// Capability flags. The engine consults these before invoking the
	// corresponding optional interface.
	SupportsRefresh       bool
	SupportsVerification  bool
	TokensExpire          bool
	RequiresPKCE          bool
	SupportsTokenExchange bool
}

// Token is the normalized result of every token-issuing provider call.
// It exists only in memory; persistence always goes through encryption.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresIn is the provider-reported lifetime in seconds, zero when the
	// token does not expire.
	ExpiresIn int64
	// ExpiresAt is the computed absolute expiry, nil when the token does not
	// expire.
	ExpiresAt *time.Time
	// Scope is the granted scope string as reported by the provider.
	Scope string
	// Raw is the decoded provider response for provider-specific fields.
	Raw map[string]any
}

// Identity is a provider account normalized into the engine's shape.
type Identity struct {
	// ProviderAccountID is the provider-assigned stable account id.
	ProviderAccountID string
	Username          string
	DisplayName       string
	Email             string
	AvatarURL         string
	// Metadata holds provider-specific extras: linked pages, channels,
	// organizations, boards, guilds, follower counts.
	Metadata map[string]any
}

// Verification is the result of an explicit token validity check.
type Verification struct {
	Valid     bool
	Scopes    []string
	ExpiresAt *time.Time
	UserID    string
	AppID     string
	Metadata  map[string]any
}

// AuthorizeRequest carries the inputs for building an authorize URL.
type AuthorizeRequest struct {
	RedirectURI string
	State       string
	// CodeVerifier is set by the engine iff the provider requires PKCE; the
	// adapter derives the S256 challenge from it.
	CodeVerifier     string
	AdditionalScopes []string
	// Credentials overrides the platform application when non-nil.
	Credentials *ClientCredentials
}

// ExchangeRequest carries the inputs for the code-for-token exchange.
type ExchangeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
	Credentials  *ClientCredentials
}

// RefreshRequest carries the inputs for an access-token refresh.
type RefreshRequest struct {
	RefreshToken string
	Credentials  *ClientCredentials
}

// Provider is the contract every adapter implements.
type Provider interface {
	// Config returns the static provider description.
	Config() Config

	// AuthorizationURL builds the provider authorize URL. Pure function: no
	// network calls, no side effects.
	AuthorizationURL(req AuthorizeRequest) (string, error)

	// ExchangeCode performs the token endpoint call. A response without an
	// access token is an error.
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*Token, error)

	// Identity fetches and normalizes the account identity. Secondary
	// fan-out reads (pages, channels, ...) swallow their own failures and
	// return partial metadata.
	Identity(ctx context.Context, accessToken string) (*Identity, error)
}

// TokenRefresher is implemented by providers whose Config reports
// SupportsRefresh.
type TokenRefresher interface {
	// RefreshAccessToken trades a refresh token for a fresh access token.
	// Providers differ: some rotate the refresh token, some echo it back,
	// some omit it entirely — callers must preserve the previous refresh
	// token when the result carries none.
	RefreshAccessToken(ctx context.Context, req RefreshRequest) (*Token, error)
}

// TokenVerifier is implemented by providers whose Config reports
// SupportsVerification.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, accessToken string) (*Verification, error)
}

// LongLivedExchanger is implemented by providers whose Config reports
// SupportsTokenExchange. The engine invokes it right after the primary
// exchange so the persisted token is already the long-lived one.
type LongLivedExchanger interface {
	ExchangeForLongLivedToken(ctx context.Context, accessToken string, creds *ClientCredentials) (*Token, error)
}

// CodeChallengeS256 derives the PKCE code challenge from a verifier
// (RFC 7636, S256 method).
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// expiryFromSeconds computes the absolute expiry for a provider-reported
// lifetime. Zero or negative lifetimes mean the token never expires.
func expiryFromSeconds(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(seconds) * time.Second)
	return &t
}
