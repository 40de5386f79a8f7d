// Package engine implements the OAuth connection lifecycle: authorize URL
// issuance, callback handling, token refresh, status reads and disconnects.
//
// The engine owns flow correctness (CSRF state, PKCE, cookie handling, token
// encryption, refresh-token preservation) and delegates provider specifics to
// the adapters in the provider package. HTTP handlers and cron jobs stay thin
// wrappers around it.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/postlinehq/postline/internal/apperrors"
	"github.com/postlinehq/postline/internal/models"
	"github.com/postlinehq/postline/internal/provider"
	"github.com/postlinehq/postline/internal/secrets"
)

// refreshAhead is how close to expiry a token may get before reads refresh it
// inline.
const refreshAhead = 5 * time.Minute

// ConnectionStore is the persistence the engine depends on.
type ConnectionStore interface {
	Upsert(ctx context.Context, conn *models.SocialConnection) error
	Find(ctx context.Context, userID, providerID string) (*models.SocialConnection, error)
	ListByUser(ctx context.Context, userID string) ([]models.SocialConnection, error)
	Save(ctx context.Context, conn *models.SocialConnection) error
	Delete(ctx context.Context, userID, providerID string) error
}

// Connection lifecycle event types.
const (
	EventConnectionEstablished = "connection.established"
	EventConnectionRefreshed   = "connection.refreshed"
	EventConnectionRemoved     = "connection.removed"
)

// Event describes a connection lifecycle change.
type Event struct {
	Type     string    `json:"type"`
	Provider string    `json:"provider"`
	At       time.Time `json:"at"`
}

// Notifier receives lifecycle events. Delivery is fire and forget; the engine
// never blocks on it.
type Notifier interface {
	Notify(userID string, event Event)
}

// CredentialsSource resolves per-user OAuth application credentials for
// bring-your-own-keys setups. Returning (nil, nil) selects the platform
// application.
type CredentialsSource interface {
	ClientCredentials(ctx context.Context, userID, providerID string) (*provider.ClientCredentials, error)
}

// Options configures an Engine.
type Options struct {
	// AppURL is the externally visible base URL; callback redirect URIs are
	// derived from it.
	AppURL string
	// SecureCookies marks flow cookies Secure. Off only for local
	// development over plain HTTP.
	SecureCookies bool
	// Notifier is optional.
	Notifier Notifier
	// Credentials is optional; nil means every flow uses the platform
	// application.
	Credentials CredentialsSource
}

// Engine drives OAuth flows against the provider registry.
type Engine struct {
	store         ConnectionStore
	enc           *secrets.Encryptor
	appURL        string
	secureCookies bool
	notifier      Notifier
	credentials   CredentialsSource
	refreshLocks  keyedLocks
}

func New(store ConnectionStore, enc *secrets.Encryptor, opts Options) *Engine {
	return &Engine{
		store:         store,
		enc:           enc,
		appURL:        strings.TrimRight(opts.AppURL, "/"),
		secureCookies: opts.SecureCookies,
		notifier:      opts.Notifier,
		credentials:   opts.Credentials,
	}
}

// RedirectURI returns the deterministic callback URI registered with each
// provider.
func (e *Engine) RedirectURI(providerID string) string {
	return e.appURL + "/api/oauth/callback/" + providerID
}

// StartRequest carries the inputs for starting an authorization flow.
type StartRequest struct {
	UserID           string
	Provider         string
	AdditionalScopes []string
	// Credentials overrides both the platform application and any
	// CredentialsSource lookup when non-nil.
	Credentials *provider.ClientCredentials
}

// StartResult is handed back to the client, which performs the redirect.
type StartResult struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// StartOAuth builds the authorize URL for a provider and parks the flow
// cookies on the response. No persistent writes happen here; an abandoned
// flow leaves nothing behind but expiring cookies.
func (e *Engine) StartOAuth(ctx context.Context, w http.ResponseWriter, req StartRequest) (*StartResult, error) {
	p, err := provider.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	cfg := p.Config()

	creds, err := e.resolveCredentials(ctx, req.UserID, req.Provider, req.Credentials)
	if err != nil {
		return nil, err
	}

	state, err := encodeState(req.UserID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var verifier string
	if cfg.RequiresPKCE {
		verifier, err = secrets.GenerateToken(32)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
	}

	authorizeURL, err := p.AuthorizationURL(provider.AuthorizeRequest{
		RedirectURI:      e.RedirectURI(req.Provider),
		State:            state,
		CodeVerifier:     verifier,
		AdditionalScopes: req.AdditionalScopes,
		Credentials:      creds,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	e.writeFlowCookies(w, flowCookies{
		State:        state,
		Provider:     req.Provider,
		CodeVerifier: verifier,
	})
	return &StartResult{AuthorizeURL: authorizeURL, State: state}, nil
}

// CallbackResult is the outcome of a completed callback.
type CallbackResult struct {
	UserID     string
	Provider   string
	Connection *models.SocialConnection
}

// HandleCallback completes the flow when the provider redirects back. The
// request is unauthenticated; the user is identified solely by the state
// payload. Steps run strictly in order and the first failure aborts the whole
// callback, so no partial connection is ever written.
func (e *Engine) HandleCallback(ctx context.Context, w http.ResponseWriter, r *http.Request) (*CallbackResult, error) {
	q := r.URL.Query()
	cookies := readFlowCookies(r)
	// Flow cookies are single use: spend them no matter how this ends.
	e.clearFlowCookies(w)

	if errParam := q.Get("error"); errParam != "" {
		if errParam == "access_denied" {
			return nil, apperrors.New(apperrors.CodeAccessDenied, "the user declined authorization")
		}
		return nil, apperrors.FromProvider(apperrors.CodeProviderError, cookies.Provider, "provider returned an error",
			fmt.Errorf("%s: %s", errParam, q.Get("error_description")))
	}

	code := q.Get("code")
	if code == "" {
		return nil, apperrors.New(apperrors.CodeMissingCode, "authorization code is missing from the callback")
	}

	stateParam := q.Get("state")
	if stateParam == "" || cookies.State == "" || !secrets.Equal(stateParam, cookies.State) {
		return nil, apperrors.New(apperrors.CodeInvalidState, "state does not match the value issued for this flow")
	}
	payload, err := decodeState(stateParam)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidState, "state is malformed", err)
	}
	if payload.expired(time.Now()) {
		return nil, apperrors.New(apperrors.CodeInvalidState, "state has expired")
	}

	providerID := cookies.Provider
	if providerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidState, "provider cookie is missing")
	}
	p, err := provider.Get(providerID)
	if err != nil {
		return nil, err
	}
	cfg := p.Config()
	userID := payload.UserID

	creds, err := e.resolveCredentials(ctx, userID, providerID, nil)
	if err != nil {
		return nil, err
	}

	tok, err := p.ExchangeCode(ctx, provider.ExchangeRequest{
		Code:         code,
		RedirectURI:  e.RedirectURI(providerID),
		CodeVerifier: cookies.CodeVerifier,
		Credentials:  creds,
	})
	if err != nil {
		return nil, err
	}

	// Upgrade to the long-lived token before anything touches storage, so
	// the persisted credential is already the durable one.
	if cfg.SupportsTokenExchange {
		if exchanger, ok := p.(provider.LongLivedExchanger); ok {
			longLived, err := exchanger.ExchangeForLongLivedToken(ctx, tok.AccessToken, creds)
			if err != nil {
				return nil, err
			}
			if longLived.RefreshToken == "" {
				longLived.RefreshToken = tok.RefreshToken
			}
			if longLived.Scope == "" {
				longLived.Scope = tok.Scope
			}
			tok = longLived
		}
	}

	if cfg.SupportsVerification {
		if verifier, ok := p.(provider.TokenVerifier); ok {
			v, err := verifier.VerifyToken(ctx, tok.AccessToken)
			if err != nil {
				return nil, err
			}
			if !v.Valid {
				return nil, apperrors.FromProvider(apperrors.CodeVerificationFailed, providerID, "provider reports the freshly issued token as invalid", nil)
			}
		}
	}

	identity, err := p.Identity(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	conn, err := e.buildConnection(ctx, userID, providerID, cfg, tok, identity)
	if err != nil {
		return nil, err
	}
	if err := e.store.Upsert(ctx, conn); err != nil {
		return nil, apperrors.Internal(err)
	}

	e.notify(userID, EventConnectionEstablished, providerID)
	return &CallbackResult{UserID: userID, Provider: providerID, Connection: conn}, nil
}

// buildConnection seals the token material and folds the normalized identity
// into a storable row. When the provider issued no refresh token but an
// earlier grant did, the stored refresh token carries over.
func (e *Engine) buildConnection(ctx context.Context, userID, providerID string, cfg provider.Config, tok *provider.Token, identity *provider.Identity) (*models.SocialConnection, error) {
	sealedAccess, err := e.enc.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEncryptionFailed, "failed to encrypt access token", err)
	}

	var sealedRefresh *string
	if tok.RefreshToken != "" {
		sealed, err := e.enc.Encrypt(tok.RefreshToken)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeEncryptionFailed, "failed to encrypt refresh token", err)
		}
		sealedRefresh = &sealed
	} else if existing, findErr := e.store.Find(ctx, userID, providerID); findErr == nil && existing.RefreshToken != nil {
		sealedRefresh = existing.RefreshToken
	}

	scopes := splitScopes(tok.Scope)
	if len(scopes) == 0 {
		scopes = cfg.DefaultScopes
	}

	return &models.SocialConnection{
		UserID:            userID,
		Provider:          providerID,
		ProviderAccountID: identity.ProviderAccountID,
		Username:          identity.Username,
		DisplayName:       identity.DisplayName,
		Email:             identity.Email,
		AvatarURL:         identity.AvatarURL,
		AccessToken:       sealedAccess,
		RefreshToken:      sealedRefresh,
		TokenType:         tok.TokenType,
		ExpiresAt:         tok.ExpiresAt,
		Scopes:            models.StringList(scopes),
		Metadata:          models.JSONMap(identity.Metadata),
	}, nil
}

// RefreshConnection refreshes a connection's access token now, regardless of
// how much lifetime remains. Refreshes for the same (user, provider) pair are
// serialized so rotating refresh tokens are never spent twice.
func (e *Engine) RefreshConnection(ctx context.Context, userID, providerID string) (*models.SocialConnection, error) {
	unlock := e.refreshLocks.lock(refreshKey(userID, providerID))
	defer unlock()
	return e.refreshLocked(ctx, userID, providerID)
}

// refreshLocked performs the actual refresh. Callers hold the per-connection
// lock.
func (e *Engine) refreshLocked(ctx context.Context, userID, providerID string) (*models.SocialConnection, error) {
	conn, err := e.store.Find(ctx, userID, providerID)
	if err != nil {
		return nil, err
	}

	p, err := provider.Get(providerID)
	if err != nil {
		return nil, err
	}

	refresher, ok := p.(provider.TokenRefresher)
	if !p.Config().SupportsRefresh || !ok {
		return nil, apperrors.FromProvider(apperrors.CodeRefreshFailed, providerID, "provider does not support token refresh", nil)
	}
	if conn.RefreshToken == nil {
		return nil, apperrors.FromProvider(apperrors.CodeRefreshFailed, providerID, "no refresh token stored for this connection", nil)
	}

	refreshToken, err := e.enc.Decrypt(*conn.RefreshToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEncryptionFailed, "failed to decrypt refresh token", err)
	}

	creds, err := e.resolveCredentials(ctx, userID, providerID, nil)
	if err != nil {
		return nil, err
	}

	tok, err := refresher.RefreshAccessToken(ctx, provider.RefreshRequest{
		RefreshToken: refreshToken,
		Credentials:  creds,
	})
	if err != nil {
		return nil, err
	}

	sealedAccess, err := e.enc.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEncryptionFailed, "failed to encrypt access token", err)
	}
	conn.AccessToken = sealedAccess
	conn.ExpiresAt = tok.ExpiresAt
	if tok.TokenType != "" {
		conn.TokenType = tok.TokenType
	}
	// Providers that omit the refresh token expect the stored one to keep
	// working; only an explicitly returned token replaces it.
	if tok.RefreshToken != "" {
		sealedRefresh, err := e.enc.Encrypt(tok.RefreshToken)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeEncryptionFailed, "failed to encrypt refresh token", err)
		}
		conn.RefreshToken = &sealedRefresh
	}
	if scopes := splitScopes(tok.Scope); len(scopes) > 0 {
		conn.Scopes = models.StringList(scopes)
	}

	if err := e.store.Save(ctx, conn); err != nil {
		return nil, apperrors.Internal(err)
	}

	e.notify(userID, EventConnectionRefreshed, providerID)
	return conn, nil
}

// GetAccessToken returns the plaintext access token for a connection,
// refreshing it first when it is expired or about to expire. An expired token
// that cannot be refreshed surfaces as TOKEN_EXPIRED; the connection itself
// stays in place for re-authorization.
func (e *Engine) GetAccessToken(ctx context.Context, userID, providerID string) (string, error) {
	conn, err := e.store.Find(ctx, userID, providerID)
	if err != nil {
		return "", err
	}

	if conn.ExpiresWithin(time.Now(), refreshAhead) {
		conn, err = e.ensureFresh(ctx, userID, providerID)
		if err != nil {
			return "", err
		}
	}

	accessToken, err := e.enc.Decrypt(conn.AccessToken)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeEncryptionFailed, "failed to decrypt access token", err)
	}
	return accessToken, nil
}

// ensureFresh refreshes a near-expiry connection unless a concurrent caller
// already did it while we waited on the lock.
func (e *Engine) ensureFresh(ctx context.Context, userID, providerID string) (*models.SocialConnection, error) {
	unlock := e.refreshLocks.lock(refreshKey(userID, providerID))
	defer unlock()

	conn, err := e.store.Find(ctx, userID, providerID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !conn.ExpiresWithin(now, refreshAhead) {
		return conn, nil
	}

	refreshed, err := e.refreshLocked(ctx, userID, providerID)
	if err != nil {
		if !conn.Expired(now) {
			// Near expiry but still valid; hand out the current token.
			return conn, nil
		}
		if !e.refreshable(conn, providerID) {
			// No refresh path exists; only re-authorization helps.
			return nil, apperrors.Wrap(apperrors.CodeTokenExpired, "access token expired and could not be refreshed", err)
		}
		// A refresh was possible and the provider call failed; surface that
		// failure as is rather than masking it as plain expiry.
		return nil, err
	}
	return refreshed, nil
}

// refreshable reports whether a refresh call could even be attempted for the
// connection: the provider supports the grant and a refresh token is stored.
func (e *Engine) refreshable(conn *models.SocialConnection, providerID string) bool {
	if conn.RefreshToken == nil {
		return false
	}
	p, err := provider.Get(providerID)
	if err != nil {
		return false
	}
	_, ok := p.(provider.TokenRefresher)
	return ok && p.Config().SupportsRefresh
}

// ConnectionStatus is the client-facing view of one provider connection.
// Token material never appears here.
type ConnectionStatus struct {
	Provider          string     `json:"provider"`
	Connected         bool       `json:"connected"`
	Expired           bool       `json:"expired"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ProviderAccountID string     `json:"provider_account_id,omitempty"`
	Username          string     `json:"username,omitempty"`
	DisplayName       string     `json:"display_name,omitempty"`
	AvatarURL         string     `json:"avatar_url,omitempty"`
	Scopes            []string   `json:"scopes,omitempty"`
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`
}

// GetConnectionStatus reports the state of one provider for a user. A missing
// connection is a normal "not connected" answer. An expired access token also
// reports Connected=false, but the row stays in place: expiry is not
// disconnection, and a refresh or re-auth revives it.
func (e *Engine) GetConnectionStatus(ctx context.Context, userID, providerID string) (*ConnectionStatus, error) {
	if _, err := provider.Get(providerID); err != nil {
		return nil, err
	}

	conn, err := e.store.Find(ctx, userID, providerID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeConnectionNotFound) {
			return &ConnectionStatus{Provider: providerID, Connected: false}, nil
		}
		return nil, err
	}

	status := connectionStatus(conn)
	return &status, nil
}

// ListConnections reports every registered provider for a user, connected or
// not, plus any stored connections whose provider is no longer registered.
func (e *Engine) ListConnections(ctx context.Context, userID string) ([]ConnectionStatus, error) {
	conns, err := e.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string]*models.SocialConnection, len(conns))
	for i := range conns {
		byProvider[conns[i].Provider] = &conns[i]
	}

	var statuses []ConnectionStatus
	seen := make(map[string]bool)
	for _, id := range provider.IDs() {
		seen[id] = true
		if conn, ok := byProvider[id]; ok {
			statuses = append(statuses, connectionStatus(conn))
		} else {
			statuses = append(statuses, ConnectionStatus{Provider: id, Connected: false})
		}
	}
	for i := range conns {
		if !seen[conns[i].Provider] {
			statuses = append(statuses, connectionStatus(&conns[i]))
		}
	}
	return statuses, nil
}

// DisconnectProvider removes the stored connection. Provider-side revocation
// is out of scope; the user revokes access from the provider's own settings.
func (e *Engine) DisconnectProvider(ctx context.Context, userID, providerID string) error {
	if err := e.store.Delete(ctx, userID, providerID); err != nil {
		return err
	}
	e.notify(userID, EventConnectionRemoved, providerID)
	return nil
}

// connectionStatus renders a stored row. Connected requires a live access
// token: an expired row is present but not connected.
func connectionStatus(conn *models.SocialConnection) ConnectionStatus {
	connectedAt := conn.CreatedAt
	expired := conn.Expired(time.Now())
	return ConnectionStatus{
		Provider:          conn.Provider,
		Connected:         !expired,
		Expired:           expired,
		ExpiresAt:         conn.ExpiresAt,
		ProviderAccountID: conn.ProviderAccountID,
		Username:          conn.Username,
		DisplayName:       conn.DisplayName,
		AvatarURL:         conn.AvatarURL,
		Scopes:            conn.Scopes,
		ConnectedAt:       &connectedAt,
	}
}

// resolveCredentials picks explicit request credentials first, then the
// CredentialsSource, then the platform default (nil).
func (e *Engine) resolveCredentials(ctx context.Context, userID, providerID string, explicit *provider.ClientCredentials) (*provider.ClientCredentials, error) {
	creds := explicit
	if creds == nil && e.credentials != nil {
		var err error
		creds, err = e.credentials.ClientCredentials(ctx, userID, providerID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
	}
	if creds != nil && (creds.ClientID == "" || creds.ClientSecret == "") {
		return nil, apperrors.FromProvider(apperrors.CodeMissingConfig, providerID, "client credentials are incomplete", nil)
	}
	return creds, nil
}

func (e *Engine) notify(userID, eventType, providerID string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(userID, Event{Type: eventType, Provider: providerID, At: time.Now()})
}

func refreshKey(userID, providerID string) string {
	return userID + "/" + providerID
}

// splitScopes accepts both space and comma separated scope strings.
func splitScopes(scope string) []string {
	return strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

// keyedLocks hands out one mutex per key. Entries are never evicted; the key
// space is bounded by users times providers.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
