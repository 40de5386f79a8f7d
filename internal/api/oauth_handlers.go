package api

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/postlinehq/postline/internal/apperrors"
	"github.com/postlinehq/postline/internal/config"
	"github.com/postlinehq/postline/internal/engine"
	"github.com/postlinehq/postline/internal/provider"
)

// ProviderInfo is the client-facing description of one registered provider.
type ProviderInfo struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Scopes       []string `json:"scopes"`
	RequiresPKCE bool     `json:"requires_pkce"`
	TokensExpire bool     `json:"tokens_expire"`
}

// HandleGetProviders lists every provider registered at startup.
func HandleGetProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := make([]ProviderInfo, 0)
		for _, id := range provider.IDs() {
			p, err := provider.Get(id)
			if err != nil {
				continue
			}
			cfg := p.Config()
			infos = append(infos, ProviderInfo{
				ID:           cfg.ID,
				DisplayName:  cfg.DisplayName,
				Scopes:       cfg.DefaultScopes,
				RequiresPKCE: cfg.RequiresPKCE,
				TokensExpire: cfg.TokensExpire,
			})
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// HandleListConnections reports every provider's connection state for the
// authenticated user.
func HandleListConnections(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}

		statuses, err := eng.ListConnections(r.Context(), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

// HandleGetConnectionStatus reports one provider's connection state.
func HandleGetConnectionStatus(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}

		status, err := eng.GetConnectionStatus(r.Context(), user.ID, chi.URLParam(r, "provider"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// HandleOAuthAuthorize starts an authorization flow. The response carries the
// provider authorize URL for the client to redirect to; the flow cookies ride
// along on this response.
func HandleOAuthAuthorize(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}

		providerID := chi.URLParam(r, "provider")
		var additionalScopes []string
		if raw := r.URL.Query().Get("scopes"); raw != "" {
			additionalScopes = strings.Split(raw, ",")
		}

		log.Printf("OAuth: starting %s flow", providerID)
		result, err := eng.StartOAuth(r.Context(), w, engine.StartRequest{
			UserID:           user.ID,
			Provider:         providerID,
			AdditionalScopes: additionalScopes,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleOAuthCallback terminates the provider redirect. The request is
// unauthenticated; the engine recovers the user from the state payload.
// Every outcome, success or failure, degrades into a dashboard redirect —
// no error ever surfaces as a raw response here because the user agent is
// mid-redirect.
func HandleOAuthCallback(eng *engine.Engine, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID := chi.URLParam(r, "provider")

		result, err := eng.HandleCallback(r.Context(), w, r)
		if err != nil {
			code := apperrors.CodeOf(err)
			log.Printf("OAuth: %s callback failed: %v", providerID, err)
			http.Redirect(w, r, dashboardURL(cfg, url.Values{"error": {string(code)}, "provider": {providerID}}), http.StatusFound)
			return
		}

		log.Printf("OAuth: %s connected for user", result.Provider)
		http.Redirect(w, r, dashboardURL(cfg, url.Values{"connected": {result.Provider}}), http.StatusFound)
	}
}

// HandleRefreshConnection forces a token refresh for one connection.
func HandleRefreshConnection(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}

		providerID := chi.URLParam(r, "provider")
		if _, err := eng.RefreshConnection(r.Context(), user.ID, providerID); err != nil {
			writeError(w, err)
			return
		}

		status, err := eng.GetConnectionStatus(r.Context(), user.ID, providerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// HandleDisconnect removes a connection.
func HandleDisconnect(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}

		if err := eng.DisconnectProvider(r.Context(), user.ID, chi.URLParam(r, "provider")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// dashboardURL builds the post-callback redirect target.
func dashboardURL(cfg *config.Config, params url.Values) string {
	return strings.TrimRight(cfg.AppURL, "/") + "/dashboard?" + params.Encode()
}
