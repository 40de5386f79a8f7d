package engine

import (
	"net/http"
	"time"
)

// Cookie names for the in-flight flow. All three live exactly as long as the
// state TTL and are cleared the moment the callback reads them.
const (
	stateCookieName    = "oauth_state"
	providerCookieName = "oauth_provider"
	verifierCookieName = "oauth_code_verifier"
)

const flowCookieMaxAge = int(stateTTL / time.Second)

// flowCookies is what the authorize step parks on the browser for the
// callback to pick up.
type flowCookies struct {
	State        string
	Provider     string
	CodeVerifier string
}

func (e *Engine) writeFlowCookies(w http.ResponseWriter, c flowCookies) {
	e.setFlowCookie(w, stateCookieName, c.State, flowCookieMaxAge)
	e.setFlowCookie(w, providerCookieName, c.Provider, flowCookieMaxAge)
	if c.CodeVerifier != "" {
		e.setFlowCookie(w, verifierCookieName, c.CodeVerifier, flowCookieMaxAge)
	}
}

// readFlowCookies collects whatever flow cookies the request carries.
// Missing cookies come back as empty strings.
func readFlowCookies(r *http.Request) flowCookies {
	return flowCookies{
		State:        cookieValue(r, stateCookieName),
		Provider:     cookieValue(r, providerCookieName),
		CodeVerifier: cookieValue(r, verifierCookieName),
	}
}

// clearFlowCookies expires all three flow cookies. Safe to call whether or
// not they exist; single-use semantics depend on this running on every
// callback, success or failure.
func (e *Engine) clearFlowCookies(w http.ResponseWriter) {
	e.setFlowCookie(w, stateCookieName, "", -1)
	e.setFlowCookie(w, providerCookieName, "", -1)
	e.setFlowCookie(w, verifierCookieName, "", -1)
}

func (e *Engine) setFlowCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   e.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
