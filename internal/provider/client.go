package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/postlinehq/postline/internal/apperrors"
)

const defaultUserAgent = "postline/1.0"

// httpClient is shared by all adapters. Provider calls are bounded: no
// retries, one attempt per call.
var httpClient = &http.Client{Timeout: 15 * time.Second}

// requestOption mutates an outgoing provider request before it is sent.
type requestOption func(*http.Request)

// withBasicAuth authenticates the client application via the Authorization
// header instead of body parameters.
func withBasicAuth(id, secret string) requestOption {
	return func(r *http.Request) {
		r.SetBasicAuth(id, secret)
	}
}

// withHeader sets an arbitrary request header.
func withHeader(key, value string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// tokenWire is the common shape of OAuth token endpoint responses.
type tokenWire struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// providerErrorWire is the common shape of OAuth error responses.
type providerErrorWire struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// postToken POSTs a form to a token endpoint and normalizes the response.
// failCode classifies failures (exchange vs refresh) for the caller.
func postToken(ctx context.Context, providerID string, failCode apperrors.Code, endpoint string, form url.Values, opts ...requestOption) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.FromProvider(failCode, providerID, "building token request failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	for _, opt := range opts {
		opt(req)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, apperrors.FromProvider(failCode, providerID, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.FromProvider(failCode, providerID, "reading token response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.RateLimited(providerID, retryAfter(resp), fmt.Errorf("token endpoint returned 429: %s", snippet(body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.FromProvider(failCode, providerID, "token endpoint rejected the request",
			fmt.Errorf("status %d: %s", resp.StatusCode, providerErrorDetail(body)))
	}

	var wire tokenWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperrors.FromProvider(failCode, providerID, "decoding token response failed", err)
	}
	if wire.AccessToken == "" {
		return nil, apperrors.FromProvider(failCode, providerID, "token response missing access token",
			fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body)))
	}

	raw := map[string]any{}
	// Best effort: a response that decoded into tokenWire decodes here too.
	_ = json.Unmarshal(body, &raw)

	return &Token{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		TokenType:    wire.TokenType,
		ExpiresIn:    wire.ExpiresIn,
		ExpiresAt:    expiryFromSeconds(wire.ExpiresIn),
		Scope:        wire.Scope,
		Raw:          raw,
	}, nil
}

// getJSON performs a bearer-authenticated GET and decodes the JSON response
// into out.
func getJSON(ctx context.Context, providerID string, failCode apperrors.Code, endpoint, accessToken string, out any, opts ...requestOption) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.FromProvider(failCode, providerID, "building request failed", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	for _, opt := range opts {
		opt(req)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return apperrors.FromProvider(failCode, providerID, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.FromProvider(failCode, providerID, "reading response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.RateLimited(providerID, retryAfter(resp), fmt.Errorf("endpoint returned 429: %s", snippet(body)))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.FromProvider(apperrors.CodeTokenRevoked, providerID, "provider rejected the access token",
			fmt.Errorf("status 401: %s", providerErrorDetail(body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.FromProvider(failCode, providerID, "provider request failed",
			fmt.Errorf("status %d: %s", resp.StatusCode, providerErrorDetail(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.FromProvider(failCode, providerID, "decoding response failed", err)
	}
	return nil
}

// retryAfter parses the Retry-After header, accepting both delta-seconds and
// HTTP dates. Zero when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// providerErrorDetail extracts the OAuth error fields from an error body,
// falling back to a raw snippet.
func providerErrorDetail(body []byte) string {
	var wire providerErrorWire
	if err := json.Unmarshal(body, &wire); err == nil {
		switch {
		case wire.Error != "" && wire.ErrorDescription != "":
			return wire.Error + ": " + wire.ErrorDescription
		case wire.Error != "":
			return wire.Error
		case wire.Message != "":
			return wire.Message
		}
	}
	return snippet(body)
}

// snippet truncates a response body for error messages.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}

// resolveCreds picks the per-request override when present, otherwise the
// platform default.
func resolveCreds(base ClientCredentials, override *ClientCredentials) ClientCredentials {
	if override != nil {
		return *override
	}
	return base
}

// joinScopes renders a scope list with the provider's separator.
func joinScopes(defaults, additional []string, sep string) string {
	seen := make(map[string]bool, len(defaults)+len(additional))
	merged := make([]string, 0, len(defaults)+len(additional))
	for _, s := range defaults {
		if s != "" && !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	for _, s := range additional {
		if s != "" && !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	return strings.Join(merged, sep)
}
