package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/postlinehq/postline/internal/secrets"
)

// stateTTL bounds how long an authorize redirect may take before the
// round-trip is rejected.
const stateTTL = 10 * time.Minute

// statePayload is the CSRF state carried through the provider redirect.
// It rides the URL in base64url-encoded JSON and is matched byte-for-byte
// against the state cookie on return.
type statePayload struct {
	Nonce    string `json:"nonce"`
	UserID   string `json:"user_id"`
	IssuedAt int64  `json:"issued_at"`
}

// encodeState builds a fresh state value binding the flow to a user.
func encodeState(userID string) (string, error) {
	nonce, err := secrets.GenerateToken(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	payload := statePayload{
		Nonce:    nonce,
		UserID:   userID,
		IssuedAt: time.Now().Unix(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeState parses a state value back into its payload. It does not judge
// freshness; callers check expiry separately.
func decodeState(raw string) (*statePayload, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("state is not valid base64url: %w", err)
	}

	var payload statePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("state payload is not valid JSON: %w", err)
	}
	if payload.Nonce == "" || payload.UserID == "" {
		return nil, fmt.Errorf("state payload is missing required fields")
	}
	return &payload, nil
}

// expired reports whether the state was issued longer than the TTL ago.
// Clock skew into the future also fails: a timestamp ahead of now means the
// value was not produced by this process chain.
func (p *statePayload) expired(now time.Time) bool {
	issued := time.Unix(p.IssuedAt, 0)
	if issued.After(now.Add(time.Minute)) {
		return true
	}
	return now.Sub(issued) > stateTTL
}
