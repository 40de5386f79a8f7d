package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/postlinehq/postline/internal/apperrors"
)

// errorBody is the JSON shape every handler error takes.
type errorBody struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Provider string `json:"provider,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Println("API: Failed to encode response:", err.Error())
	}
}

// writeError maps a taxonomy error to its HTTP status and a sanitized body.
// The internal cause is logged here and goes no further.
func writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.Internal(err)
	log.Printf("API: request failed: %v", appErr)

	if appErr.Code == apperrors.CodeRateLimited && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
	}

	var body errorBody
	body.Error.Code = string(appErr.Code)
	body.Error.Message = appErr.Message
	body.Error.Provider = appErr.Provider
	writeJSON(w, appErr.HTTPStatus(), body)
}
