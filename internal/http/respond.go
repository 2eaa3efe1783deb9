package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"assetgate/internal/payment"
	"assetgate/internal/tokens"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, extra map[string]any) {
	body := map[string]any{"error": code}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// statusForPayment maps a verification or issuance failure to its HTTP
// status and stable wire code.
func statusForPayment(err error) (int, string) {
	code := payment.ErrorCode(err)
	switch code {
	case "invalid_token":
		return http.StatusUnauthorized, code
	case "transaction_not_found":
		return http.StatusNotFound, code
	case "already_claimed":
		return http.StatusConflict, code
	case "server_misconfigured", "server_error":
		return http.StatusInternalServerError, code
	default:
		return http.StatusBadRequest, code
	}
}

// statusForToken maps an access token failure to 401 plus its code.
func statusForToken(err error) (int, string) {
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return http.StatusUnauthorized, "expired"
	case errors.Is(err, tokens.ErrBadSignature):
		return http.StatusUnauthorized, "bad_signature"
	case errors.Is(err, tokens.ErrMalformedToken):
		return http.StatusUnauthorized, "invalid_token"
	default:
		return http.StatusUnauthorized, "unauthorized"
	}
}
