package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-device-sessions/auth"
)

const (
	maxRequestBody    = 1 << 20
	retryAfterSeconds = 1
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type deviceLimitResponse struct {
	errorResponse
	Ceiling         int  `json:"ceiling"`
	UpgradeRequired bool `json:"upgrade_required"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Error: errorCode, ErrorDescription: description})
}

func writeUnauthorized(w http.ResponseWriter, errorCode, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="device-sessions"`)
	writeJSONError(w, errorCode, description, http.StatusUnauthorized)
}

// decodeJSON reads a bounded JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(auth.ErrInvalidInput, err.Error())
	}
	return nil
}

// writeGateError answers a failed authentication or authorization check. A vanished
// account is indistinguishable from any other rejected credential here.
func (s *Server) writeGateError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrAccountNotFound) {
		writeUnauthorized(w, "invalid_token", "Account no longer exists")
		return
	}
	s.writeServiceError(w, err)
}

// writeServiceError maps the session service error kinds onto HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var limitErr auth.DeviceLimitError
	switch {
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusForbidden, deviceLimitResponse{
			errorResponse: errorResponse{
				Error:            "device_limit_exceeded",
				ErrorDescription: "The account is signed in on the maximum number of devices",
			},
			Ceiling:         limitErr.Ceiling,
			UpgradeRequired: limitErr.UpgradeWouldHelp,
		})
	case errors.Is(err, auth.ErrStorageUnavailable):
		s.log.Warn().Err(err).Msg("storage unavailable")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeJSONError(w, "temporarily_unavailable", "Please retry shortly", http.StatusServiceUnavailable)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid_credentials", "Invalid identity or password")
	case errors.Is(err, auth.ErrStaleSession):
		writeUnauthorized(w, "stale_session", "The session has ended; sign in again")
	case errors.Is(err, auth.ErrTokenExpired):
		writeUnauthorized(w, "token_expired", "The token has expired")
	case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrTokenInvalid):
		writeUnauthorized(w, "invalid_token", "The token is not valid")
	case errors.Is(err, auth.ErrAccountNotFound):
		writeJSONError(w, "not_found", "Account not found", http.StatusNotFound)
	case errors.Is(err, auth.ErrAccountExists):
		writeJSONError(w, "account_exists", "An account with this identity already exists", http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidInput):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrUpgradeRequired):
		writeJSONError(w, "upgrade_required", "This feature requires an upgraded account", http.StatusForbidden)
	case errors.Is(err, auth.ErrForbidden):
		writeJSONError(w, "forbidden", "Admin access required", http.StatusForbidden)
	default:
		s.log.Error().Err(err).Msg("unhandled service error")
		writeJSONError(w, "server_error", "Internal server error", http.StatusInternalServerError)
	}
}
