package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-tg-session-gateway/internal/errors"
	"github.com/rs/zerolog"
)

const contentTypeJSON = "application/json"

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err with the status for its category. Server side
// failures are logged; their detail is hidden unless they come from Telegram.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := errors.Code(err)
	detail := err.Error()

	if status == http.StatusRequestEntityTooLarge {
		code = "payload_too_large"
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			detail = errors.ErrInternal.Error()
		}
	}
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrUnknownIdentity):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrNotStarted):
		return http.StatusConflict
	case errors.Is(err, errors.ErrSecondFactorRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, errors.ErrCollaborator):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
