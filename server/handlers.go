package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-tg-session-gateway/connection"
	"github.com/jrsteele09/go-tg-session-gateway/internal/errors"
)

const (
	maxJSONBody     = 1 << 20
	multipartMemory = 8 << 20
	audioFormField  = "file"
)

type credentialsRequest struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone"`
}

func (c credentialsRequest) credentials() connection.Credentials {
	return connection.Credentials{APIID: c.APIID, APIHash: c.APIHash, Phone: c.Phone}
}

type verifyCodeRequest struct {
	credentialsRequest
	Code     string `json:"code"`
	Password string `json:"password,omitempty"`
}

type sendMessageRequest struct {
	credentialsRequest
	Text   string `json:"text"`
	Target string `json:"target,omitempty"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: request body is empty", errors.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %w", errors.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) StartAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.StartAuth(r.Context(), req.credentials())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) VerifyCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyCodeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.VerifyCode(r.Context(), req.credentials(), req.Code, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.auth.SignOut(r.Context(), req.credentials())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SendMessageHandler takes the text from the JSON body, falling back to the
// "message" query parameter.
func (s *Server) SendMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Text == "" {
			req.Text = r.URL.Query().Get("message")
		}
		if req.Target == "" {
			req.Target = r.URL.Query().Get("target")
		}
		res, err := s.auth.SendMessage(r.Context(), req.credentials(), req.Target, req.Text)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SendAudioHandler accepts a multipart form with the credential fields, an
// optional target and the audio in the "file" part.
func (s *Server) SendAudioHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, r, fmt.Errorf("%w: %w", errors.ErrInvalidRequest, err))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		apiID, err := strconv.Atoi(strings.TrimSpace(r.FormValue("api_id")))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: api_id must be an integer", errors.ErrInvalidRequest))
			return
		}
		creds := connection.Credentials{APIID: apiID, APIHash: r.FormValue("api_hash"), Phone: r.FormValue("phone")}

		file, header, err := r.FormFile(audioFormField)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %q file part is required", errors.ErrInvalidRequest, audioFormField))
			return
		}
		defer file.Close()

		res, err := s.auth.SendAudio(r.Context(), creds, r.FormValue("target"), header.Filename, file)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) SessionStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.auth.Status(r.Context(), r.PathValue("phone"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.store.Len()})
	}
}

// PreflightHandler answers OPTIONS requests that reach it without an Origin.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
	}
}
