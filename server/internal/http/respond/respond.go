// Package respond writes JSON responses and maps service errors onto HTTP
// status codes.
package respond

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/devilmonastery/gatehouse/internal/domain/services"
	"github.com/devilmonastery/gatehouse/internal/pkg/logger"
)

// ErrorBody is the shape of every error response
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// Message writes an error body with the given status
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: message})
}

// StatusFor returns the HTTP status of a service error
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a JSON error. Only the public message reaches the
// client; server-side failures are logged with their cause.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
	} else {
		log.DebugContext(r.Context(), "request rejected", slog.Int("status", status), slog.String("error", err.Error()))
	}
	Message(w, status, services.PublicMessage(err))
}

const maxBodyBytes = 1 << 20

// Decode reads a JSON request body into v. It writes a 400 and returns false
// on malformed input.
func Decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return decode(w, r, v, false)
}

// DecodeOptional is Decode for endpoints whose body may be empty
func DecodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	return decode(w, r, v, true)
}

const (
	formURLEncoded = "application/x-www-form-urlencoded"
	formMultipart  = "multipart/form-data"
)

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// IsForm reports whether the request body is an HTML form encoding
func IsForm(r *http.Request) bool {
	mt := mediaType(r)
	return mt == formURLEncoded || mt == formMultipart
}

// ParseForm parses a form body, capped like JSON bodies. It writes a 400 and
// returns false when the body cannot be parsed.
func ParseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var err error
	if mediaType(r) == formMultipart {
		err = r.ParseMultipartForm(maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		Message(w, http.StatusBadRequest, "malformed form body")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return true
		}
		Message(w, http.StatusBadRequest, "request body required")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		Message(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
