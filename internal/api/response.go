package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/shramba/internal/apperr"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Warn("error encoding response", "error", err)
		}
	}
}

type errorBody struct {
	Error   string      `json:"error"`
	Code    apperr.Code `json:"code"`
	Details any         `json:"details,omitempty"`
}

// jsonError writes a JSON error response for failures detected in the
// transport itself, such as a malformed body.
func jsonError(w http.ResponseWriter, status int, code apperr.Code, message string) {
	jsonResponse(w, status, errorBody{Error: message, Code: code})
}

// responder renders service errors. Internal errors are logged here, once,
// with their cause; callers only see a generic message.
type responder struct {
	logger *slog.Logger
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	if e.Code == apperr.Internal {
		rs.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	jsonResponse(w, e.HTTPStatus(), errorBody{Error: e.Message, Code: e.Code, Details: e.Details})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(target)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, target any) error {
	if err := decodeJSON(w, r, target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func badBody(w http.ResponseWriter) {
	jsonError(w, http.StatusBadRequest, apperr.InvalidInput, "invalid request body")
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Invalidf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperr.Invalidf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func queryPtr(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

// readImageUpload reads the "image" file of a multipart form of at most limit
// bytes. On failure it writes the error response and returns ok false. Other
// form values stay readable through r.FormValue.
func readImageUpload(w http.ResponseWriter, r *http.Request, limit int64) (data []byte, filename string, ok bool) {
	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, apperr.InvalidInput, "image too large")
			return nil, "", false
		}
		jsonError(w, http.StatusBadRequest, apperr.InvalidInput, "expected multipart form data")
		return nil, "", false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, apperr.InvalidInput, "missing image file")
		return nil, "", false
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		badBody(w)
		return nil, "", false
	}
	if int64(len(data)) > limit {
		jsonError(w, http.StatusRequestEntityTooLarge, apperr.InvalidInput, "image too large")
		return nil, "", false
	}
	return data, header.Filename, true
}
