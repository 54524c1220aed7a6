package ipc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

// Controller is what the control socket drives. The running client
// implements it over its headless surface.
type Controller interface {
	Status() any
	Open(ctx context.Context, path string, rng *protocol.Range) error
	Select(ctx context.Context, path string, ranges []protocol.Range) error
	Type(ctx context.Context, path string, rng protocol.Range, text string) error
	Save(path string) error
	CloseFile(path string) error
}

// OpenRequest is the body of POST /open.
type OpenRequest struct {
	Path  string          `json:"path"`
	Range *protocol.Range `json:"range,omitempty"`
}

// SelectRequest is the body of POST /select.
type SelectRequest struct {
	Path   string           `json:"path"`
	Ranges []protocol.Range `json:"ranges"`
}

// TypeRequest is the body of POST /type.
type TypeRequest struct {
	Path  string         `json:"path"`
	Range protocol.Range `json:"range"`
	Text  string         `json:"text"`
}

// PathRequest is the body of POST /save and POST /close.
type PathRequest struct {
	Path string `json:"path"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// NewRouter builds the control API.
func NewRouter(c Controller) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Status())
	}).Methods(http.MethodGet)

	r.HandleFunc("/open", func(w http.ResponseWriter, req *http.Request) {
		var body OpenRequest
		if !decode(w, req, &body) {
			return
		}
		respond(w, c.Open(req.Context(), body.Path, body.Range))
	}).Methods(http.MethodPost)

	r.HandleFunc("/select", func(w http.ResponseWriter, req *http.Request) {
		var body SelectRequest
		if !decode(w, req, &body) {
			return
		}
		respond(w, c.Select(req.Context(), body.Path, body.Ranges))
	}).Methods(http.MethodPost)

	r.HandleFunc("/type", func(w http.ResponseWriter, req *http.Request) {
		var body TypeRequest
		if !decode(w, req, &body) {
			return
		}
		respond(w, c.Type(req.Context(), body.Path, body.Range, body.Text))
	}).Methods(http.MethodPost)

	r.HandleFunc("/save", func(w http.ResponseWriter, req *http.Request) {
		var body PathRequest
		if !decode(w, req, &body) {
			return
		}
		respond(w, c.Save(body.Path))
	}).Methods(http.MethodPost)

	r.HandleFunc("/close", func(w http.ResponseWriter, req *http.Request) {
		var body PathRequest
		if !decode(w, req, &body) {
			return
		}
		respond(w, c.CloseFile(body.Path))
	}).Methods(http.MethodPost)

	return r
}

// decode reads a JSON body that must name a path.
func decode(w http.ResponseWriter, req *http.Request, v interface{ target() string }) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeError(w, apperrors.InvalidMessage("malformed request body", err))
		return false
	}
	if v.target() == "" {
		writeError(w, apperrors.InvalidMessage("path is required", nil))
		return false
	}
	return true
}

func (r *OpenRequest) target() string { return r.Path }
func (r *SelectRequest) target() string { return r.Path }
func (r *TypeRequest) target() string { return r.Path }
func (r *PathRequest) target() string { return r.Path }

func respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func writeError(w http.ResponseWriter, err error) {
	code, message := apperrors.ToCodeAndMessage(err)
	writeJSON(w, statusFor(code), ErrorResponse{Code: code, Message: message})
}

func statusFor(code string) int {
	switch code {
	case apperrors.CodeInvalidMessage:
		return http.StatusBadRequest
	case apperrors.CodeSurfaceNotFound, apperrors.CodeStorageNotFound:
		return http.StatusNotFound
	case apperrors.CodeEditRejected:
		return http.StatusConflict
	case apperrors.CodeConnectionClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
