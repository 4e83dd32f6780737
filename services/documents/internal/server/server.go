package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ragchat/internal/authn"
	"ragchat/internal/util"
	"ragchat/pkg/queue"
	"ragchat/services/documents/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Verifier       *authn.Verifier
	InternalToken  string
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server exposes HTTP endpoints for the documents service.
type Server struct {
	app            *app.App
	verifier       *authn.Verifier
	internalToken  string
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigins    []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		internalToken:  cfg.InternalToken,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		corsOrigins:    cfg.CORSOrigins,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain("documents", s.corsOrigins, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/internal/users/", s.withInternal(s.handleInternalUser))

	s.mux.Handle("/documents", s.verifier.Middleware(http.HandlerFunc(s.handleDocuments)))
	s.mux.Handle("/documents/", s.verifier.Middleware(http.HandlerFunc(s.handleDocumentByID)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalToken == "" {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /documents/{id}, /documents/{id}/reprocess or /documents/{id}/download
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "reprocess":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			doc, err := s.app.Reprocess(r.Context(), userID, id)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, doc)
		case "download":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			url, filename, err := s.app.DownloadURL(r.Context(), userID, id)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"url": url, "filename": filename})
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.Get(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.Delete(r.Context(), userID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /internal/users/{id}
func (s *Server) handleInternalUser(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/internal/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.PurgeUser(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := s.app.Upload(r.Context(), userID, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	docs, err := s.app.List(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	var dispatchErr *queue.DispatchError
	switch {
	case errors.Is(err, app.ErrFilenameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &dispatchErr):
		writeError(w, http.StatusServiceUnavailable, "document could not be queued for processing")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForDocument(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForDocument(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "internal auth not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "document not found":
		return "DOCUMENT_NOT_FOUND"
	case message == "file too large":
		return "DOCUMENT_FILE_TOO_LARGE"
	case message == "filename required", strings.Contains(message, "file is required"):
		return "DOCUMENT_FILE_REQUIRED"
	case message == "invalid form data":
		return "DOCUMENT_INVALID_UPLOAD_FORM"
	case strings.Contains(message, "could not be queued"):
		return "DOCUMENT_DISPATCH_FAILED"
	case strings.Contains(message, "still being processed"):
		return "DOCUMENT_NOT_TERMINAL"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "DOCUMENT_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "DOCUMENT_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
