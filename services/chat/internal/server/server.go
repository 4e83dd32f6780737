package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ragchat/internal/authn"
	"ragchat/internal/ratelimit"
	"ragchat/internal/util"
	"ragchat/pkg/domain"
	"ragchat/pkg/llm"
	"ragchat/pkg/realtime"
	"ragchat/services/chat/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *authn.Verifier
	// Limiter caps generation requests per user; nil disables limiting.
	Limiter      *ratelimit.FixedWindowLimiter
	MaxBodyBytes int64
	CORSOrigins  []string
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app          *app.App
	verifier     *authn.Verifier
	limiter      *ratelimit.FixedWindowLimiter
	maxBodyBytes int64
	corsOrigins  []string
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier required")
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	s := &Server{
		app:          cfg.App,
		verifier:     cfg.Verifier,
		limiter:      cfg.Limiter,
		maxBodyBytes: maxBodyBytes,
		corsOrigins:  cfg.CORSOrigins,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain("chat", s.corsOrigins, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/chats", s.verifier.Middleware(http.HandlerFunc(s.handleChats)))
	s.mux.Handle("/chats/", s.verifier.Middleware(http.HandlerFunc(s.handleChatByID)))
	s.mux.Handle("/llm-configs", s.verifier.Middleware(http.HandlerFunc(s.handleLLMConfigs)))
	s.mux.Handle("/llm-configs/", s.verifier.Middleware(http.HandlerFunc(s.handleLLMConfigByID)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	switch r.Method {
	case http.MethodPost:
		var req app.SessionCreate
		if !s.decode(w, r, &req) {
			return
		}
		session, err := s.app.CreateSession(r.Context(), userID, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	case http.MethodGet:
		sessions, err := s.app.ListSessions(r.Context(), userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": sessions,
			"count": len(sessions),
		})
	default:
		methodNotAllowed(w)
	}
}

// /chats/tree, /chats/{id}, /chats/{id}/history, /chats/{id}/messages[/async|/stream] or /chats/{id}/ws
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	path := strings.TrimPrefix(r.URL.Path, "/chats/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if id == "tree" && len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		tree, err := s.app.SessionTree(r.Context(), userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": tree,
			"count": len(tree),
		})
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "history":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			msgs, err := s.app.History(r.Context(), userID, id)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"chatId":   id,
				"messages": msgs,
			})
		case "messages":
			s.handleCreateMessage(w, r, userID, id)
		case "messages/async":
			s.handleSubmitMessage(w, r, userID, id)
		case "messages/stream":
			s.handleStreamMessage(w, r, userID, id)
		case "ws":
			s.handleSocket(w, r, userID, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, err := s.app.Session(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodPatch:
		var patch app.SessionPatch
		if !s.decode(w, r, &patch) {
			return
		}
		session, err := s.app.UpdateSession(r.Context(), userID, id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodDelete:
		if err := s.app.DeleteSession(r.Context(), userID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// generationRequest decodes a message payload and applies the per-user
// generation limit.
func (s *Server) generationRequest(w http.ResponseWriter, r *http.Request, userID string) (domain.MessageCreate, bool) {
	var req domain.MessageCreate
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return req, false
	}
	if !s.decode(w, r, &req) {
		return req, false
	}
	if !s.limiter.Allow(r.Context(), userID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return req, false
	}
	return req, true
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	req, ok := s.generationRequest(w, r, userID)
	if !ok {
		return
	}
	msg, err := s.app.CreateMessage(r.Context(), userID, sessionID, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	req, ok := s.generationRequest(w, r, userID)
	if !ok {
		return
	}
	msg, err := s.app.SubmitMessage(r.Context(), userID, sessionID, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// handleStreamMessage answers with server-sent events: one chunk event per
// increment, then message_complete with the stored message. Failures before
// the first increment are plain JSON errors.
func (s *Server) handleStreamMessage(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	req, ok := s.generationRequest(w, r, userID)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	msg, err := s.app.StreamMessage(r.Context(), userID, sessionID, req, func(chunk string) error {
		start()
		if err := writeEvent(w, realtime.EventChunk, map[string]string{"content": chunk}); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		if !started {
			writeAppError(w, err)
			return
		}
		_, public := errorStatus(err)
		_ = writeEvent(w, realtime.EventError, map[string]string{"error": public})
		_ = rc.Flush()
		return
	}
	start()
	_ = writeEvent(w, realtime.EventMessageComplete, msg)
	_ = rc.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := s.app.Session(r.Context(), userID, sessionID); err != nil {
		writeAppError(w, err)
		return
	}
	ws, err := realtime.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Logger(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}
	conn := realtime.NewWSConn(ws)
	defer conn.Close()
	if err := s.app.ServeSocket(r.Context(), userID, sessionID, conn); err != nil {
		util.Logger(r.Context()).Warn("websocket session ended", "session_id", sessionID, "err", err)
	}
}

// llmConfigView hides the API key and reports whether one is set.
type llmConfigView struct {
	domain.UserLLMConfig
	HasAPIKey bool `json:"hasApiKey"`
}

func viewOf(cfg domain.UserLLMConfig) llmConfigView {
	return llmConfigView{UserLLMConfig: cfg, HasAPIKey: cfg.HasAPIKey()}
}

func (s *Server) handleLLMConfigs(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	switch r.Method {
	case http.MethodPost:
		var in app.LLMConfigInput
		if !s.decode(w, r, &in) {
			return
		}
		cfg, err := s.app.CreateLLMConfig(r.Context(), userID, in)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(cfg))
	case http.MethodGet:
		configs, err := s.app.ListLLMConfigs(r.Context(), userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		items := make([]llmConfigView, 0, len(configs))
		for _, c := range configs {
			items = append(items, viewOf(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	default:
		methodNotAllowed(w)
	}
}

// /llm-configs/models, /llm-configs/default, /llm-configs/{id} or /llm-configs/{id}/default
func (s *Server) handleLLMConfigByID(w http.ResponseWriter, r *http.Request) {
	userID, _ := authn.UserID(r.Context())
	path := strings.TrimPrefix(r.URL.Path, "/llm-configs/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch id {
		case "models":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			models := s.app.SupportedModels()
			writeJSON(w, http.StatusOK, map[string]any{
				"items": models,
				"count": len(models),
			})
			return
		case "default":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			cfg, err := s.app.DefaultLLMConfig(r.Context(), userID)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, viewOf(cfg))
			return
		}
	}
	if len(parts) == 2 {
		if parts[1] != "default" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		cfg, err := s.app.SetDefaultLLMConfig(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(cfg))
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := s.app.GetLLMConfig(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(cfg))
	case http.MethodPatch, http.MethodPut:
		var in app.LLMConfigInput
		if !s.decode(w, r, &in) {
			return
		}
		cfg, err := s.app.UpdateLLMConfig(r.Context(), userID, id, in)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(cfg))
	case http.MethodDelete:
		if err := s.app.DeleteLLMConfig(r.Context(), userID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeAppError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	writeError(w, status, msg)
}

// errorStatus maps application and provider errors to a status and a
// message safe to show to clients.
func errorStatus(err error) (int, string) {
	var (
		unsupported *llm.UnsupportedProviderError
		routing     *llm.OpenRouterRoutingError
		invocation  *llm.ProviderInvocationError
	)
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		return http.StatusNotFound, app.ErrSessionNotFound.Error()
	case errors.Is(err, app.ErrLLMConfigNotFound):
		return http.StatusNotFound, app.ErrLLMConfigNotFound.Error()
	case errors.Is(err, app.ErrMessageRequired), errors.Is(err, app.ErrInvalidImage),
		errors.Is(err, app.ErrInvalidParent), errors.Is(err, app.ErrInvalidLLMConfig):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, llm.ErrVisionUnsupported):
		return http.StatusBadRequest, "model does not support images"
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, "llm config: " + unsupported.Error()
	case errors.Is(err, llm.ErrBaseURLRequired):
		return http.StatusBadRequest, "llm config: " + llm.ErrBaseURLRequired.Error()
	case errors.As(err, &routing) && routing.RateLimited():
		return http.StatusTooManyRequests, "model provider rate limited"
	case errors.As(err, &routing), errors.As(err, &invocation):
		return http.StatusBadGateway, "model provider request failed"
	default:
		return http.StatusInternalServerError, "internal error"
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
		Code:      errorCodeForChat(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForChat(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "chat session not found":
		return "CHAT_SESSION_NOT_FOUND"
	case message == "llm config not found":
		return "LLM_CONFIG_NOT_FOUND"
	case message == "message required":
		return "CHAT_MESSAGE_REQUIRED"
	case message == "invalid image data":
		return "CHAT_INVALID_IMAGE"
	case strings.HasPrefix(message, "invalid parent session"):
		return "CHAT_INVALID_PARENT"
	case strings.HasPrefix(message, "invalid llm config"), strings.HasPrefix(message, "llm config:"):
		return "LLM_CONFIG_INVALID"
	case message == "model does not support images":
		return "LLM_VISION_UNSUPPORTED"
	case message == "model provider rate limited":
		return "LLM_PROVIDER_RATE_LIMITED"
	case message == "model provider request failed":
		return "LLM_PROVIDER_FAILED"
	case message == "rate limit exceeded":
		return "CHAT_RATE_LIMITED"
	case message == "invalid json body":
		return "SYSTEM_INVALID_JSON"
	case message == "request body too large":
		return "SYSTEM_BODY_TOO_LARGE"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "CHAT_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "CHAT_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "CHAT_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
