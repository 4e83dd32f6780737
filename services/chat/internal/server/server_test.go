package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/internal/authn"
	"ragchat/internal/ratelimit"
	"ragchat/pkg/domain"
	"ragchat/pkg/llm"
	"ragchat/pkg/realtime"
	"ragchat/pkg/store"
	"ragchat/services/chat/internal/app"
)

type echoModel struct{}

func (echoModel) Provider() domain.ModelType       { return domain.ModelOpenAI }
func (echoModel) Name() string                     { return "echo" }
func (echoModel) Capabilities() llm.Capabilities   { return llm.Capabilities{} }
func (echoModel) FormatVision(string, llm.Image) (llm.Message, error) {
	return llm.Message{}, llm.ErrVisionUnsupported
}

func (echoModel) Invoke(_ context.Context, messages []llm.Message) (string, error) {
	return "echo: " + messages[len(messages)-1].Content, nil
}

func (echoModel) Stream(_ context.Context, messages []llm.Message) (*llm.Stream, error) {
	parts := []string{"echo", ": ", messages[len(messages)-1].Content}
	i := 0
	return llm.NewStream(func() (string, error) {
		if i == len(parts) {
			return "", io.EOF
		}
		i++
		return parts[i-1], nil
	}, nil), nil
}

type echoResolver struct{}

func (echoResolver) Resolve(*domain.UserLLMConfig) (llm.Model, error) { return echoModel{}, nil }

type testEnv struct {
	handler  http.Handler
	verifier *authn.Verifier
}

func newTestServer(t *testing.T, limiter *ratelimit.FixedWindowLimiter) testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	st, err := store.NewGormStore(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	a, err := app.New(app.Config{Store: st, Models: echoResolver{}})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(a.Wait)
	verifier, err := authn.NewVerifier(authn.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	srv, err := New(Config{App: a, Verifier: verifier, Limiter: limiter})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return testEnv{handler: srv.Router(), verifier: verifier}
}

func (e testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.verifier.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func (e testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) createSession(t *testing.T, userID string) domain.ChatSession {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/chats", userID, map[string]string{"title": "test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body.String())
	}
	var s domain.ChatSession
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return s
}

func TestChatLifecycle(t *testing.T) {
	env := newTestServer(t, nil)
	s := env.createSession(t, "u1")

	rec := env.do(t, http.MethodPost, "/chats/"+s.ID+"/messages", "u1", domain.MessageCreate{Message: "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("message: %d %s", rec.Code, rec.Body.String())
	}
	var msg domain.ChatMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &msg)
	if msg.Response != "echo: hello" {
		t.Fatalf("unexpected response %q", msg.Response)
	}

	rec = env.do(t, http.MethodGet, "/chats/"+s.ID+"/history", "u1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "echo: hello") {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/chats/tree", "u1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"lastMessage"`) {
		t.Fatalf("tree: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/chats/"+s.ID+"/history", "u2", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "CHAT_SESSION_NOT_FOUND") {
		t.Fatalf("foreign history: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodDelete, "/chats/"+s.ID, "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/chats", "u1", nil)
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Fatalf("deleted session still listed: %s", rec.Body.String())
	}
}

func TestRequestErrors(t *testing.T) {
	env := newTestServer(t, nil)
	s := env.createSession(t, "u1")
	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/chats", "", nil, http.StatusUnauthorized, ""},
		{"empty message", http.MethodPost, "/chats/" + s.ID + "/messages", "u1", domain.MessageCreate{}, http.StatusBadRequest, "CHAT_MESSAGE_REQUIRED"},
		{"bad image", http.MethodPost, "/chats/" + s.ID + "/messages", "u1", domain.MessageCreate{Message: "x", ImageBase64: "!!"}, http.StatusBadRequest, "CHAT_INVALID_IMAGE"},
		{"vision unsupported", http.MethodPost, "/chats/" + s.ID + "/messages", "u1", domain.MessageCreate{Message: "x", ImageBase64: "aGVsbG8="}, http.StatusBadRequest, "LLM_VISION_UNSUPPORTED"},
		{"wrong method", http.MethodGet, "/chats/" + s.ID + "/messages", "u1", nil, http.StatusMethodNotAllowed, "SYSTEM_METHOD_NOT_ALLOWED"},
		{"unknown sub route", http.MethodGet, "/chats/" + s.ID + "/nope", "u1", nil, http.StatusNotFound, "SYSTEM_NOT_FOUND"},
		{"invalid config", http.MethodPost, "/llm-configs", "u1", map[string]string{"modelType": "custom", "modelName": "x"}, http.StatusBadRequest, "LLM_CONFIG_INVALID"},
		{"missing config", http.MethodGet, "/llm-configs/missing", "u1", nil, http.StatusNotFound, "LLM_CONFIG_NOT_FOUND"},
		{"no default", http.MethodGet, "/llm-configs/default", "u1", nil, http.StatusNotFound, "LLM_CONFIG_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.user, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.code != "" && !strings.Contains(rec.Body.String(), `"code":"`+tt.code+`"`) {
				t.Fatalf("expected code %s in %s", tt.code, rec.Body.String())
			}
		})
	}
}

func TestLLMConfigEndpointsHideAPIKey(t *testing.T) {
	env := newTestServer(t, nil)
	rec := env.do(t, http.MethodPost, "/llm-configs", "u1", map[string]any{
		"modelType": "openai", "modelName": "gpt-4o-mini", "apiKey": "sk-secret", "isDefault": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "sk-secret") || !strings.Contains(rec.Body.String(), `"hasApiKey":true`) {
		t.Fatalf("api key must be hidden: %s", rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/llm-configs/default", "u1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gpt-4o-mini") {
		t.Fatalf("default: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/llm-configs/models", "u1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"imageSupport"`) {
		t.Fatalf("models: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStreamEndpointSendsEvents(t *testing.T) {
	env := newTestServer(t, nil)
	s := env.createSession(t, "u1")

	rec := env.do(t, http.MethodPost, "/chats/"+s.ID+"/messages/stream", "u1", domain.MessageCreate{Message: "hi"})
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("stream: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	var events []string
	var content strings.Builder
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if ev, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, ev)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && events[len(events)-1] == realtime.EventChunk {
			var chunk map[string]string
			_ = json.Unmarshal([]byte(data), &chunk)
			content.WriteString(chunk["content"])
		}
	}
	if len(events) != 4 || events[3] != realtime.EventMessageComplete {
		t.Fatalf("unexpected events %v", events)
	}
	if content.String() != "echo: hi" {
		t.Fatalf("unexpected streamed content %q", content.String())
	}

	rec = env.do(t, http.MethodPost, "/chats/missing/messages/stream", "u1", domain.MessageCreate{Message: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected plain 404 before streaming starts, got %d", rec.Code)
	}
}

func TestAsyncEndpointReturnsPlaceholder(t *testing.T) {
	env := newTestServer(t, nil)
	s := env.createSession(t, "u1")
	rec := env.do(t, http.MethodPost, "/chats/"+s.ID+"/messages/async", "u1", domain.MessageCreate{Message: "later"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async: %d %s", rec.Code, rec.Body.String())
	}
	var msg domain.ChatMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &msg)
	if !msg.IsTyping || msg.Message != "later" {
		t.Fatalf("unexpected placeholder %+v", msg)
	}
}

func TestGenerationRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	env := newTestServer(t, limiter)
	s := env.createSession(t, "u1")

	if rec := env.do(t, http.MethodPost, "/chats/"+s.ID+"/messages", "u1", domain.MessageCreate{Message: "one"}); rec.Code != http.StatusCreated {
		t.Fatalf("first: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/chats/"+s.ID+"/messages", "u1", domain.MessageCreate{Message: "two"})
	if rec.Code != http.StatusTooManyRequests || !strings.Contains(rec.Body.String(), "CHAT_RATE_LIMITED") {
		t.Fatalf("second: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/chats/"+s.ID+"/messages", "u2", domain.MessageCreate{Message: "x"}); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("limit must be per user")
	}
}

func TestWebsocketChat(t *testing.T) {
	env := newTestServer(t, nil)
	s := env.createSession(t, "u1")
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chats/" + s.ID + "/ws?access_token=" + env.token(t, "u1")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "message", "content": map[string]string{"message": "ping"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	var streamed strings.Builder
	for {
		var ev struct {
			Type    string          `json:"type"`
			Content json.RawMessage `json:"content"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v (got %v)", err, types)
		}
		types = append(types, ev.Type)
		if ev.Type == realtime.EventChunk {
			var chunk string
			_ = json.Unmarshal(ev.Content, &chunk)
			streamed.WriteString(chunk)
		}
		if ev.Type == realtime.EventMessageComplete {
			break
		}
	}
	if types[0] != realtime.EventTypingStatus || streamed.String() != "echo: ping" {
		t.Fatalf("unexpected events %v, streamed %q", types, streamed.String())
	}

	_, resp, err = websocket.DefaultDialer.Dial(strings.Replace(url, s.ID, "missing", 1), nil)
	if err == nil || !errors.Is(err, websocket.ErrBadHandshake) || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake failure for unknown session, got %v", err)
	}
}
