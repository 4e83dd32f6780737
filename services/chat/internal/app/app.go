package app

import (
	"context"
	"errors"
	"sync"

	"ragchat/pkg/domain"
	"ragchat/pkg/index"
	"ragchat/pkg/llm"
	"ragchat/pkg/realtime"
	"ragchat/pkg/store"
)

// ModelResolver turns a saved configuration into a callable model. A nil
// configuration selects the system default.
type ModelResolver interface {
	Resolve(cfg *domain.UserLLMConfig) (llm.Model, error)
}

// Retriever finds the user's chunks closest to a query.
type Retriever interface {
	Search(ctx context.Context, userID, query string, k int) ([]index.Result, error)
}

// WebSearcher answers a question from web results using the given model.
type WebSearcher interface {
	Enabled() bool
	Summarize(ctx context.Context, model llm.Model, question string) (string, error)
}

// Config holds runtime dependencies for the chat application.
type Config struct {
	Store     store.Store
	Models    ModelResolver
	Retriever Retriever
	WebSearch WebSearcher
	Hub       *realtime.Hub
	// TopK is the number of chunks retrieved per question; defaults to 4.
	TopK int
	// HistoryLimit caps the previous turns replayed to the model; defaults to 10.
	HistoryLimit int
	// UseDocuments is the retrieval default when a request does not choose.
	UseDocuments bool
}

// App owns chat sessions, model configurations and response generation.
type App struct {
	store        store.Store
	models       ModelResolver
	retriever    Retriever
	webSearch    WebSearcher
	hub          *realtime.Hub
	topK         int
	historyLimit int
	useDocuments bool

	pending sync.WaitGroup
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Models == nil {
		return nil, errors.New("model resolver required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit == 0 {
		historyLimit = 10
	}
	if historyLimit < 0 {
		historyLimit = 0
	}
	hub := cfg.Hub
	if hub == nil {
		hub = realtime.NewHub()
	}
	return &App{
		store:        cfg.Store,
		models:       cfg.Models,
		retriever:    cfg.Retriever,
		webSearch:    cfg.WebSearch,
		hub:          hub,
		topK:         topK,
		historyLimit: historyLimit,
		useDocuments: cfg.UseDocuments,
	}, nil
}

// Hub returns the realtime hub sessions broadcast through.
func (a *App) Hub() *realtime.Hub {
	return a.hub
}

// Wait blocks until background generations started by SubmitMessage finish.
func (a *App) Wait() {
	a.pending.Wait()
}
