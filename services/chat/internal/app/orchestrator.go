package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ragchat/internal/util"
	"ragchat/pkg/domain"
	"ragchat/pkg/llm"
	"ragchat/pkg/realtime"
)

// turn is an assembled generation request for one user message.
type turn struct {
	session  domain.ChatSession
	userID   string
	question string
	model    llm.Model
	messages []llm.Message
	sources  []domain.SourceRef
}

// prepare resolves the model and assembles the prompt: system prompt with
// retrieved excerpts, then either one vision turn or the replayed history
// followed by the question, then the web search summary when the model
// supports it.
func (a *App) prepare(ctx context.Context, userID, sessionID string, req domain.MessageCreate) (turn, error) {
	session, err := a.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return turn{}, err
	}
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return turn{}, ErrMessageRequired
	}
	img, hasImage, err := decodeImage(req)
	if err != nil {
		return turn{}, err
	}
	model, err := a.resolveModel(ctx, userID)
	if err != nil {
		return turn{}, err
	}
	caps := model.Capabilities()
	search := !hasImage && caps.WebSearch && !caps.VisionOnly && a.webSearch != nil && a.webSearch.Enabled()

	kind := promptDefault
	switch {
	case hasImage:
		kind = promptImage
	case search:
		kind = promptWebSearch
	}
	system := systemPrompt(model.Provider(), kind)
	sources := []domain.SourceRef{}
	if a.retrievalEnabled(req) {
		results, err := a.retriever.Search(ctx, userID, question, a.topK)
		if err != nil {
			return turn{}, fmt.Errorf("retrieve documents: %w", err)
		}
		var excerpts string
		excerpts, sources = buildContext(results)
		if excerpts != "" {
			system += "\n\n" + excerpts
		}
	}

	messages := []llm.Message{llm.System(system)}
	if hasImage {
		vision, err := model.FormatVision(question, img)
		if err != nil {
			return turn{}, err
		}
		messages = append(messages, vision)
	} else {
		if a.historyLimit > 0 {
			history, err := a.store.ListMessages(ctx, session.ID, a.historyLimit)
			if err != nil {
				return turn{}, fmt.Errorf("load history: %w", err)
			}
			messages = append(messages, buildHistory(history)...)
		}
		messages = append(messages, llm.User(question))
	}
	if search {
		summary, err := a.webSearch.Summarize(ctx, model, question)
		if err != nil {
			return turn{}, fmt.Errorf("web search: %w", err)
		}
		messages = append(messages, llm.Assistant(summary))
	}
	return turn{
		session:  session,
		userID:   userID,
		question: question,
		model:    model,
		messages: messages,
		sources:  sources,
	}, nil
}

func (a *App) retrievalEnabled(req domain.MessageCreate) bool {
	use := a.useDocuments
	if req.UseDocuments != nil {
		use = *req.UseDocuments
	}
	return use && a.retriever != nil
}

// decodeImage accepts raw base64 or a data URL. The declared MIME type wins
// over the data URL prefix.
func decodeImage(req domain.MessageCreate) (llm.Image, bool, error) {
	raw := strings.TrimSpace(req.ImageBase64)
	if raw == "" {
		return llm.Image{}, false, nil
	}
	mimeType := strings.TrimSpace(req.ImageMime)
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return llm.Image{}, false, ErrInvalidImage
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(header, ";base64")
		}
		raw = payload
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return llm.Image{}, false, ErrInvalidImage
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil || len(data) == 0 {
		return llm.Image{}, false, ErrInvalidImage
	}
	return llm.Image{Data: data, MimeType: mimeType}, true, nil
}

// record persists the completed turn as one message row.
func (a *App) record(ctx context.Context, t turn, response string) (domain.ChatMessage, error) {
	msg := domain.ChatMessage{
		ID:              util.NewID(),
		SessionID:       t.session.ID,
		UserID:          t.userID,
		Message:         t.question,
		Response:        response,
		SourceDocuments: t.sources,
		CreatedAt:       time.Now().UTC(),
	}
	if err := a.store.CreateMessage(ctx, msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save message: %w", err)
	}
	a.retitle(ctx, t.session, t.question)
	return msg, nil
}

// CreateMessage generates a complete response and stores it with the question.
func (a *App) CreateMessage(ctx context.Context, userID, sessionID string, req domain.MessageCreate) (domain.ChatMessage, error) {
	t, err := a.prepare(ctx, userID, sessionID, req)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	response, err := t.model.Invoke(ctx, t.messages)
	if err != nil {
		util.Logger(ctx).Error("generation failed", "session_id", sessionID, "provider", t.model.Provider(), "model", t.model.Name(), "err", err)
		return domain.ChatMessage{}, fmt.Errorf("generate response: %w", err)
	}
	return a.record(ctx, t, response)
}

// StreamMessage forwards each increment of a single provider stream to emit
// and stores the concatenation once the stream ends. When emit fails the
// client is gone: generation still runs to the end and is stored.
func (a *App) StreamMessage(ctx context.Context, userID, sessionID string, req domain.MessageCreate, emit func(string) error) (domain.ChatMessage, error) {
	t, err := a.prepare(ctx, userID, sessionID, req)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	logger := util.Logger(ctx).With("session_id", sessionID, "provider", t.model.Provider(), "model", t.model.Name())
	genCtx := context.WithoutCancel(ctx)
	stream, err := t.model.Stream(genCtx, t.messages)
	if err != nil {
		logger.Error("generation failed", "err", err)
		return domain.ChatMessage{}, fmt.Errorf("generate response: %w", err)
	}
	defer stream.Close()

	var buf strings.Builder
	forward := emit != nil
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("stream failed", "err", err)
			return domain.ChatMessage{}, fmt.Errorf("stream response: %w", err)
		}
		if chunk == "" {
			continue
		}
		buf.WriteString(chunk)
		if forward {
			if err := emit(chunk); err != nil {
				forward = false
				logger.Info("client disconnected, finishing response", "err", err)
			}
		}
	}
	return a.record(genCtx, t, buf.String())
}

// SubmitMessage stores a placeholder marked as typing and returns it at once.
// The response is generated in the background and written to the same row;
// a failure leaves the response empty and records the error.
func (a *App) SubmitMessage(ctx context.Context, userID, sessionID string, req domain.MessageCreate) (domain.ChatMessage, error) {
	session, err := a.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return domain.ChatMessage{}, ErrMessageRequired
	}
	if _, _, err := decodeImage(req); err != nil {
		return domain.ChatMessage{}, err
	}
	placeholder := domain.ChatMessage{
		ID:              util.NewID(),
		SessionID:       session.ID,
		UserID:          userID,
		Message:         question,
		IsTyping:        true,
		SourceDocuments: []domain.SourceRef{},
		CreatedAt:       time.Now().UTC(),
	}
	if err := a.store.CreateMessage(ctx, placeholder); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("save message: %w", err)
	}
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		a.complete(context.WithoutCancel(ctx), placeholder, req)
	}()
	return placeholder, nil
}

func (a *App) complete(ctx context.Context, placeholder domain.ChatMessage, req domain.MessageCreate) {
	logger := util.Logger(ctx).With("session_id", placeholder.SessionID, "message_id", placeholder.ID)
	msg := placeholder
	msg.IsTyping = false

	t, err := a.prepare(ctx, placeholder.UserID, placeholder.SessionID, req)
	var response string
	if err == nil {
		response, err = t.model.Invoke(ctx, t.messages)
	}
	if err != nil {
		logger.Error("background generation failed", "err", err)
		msg.Error = err.Error()
	} else {
		msg.Response = response
		msg.SourceDocuments = t.sources
	}
	if uerr := a.store.UpdateMessage(ctx, msg); uerr != nil {
		logger.Error("save background response", "err", uerr)
		return
	}
	if err != nil {
		a.hub.Broadcast(ctx, msg.SessionID, realtime.Error(msg.Error))
		return
	}
	a.retitle(ctx, t.session, t.question)
	a.hub.Broadcast(ctx, msg.SessionID, realtime.MessageComplete(msg, msg.UserID))
}

// ChatOverSocket streams a response to every connection of the session:
// typing on, one chunk event per increment, typing off, then the stored
// message as message_complete.
func (a *App) ChatOverSocket(ctx context.Context, userID, sessionID string, req domain.MessageCreate) error {
	a.hub.SetTyping(ctx, sessionID, userID, true)
	msg, err := a.StreamMessage(ctx, userID, sessionID, req, func(chunk string) error {
		a.hub.Broadcast(ctx, sessionID, realtime.Chunk(chunk, userID))
		return nil
	})
	a.hub.SetTyping(context.WithoutCancel(ctx), sessionID, userID, false)
	if err != nil {
		a.hub.Broadcast(context.WithoutCancel(ctx), sessionID, realtime.Error(err.Error()))
		return err
	}
	a.hub.Broadcast(context.WithoutCancel(ctx), sessionID, realtime.MessageComplete(msg, userID))
	return nil
}
