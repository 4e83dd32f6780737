package app

import (
	"fmt"
	"strings"

	"ragchat/pkg/domain"
	"ragchat/pkg/index"
	"ragchat/pkg/llm"
)

const (
	defaultSystemPrompt = `You are an AI assistant that can answer questions based on provided documents.
If the question cannot be answered from the documents, respond with "I don't know".`

	imageSystemPrompt = `You are an AI assistant that can describe images and answer questions based on provided documents.
If the question cannot be answered from the documents, respond with "I don't know".`

	webSearchSystemPrompt = `You are an AI assistant that can answer questions based on provided documents and web search results.
If the question cannot be answered from the documents or web search results, respond with "I don't know".`

	openRouterSystemPrompt = defaultSystemPrompt

	snippetLimit = 240
)

type promptKind int

const (
	promptDefault promptKind = iota
	promptImage
	promptWebSearch
)

func systemPrompt(provider domain.ModelType, kind promptKind) string {
	if provider == domain.ModelOpenRouter {
		return openRouterSystemPrompt
	}
	switch kind {
	case promptImage:
		return imageSystemPrompt
	case promptWebSearch:
		return webSearchSystemPrompt
	default:
		return defaultSystemPrompt
	}
}

// buildContext renders retrieved chunks as numbered excerpts and the
// matching source references.
func buildContext(results []index.Result) (string, []domain.SourceRef) {
	if len(results) == 0 {
		return "", []domain.SourceRef{}
	}
	var sb strings.Builder
	sb.WriteString("Documents:\n")
	sources := make([]domain.SourceRef, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d]", i+1)
		if r.Filename != "" {
			fmt.Fprintf(&sb, " (%s, chunk %d)", r.Filename, r.ChunkIndex)
		}
		sb.WriteString(" ")
		sb.WriteString(r.Text)
		sb.WriteString("\n\n")
		sources = append(sources, domain.SourceRef{
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			ChunkIndex: r.ChunkIndex,
			Score:      r.Score,
			Snippet:    snippet(r.Text),
		})
	}
	return strings.TrimSpace(sb.String()), sources
}

func snippet(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "…"
	}
	return string(runes)
}

// buildHistory replays completed turns as alternating user and assistant
// messages. Turns still generating or without a response are skipped.
func buildHistory(messages []domain.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages)*2)
	for _, msg := range messages {
		if msg.IsTyping || msg.Response == "" {
			continue
		}
		out = append(out, llm.User(msg.Message), llm.Assistant(msg.Response))
	}
	return out
}
