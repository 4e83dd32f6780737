package llm

import "ragchat/pkg/domain"

// SupportedModel describes a model the UI may offer for a provider.
type SupportedModel struct {
	Name             string           `json:"name"`
	Type             domain.ModelType `json:"type"`
	ImageSupport     bool             `json:"imageSupport"`
	WebSearchSupport bool             `json:"webSearchSupport"`
}

var supportedModels = []SupportedModel{
	{Name: "gpt-4o-mini", Type: domain.ModelOpenAI, ImageSupport: true},
	{Name: "gpt-4o", Type: domain.ModelOpenAI, ImageSupport: true},
	{Name: "gpt-4-turbo", Type: domain.ModelOpenAI, ImageSupport: true},
	{Name: "gemini-1.5-flash-8b", Type: domain.ModelGemini, ImageSupport: true, WebSearchSupport: true},
	{Name: "gemini-2.0-flash", Type: domain.ModelGemini, ImageSupport: true, WebSearchSupport: true},
	{Name: "gemini-pro-vision", Type: domain.ModelGemini, ImageSupport: true},
	{Name: "mistral-small-latest", Type: domain.ModelMistral},
	{Name: "pixtral-12b-2409", Type: domain.ModelMistral, ImageSupport: true},
	{Name: "claude-3-5-sonnet-latest", Type: domain.ModelClaude, ImageSupport: true},
	{Name: "llama3.2", Type: domain.ModelLlama},
	{Name: "llama3.2-vision", Type: domain.ModelLlama, ImageSupport: true},
	{Name: "mistralai/Mistral-7B-Instruct-v0.3", Type: domain.ModelHuggingFace},
	{Name: "mistralai/mixtral-8x7b-instruct", Type: domain.ModelOpenRouter},
	{Name: "anthropic/claude-3-sonnet", Type: domain.ModelOpenRouter, ImageSupport: true},
	{Name: "openai/gpt-4-turbo", Type: domain.ModelOpenRouter, ImageSupport: true},
	{Name: "google/gemini-pro", Type: domain.ModelOpenRouter},
}

// SupportedModels returns the catalogue of suggested models. Custom
// OpenAI-compatible endpoints accept any model name and are not listed.
func SupportedModels() []SupportedModel {
	return append([]SupportedModel(nil), supportedModels...)
}
