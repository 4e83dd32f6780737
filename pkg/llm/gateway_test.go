package llm

import (
	"errors"
	"fmt"
	"testing"

	"ragchat/pkg/domain"
)

func TestGatewayResolveVariants(t *testing.T) {
	g := NewGateway(Config{})
	cases := []struct {
		modelType domain.ModelType
		baseURL   string
		want      string
	}{
		{domain.ModelOpenAI, "", "*llm.openAIModel"},
		{domain.ModelCustom, "http://localhost:8000/v1", "*llm.openAIModel"},
		{domain.ModelGemini, "", "*llm.geminiModel"},
		{domain.ModelMistral, "", "*llm.mistralModel"},
		{domain.ModelClaude, "", "*llm.claudeModel"},
		{domain.ModelLlama, "", "*llm.llamaModel"},
		{domain.ModelHuggingFace, "", "*llm.huggingFaceModel"},
		{domain.ModelOpenRouter, "", "*llm.openRouterModel"},
	}
	for _, tc := range cases {
		t.Run(string(tc.modelType), func(t *testing.T) {
			m, err := g.Resolve(&domain.UserLLMConfig{ModelType: tc.modelType, ModelName: "m", BaseURL: tc.baseURL})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got := typeName(m); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if m.Provider() != tc.modelType {
				t.Fatalf("expected provider %s, got %s", tc.modelType, m.Provider())
			}
		})
	}
}

func TestGatewayResolveErrors(t *testing.T) {
	g := NewGateway(Config{})

	_, err := g.Resolve(&domain.UserLLMConfig{ModelType: "cohere", ModelName: "x"})
	var unsupported *UnsupportedProviderError
	if !errors.As(err, &unsupported) || unsupported.ModelType != "cohere" {
		t.Fatalf("expected UnsupportedProviderError, got %v", err)
	}

	_, err = g.Resolve(&domain.UserLLMConfig{ModelType: domain.ModelCustom, ModelName: "x"})
	if !errors.Is(err, ErrBaseURLRequired) {
		t.Fatalf("expected ErrBaseURLRequired, got %v", err)
	}
}

func TestGatewayDefaultUsesConfiguredProvider(t *testing.T) {
	g := NewGateway(Config{
		DefaultProvider: domain.ModelClaude,
		DefaultModel:    "claude-3-5-sonnet",
		Providers:       map[domain.ModelType]ProviderDefaults{domain.ModelClaude: {APIKey: "sys-key"}},
	})
	m, err := g.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if m.Provider() != domain.ModelClaude || m.Name() != "claude-3-5-sonnet" {
		t.Fatalf("unexpected default model %s/%s", m.Provider(), m.Name())
	}
	if m.(*claudeModel).apiKey != "sys-key" {
		t.Fatalf("expected system key fallback")
	}
}

func TestGatewayCacheChatIsOptIn(t *testing.T) {
	cache := NewMemoryCache(4)
	m, _ := NewGateway(Config{Cache: cache}).Default()
	if _, ok := m.(*cachedModel); ok {
		t.Fatalf("chat models must not be cached unless CacheChat is set")
	}
	m, _ = NewGateway(Config{Cache: cache, CacheChat: true}).Default()
	if _, ok := m.(*cachedModel); !ok {
		t.Fatalf("expected cached model")
	}
}

func TestCapabilities(t *testing.T) {
	g := NewGateway(Config{})
	cases := []struct {
		modelType domain.ModelType
		model     string
		want      Capabilities
	}{
		{domain.ModelGemini, "gemini-1.5-pro", Capabilities{WebSearch: true, Vision: true}},
		{domain.ModelGemini, "gemini-pro-vision", Capabilities{Vision: true, VisionOnly: true}},
		{domain.ModelMistral, "mistral-large", Capabilities{}},
		{domain.ModelMistral, "pixtral-12b", Capabilities{Vision: true}},
		{domain.ModelHuggingFace, "zephyr", Capabilities{}},
		{domain.ModelOpenAI, "gpt-4o", Capabilities{Vision: true}},
	}
	for _, tc := range cases {
		m, err := g.Resolve(&domain.UserLLMConfig{ModelType: tc.modelType, ModelName: tc.model})
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.model, err)
		}
		if got := m.Capabilities(); got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.model, tc.want, got)
		}
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
