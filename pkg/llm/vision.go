package llm

import "ragchat/pkg/domain"

// visionFormatter shapes a text prompt and one image into a provider's
// multimodal message content.
type visionFormatter func(text string, img Image) any

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type mistralContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func openAIVision(text string, img Image) any {
	return []oaiContentPart{
		{Type: "text", Text: text},
		{Type: "image_url", ImageURL: &oaiImageURL{URL: img.DataURL()}},
	}
}

var visionFormatters = map[domain.ModelType]visionFormatter{
	domain.ModelOpenAI:     openAIVision,
	domain.ModelCustom:     openAIVision,
	domain.ModelOpenRouter: openAIVision,
	domain.ModelMistral: func(text string, img Image) any {
		return []mistralContentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: img.DataURL()},
		}
	},
	domain.ModelGemini: func(text string, img Image) any {
		return []geminiPart{
			{Text: text},
			{InlineData: &geminiInlineData{MimeType: img.mime(), Data: img.Base64()}},
		}
	},
	domain.ModelClaude: func(text string, img Image) any {
		return []claudeBlock{
			{Type: "image", Source: &claudeImageSource{Type: "base64", MediaType: img.mime(), Data: img.Base64()}},
			{Type: "text", Text: text},
		}
	},
	domain.ModelLlama: func(text string, img Image) any {
		return ollamaMessage{Role: string(RoleUser), Content: text, Images: []string{img.Base64()}}
	},
}
