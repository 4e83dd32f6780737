package llm

import (
	"context"
	"errors"
	"strings"
)

const describePrompt = "Describe this image in detail so it can be found by text search. Include any visible text, labels, numbers and the overall subject."

// Describer captions images with a vision-capable model.
type Describer struct {
	Model Model
}

func (d Describer) Describe(ctx context.Context, image []byte, mimeType string) (string, error) {
	if d.Model == nil {
		return "", errors.New("no vision model configured")
	}
	msg, err := d.Model.FormatVision(describePrompt, Image{Data: image, MimeType: mimeType})
	if err != nil {
		return "", err
	}
	out, err := d.Model.Invoke(ctx, []Message{msg})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
