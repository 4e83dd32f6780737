// Package chunk splits extracted units into bounded, overlapping segments.
package chunk

import (
	"fmt"
	"maps"

	"ragchat/pkg/domain"
	"ragchat/pkg/extract"
)

// Chunk is one indexable segment. SourceIndex points back at the extracted
// unit it came from; Index is the sequence position across the document.
type Chunk struct {
	Index       int
	SourceIndex int
	Type        domain.ChunkType
	Text        string
	MimeType    string
	Image       []byte
	ImageMime   string
	Metadata    map[string]string
}

// ChunkingError reports an invalid configuration or an unsplittable input.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return "chunking: " + e.Reason
}

// Chunker picks a strategy per MIME type. Sizes are counted in runes.
type Chunker struct {
	Size    int
	Overlap int
}

func (c Chunker) validate() error {
	if c.Size <= 0 {
		return &ChunkingError{Reason: fmt.Sprintf("chunk size must be positive, got %d", c.Size)}
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return &ChunkingError{Reason: fmt.Sprintf("chunk overlap %d must be in [0, %d)", c.Overlap, c.Size)}
	}
	return nil
}

// Split is deterministic: equal inputs and settings give equal output.
func (c Chunker) Split(units []extract.Unit, mimeType string) ([]Chunk, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	mt := extract.NormalizeMIME(mimeType)
	var out []Chunk
	for _, u := range units {
		if u.Type == domain.ChunkImage {
			out = append(out, Chunk{
				SourceIndex: u.Index,
				Type:        domain.ChunkImage,
				Text:        u.Text,
				MimeType:    mt,
				Image:       u.Image,
				ImageMime:   u.ImageMime,
				Metadata:    maps.Clone(u.Metadata),
			})
			continue
		}
		var sections []section
		switch mt {
		case extract.MimeMarkdown:
			sections = splitMarkdownSections(u.Text)
		case extract.MimeHTML:
			var err error
			sections, err = splitHTMLSections(u.Text)
			if err != nil {
				return nil, &ChunkingError{Reason: err.Error()}
			}
		default:
			sections = []section{{text: u.Text}}
		}
		for _, s := range sections {
			for _, piece := range c.splitText(s.text) {
				meta := maps.Clone(u.Metadata)
				if meta == nil {
					meta = map[string]string{}
				}
				for k, v := range s.headers {
					meta[k] = v
				}
				out = append(out, Chunk{
					SourceIndex: u.Index,
					Type:        domain.ChunkText,
					Text:        piece,
					MimeType:    mt,
					Metadata:    meta,
				})
			}
		}
	}
	for i := range out {
		out[i].Index = i
	}
	return out, nil
}

// section is a run of text under one header path.
type section struct {
	text    string
	headers map[string]string
}
