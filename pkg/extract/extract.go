// Package extract turns uploaded bytes into ordered, normalized content units.
package extract

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"

	"ragchat/pkg/domain"
)

const (
	MimePDF      = "application/pdf"
	MimeDoc      = "application/msword"
	MimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXlsx     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeCSV      = "text/csv"
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeHTML     = "text/html"
)

// Unit is one extracted piece of a document: a page, a sheet, a CSV row or
// a described image.
type Unit struct {
	Index     int
	Type      domain.ChunkType
	Text      string
	Image     []byte
	ImageMime string
	Metadata  map[string]string
}

// ImageDescriber turns image bytes into searchable text.
type ImageDescriber interface {
	Describe(ctx context.Context, image []byte, mimeType string) (string, error)
}

type extractFunc func(ctx context.Context, data []byte) ([]Unit, error)

// Extractor dispatches on the normalized MIME type.
type Extractor struct {
	table     map[string]extractFunc
	describer ImageDescriber
}

type Option func(*Extractor)

// WithImageDescriber enables image/* uploads.
func WithImageDescriber(d ImageDescriber) Option {
	return func(e *Extractor) { e.describer = d }
}

// WithPDFToText prefers the poppler pdftotext binary when it is installed.
func WithPDFToText(enabled bool) Option {
	return func(e *Extractor) {
		if enabled {
			e.table[MimePDF] = extractPDFPreferCLI
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		table: map[string]extractFunc{
			MimePDF:      extractPDF,
			MimeDoc:      extractDoc,
			MimeDocx:     extractDocx,
			MimeXlsx:     extractXlsx,
			MimeCSV:      extractCSV,
			MimePlain:    extractText,
			MimeMarkdown: extractText,
			MimeHTML:     extractText,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeMIME lowercases the type and drops parameters.
func NormalizeMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

var extensionTypes = map[string]string{
	".pdf":      MimePDF,
	".doc":      MimeDoc,
	".docx":     MimeDocx,
	".xlsx":     MimeXlsx,
	".csv":      MimeCSV,
	".txt":      MimePlain,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".html":     MimeHTML,
	".htm":      MimeHTML,
}

// DetectMIME returns the media type the client declared. The file extension
// is consulted only when nothing usable was declared.
func DetectMIME(filename, declared string) string {
	if mt := NormalizeMIME(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	ext := strings.ToLower(path.Ext(filename))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); ext != "" && mt != "" {
		return NormalizeMIME(mt)
	}
	return "application/octet-stream"
}

// Supports reports whether Extract would dispatch mimeType.
func (e *Extractor) Supports(mimeType string) bool {
	mt := NormalizeMIME(mimeType)
	if _, ok := e.table[mt]; ok {
		return true
	}
	return strings.HasPrefix(mt, "image/")
}

// Extract returns the ordered units of data. Units are re-indexed from zero
// and empty text units are dropped.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) ([]Unit, error) {
	mt := NormalizeMIME(mimeType)
	fn, ok := e.table[mt]
	if !ok && strings.HasPrefix(mt, "image/") {
		fn, ok = e.extractImage(mt), true
	}
	if !ok {
		return nil, &UnsupportedFormatError{MimeType: mimeType}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	units, err := fn(ctx, data)
	if err != nil {
		var ee *ExtractionError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &ExtractionError{MimeType: mt, Err: err}
	}
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if u.Type == "" {
			u.Type = domain.ChunkText
		}
		u.Text = Normalize(u.Text)
		if u.Type == domain.ChunkText && u.Text == "" {
			continue
		}
		u.Index = len(out)
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, &ExtractionError{MimeType: mt, Err: errors.New("no content extracted")}
	}
	return out, nil
}

func extractText(_ context.Context, data []byte) ([]Unit, error) {
	return []Unit{{Text: string(data)}}, nil
}

func (e *Extractor) extractImage(mt string) extractFunc {
	return func(ctx context.Context, data []byte) ([]Unit, error) {
		if e.describer == nil {
			return nil, errors.New("image extraction is not configured")
		}
		desc, err := e.describer.Describe(ctx, data, mt)
		if err != nil {
			return nil, err
		}
		return []Unit{{
			Type:      domain.ChunkImage,
			Text:      desc,
			Image:     data,
			ImageMime: mt,
		}}, nil
	}
}
