package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF yields one unit per non-empty page.
func extractPDF(_ context.Context, data []byte) ([]Unit, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var units []Unit
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		units = append(units, Unit{Text: text, Metadata: map[string]string{"page": strconv.Itoa(i)}})
	}
	if len(units) == 0 {
		return nil, errors.New("no text extracted from PDF")
	}
	return units, nil
}

// extractPDFPreferCLI tries pdftotext first (better layout for complex PDFs)
// and falls back to the Go reader.
func extractPDFPreferCLI(ctx context.Context, data []byte) ([]Unit, error) {
	if units, err := extractPDFWithPdftotext(ctx, data); err == nil && len(units) > 0 {
		return units, nil
	}
	return extractPDF(ctx, data)
}

func extractPDFWithPdftotext(ctx context.Context, data []byte) ([]Unit, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not found: %w", err)
	}
	tmp, err := os.CreateTemp("", "extract-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	output, err := exec.CommandContext(ctx, "pdftotext", "-layout", "-enc", "UTF-8", tmp.Name(), "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}
	// pages are separated by form feeds
	var units []Unit
	for i, page := range strings.Split(string(output), "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		units = append(units, Unit{Text: page, Metadata: map[string]string{"page": strconv.Itoa(i + 1)}})
	}
	return units, nil
}
