package chunk

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"ragchat/pkg/domain"
	"ragchat/pkg/extract"
)

func textUnit(text string) []extract.Unit {
	return []extract.Unit{{Index: 0, Type: domain.ChunkText, Text: text}}
}

func TestChunkerRejectsInvalidConfig(t *testing.T) {
	cases := []Chunker{{Size: 0}, {Size: -5}, {Size: 10, Overlap: 10}, {Size: 10, Overlap: -1}}
	for _, c := range cases {
		_, err := c.Split(textUnit("abc"), "text/plain")
		var ce *ChunkingError
		if !errors.As(err, &ce) {
			t.Fatalf("%+v: expected ChunkingError, got %v", c, err)
		}
	}
}

func TestThreeParagraphsGiveThreeChunks(t *testing.T) {
	text := "The first paragraph talks about apples today.\n\n" +
		"The second paragraph covers bananas instead.\n\n" +
		"A third paragraph is all about cherries now."
	chunks, err := Chunker{Size: 50, Overlap: 0}.Split(textUnit(text), "text/plain")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c.Text) > 50 {
			t.Fatalf("chunk %d exceeds size: %q", i, c.Text)
		}
		if c.Index != i || c.SourceIndex != 0 || c.Type != domain.ChunkText {
			t.Fatalf("unexpected chunk header: %+v", c)
		}
	}
	if !strings.HasPrefix(chunks[1].Text, "The second") {
		t.Fatalf("paragraph boundaries not respected: %q", chunks[1].Text)
	}
}

func TestRecursiveSplitFallsBackToWordsAndRunes(t *testing.T) {
	c := Chunker{Size: 10, Overlap: 0}
	got := c.splitText("alpha beta gamma delta")
	want := []string{"alpha beta", "gamma", "delta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("word split = %q, want %q", got, want)
	}

	got = c.splitText("абвгдеёжзийклмн")
	if len(got) != 2 || got[0] != "абвгдеёжзи" || got[1] != "йклмн" {
		t.Fatalf("rune split = %q", got)
	}
}

func TestMergeKeepsOverlap(t *testing.T) {
	c := Chunker{Size: 11, Overlap: 5}
	got := c.splitText("one two three four")
	want := []string{"one two", "two three", "three four"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("overlap split = %q, want %q", got, want)
	}
}

func TestMarkdownHeaders(t *testing.T) {
	md := "# Guide\nIntro text.\n\n## Install\nRun the script.\n```\n# not a header\n```\n### Linux\nUse apt.\n## Usage\nCall it."
	chunks, err := Chunker{Size: 200, Overlap: 0}.Split(textUnit(md), "text/markdown")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 sections, got %d: %+v", len(chunks), chunks)
	}
	if chunks[1].Metadata["header_2"] != "Install" || !strings.Contains(chunks[1].Text, "# not a header") {
		t.Fatalf("fenced code must stay in the section: %+v", chunks[1])
	}
	if chunks[2].Metadata["header_1"] != "Guide" || chunks[2].Metadata["header_3"] != "Linux" {
		t.Fatalf("unexpected nested headers: %+v", chunks[2].Metadata)
	}
	if _, ok := chunks[3].Metadata["header_3"]; ok || chunks[3].Metadata["header_2"] != "Usage" {
		t.Fatalf("deeper header must reset on new level 2: %+v", chunks[3].Metadata)
	}
	for _, c := range chunks {
		if strings.HasPrefix(c.Text, "#") {
			t.Fatalf("header line leaked into text: %q", c.Text)
		}
	}
}

func TestHTMLSectionsAndNormalization(t *testing.T) {
	page := `<html><head><title>x</title><style>p{}</style></head><body>
<h1>Report</h1><p>Summary&nbsp;line.</p><script>alert(1)</script>
<h2>Details</h2><ul><li>first</li><li>second</li></ul></body></html>`
	chunks, err := Chunker{Size: 200, Overlap: 0}.Split(textUnit(page), "text/html; charset=utf-8")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 sections, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "Summary line." || chunks[0].Metadata["header_1"] != "Report" {
		t.Fatalf("unexpected first section: %+v", chunks[0])
	}
	if chunks[1].Text != "first\n\nsecond" || chunks[1].Metadata["header_2"] != "Details" {
		t.Fatalf("unexpected second section: %q %+v", chunks[1].Text, chunks[1].Metadata)
	}
	if strings.Contains(chunks[0].Text+chunks[1].Text, "alert") {
		t.Fatalf("script content leaked")
	}
}

func TestImageUnitsPassThrough(t *testing.T) {
	units := []extract.Unit{
		{Index: 0, Type: domain.ChunkText, Text: "caption"},
		{Index: 1, Type: domain.ChunkImage, Text: "a bar chart", Image: []byte{1}, ImageMime: "image/png"},
	}
	chunks, err := Chunker{Size: 50}.Split(units, "image/png")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 2 || chunks[1].Type != domain.ChunkImage || chunks[1].SourceIndex != 1 || chunks[1].Index != 1 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit.\n", 40)
	c := Chunker{Size: 120, Overlap: 30}
	a, err := c.Split(textUnit(text), "text/plain")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	b, _ := c.Split(textUnit(text), "text/plain")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("split output differs between runs")
	}
}
