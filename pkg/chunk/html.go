package chunk

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	skippedElements = map[atom.Atom]bool{
		atom.Script: true, atom.Style: true, atom.Head: true,
		atom.Noscript: true, atom.Template: true, atom.Svg: true,
	}
	blockElements = map[atom.Atom]bool{
		atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
		atom.Tr: true, atom.Table: true, atom.Section: true, atom.Article: true, atom.Header: true,
		atom.Footer: true, atom.Nav: true, atom.Pre: true, atom.Blockquote: true, atom.H4: true,
		atom.H5: true, atom.H6: true, atom.Hr: true, atom.Dd: true, atom.Dt: true, atom.Main: true,
		atom.Aside: true, atom.Figure: true, atom.Figcaption: true,
	}
	headerLevels = map[atom.Atom]int{atom.H1: 1, atom.H2: 2, atom.H3: 3}
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	newlineRuns  = regexp.MustCompile(`\n{3,}`)
)

type htmlSplitter struct {
	sections []section
	stack    headerStack
	buf      strings.Builder
}

// splitHTMLSections converts markup to plain text and cuts it at h1-h3.
func splitHTMLSections(markup string) ([]section, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	s := &htmlSplitter{}
	s.walk(doc)
	s.flush()
	return s.sections, nil
}

func (s *htmlSplitter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		s.buf.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] {
			return
		}
		if level, ok := headerLevels[n.DataAtom]; ok {
			s.flush()
			s.stack.set(level, strings.Join(strings.Fields(nodeText(n)), " "))
			return
		}
	}
	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		s.buf.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c)
	}
	if block {
		s.buf.WriteString("\n")
	}
}

func (s *htmlSplitter) flush() {
	text := cleanHTMLText(s.buf.String())
	s.buf.Reset()
	if text != "" {
		s.sections = append(s.sections, section{text: text, headers: s.stack.metadata()})
	}
}

func cleanHTMLText(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	// block boundaries become paragraph breaks
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}
