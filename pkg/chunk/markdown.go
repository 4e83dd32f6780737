package chunk

import (
	"strconv"
	"strings"
)

const maxHeaderLevel = 3

type headerStack [maxHeaderLevel]string

func (h *headerStack) set(level int, text string) {
	h[level-1] = text
	for i := level; i < maxHeaderLevel; i++ {
		h[i] = ""
	}
}

func (h headerStack) metadata() map[string]string {
	out := map[string]string{}
	for i, v := range h {
		if v != "" {
			out["header_"+strconv.Itoa(i+1)] = v
		}
	}
	return out
}

// splitMarkdownSections cuts text at #, ## and ### headers outside fenced
// code blocks. Header lines are dropped from the text and kept as metadata.
func splitMarkdownSections(text string) []section {
	var (
		sections []section
		stack    headerStack
		lines    []string
		fence    string
	)
	flush := func() {
		body := strings.TrimSpace(strings.Join(lines, "\n"))
		if body != "" {
			sections = append(sections, section{text: body, headers: stack.metadata()})
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			lines = append(lines, line)
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = trimmed[:3]
			lines = append(lines, line)
			continue
		}
		if level, title, ok := markdownHeader(trimmed); ok {
			flush()
			stack.set(level, title)
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return sections
}

func markdownHeader(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > maxHeaderLevel || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	title := strings.TrimSpace(strings.TrimRight(line[level:], "#"))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}
