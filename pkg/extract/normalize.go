package extract

import (
	"regexp"
	"strings"
)

var (
	invisibleReplacer = strings.NewReplacer(
		"\x00", "",
		"\ufeff", "",
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",
		"\u2060", "",
		"\r\n", "\n",
		"\r", "\n",
	)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extracted text without changing paragraph structure.
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = invisibleReplacer.Replace(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\u00a0")
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
