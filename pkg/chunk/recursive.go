package chunk

import (
	"strings"
	"unicode/utf8"
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (c Chunker) splitText(text string) []string {
	return c.recursiveSplit(text, defaultSeparators)
}

// recursiveSplit tries separators in order and recurses into pieces that are
// still larger than Size.
func (c Chunker) recursiveSplit(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		for _, s := range strings.Split(text, separator) {
			if s != "" {
				splits = append(splits, s)
			}
		}
	}

	var final, good []string
	for _, s := range splits {
		if runeLen(s) <= c.Size {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, strings.TrimSpace(s))
		} else {
			final = append(final, c.recursiveSplit(s, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good, separator)...)
	}
	return final
}

// merge packs splits into chunks of at most Size runes, carrying up to
// Overlap runes of trailing splits into the next chunk.
func (c Chunker) merge(splits []string, separator string) []string {
	sepLen := runeLen(separator)
	var docs, current []string
	total := 0
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, d := range splits {
		l := runeLen(d)
		if total+l+joinLen() > c.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				docs = append(docs, doc)
			}
			for total > c.Overlap || (total+l+joinLen() > c.Size && total > 0) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		total += l + joinLen()
		current = append(current, d)
	}
	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}
