package grouper

import (
	"regexp"
	"strings"
	"unicode"
)

// Inline formatting found in the wild: HTML-style tags (<i>, <font ...>)
// and ASS override blocks ({\an8}).
var markupRe = regexp.MustCompile(`</?[a-zA-Z][^<>]*>|\{\\[^{}]*\}`)

// StripMarkup removes inline formatting so punctuation and marker checks
// see the spoken text only.
func StripMarkup(text string) string {
	return markupRe.ReplaceAllString(text, "")
}

// Span is one extracted formatting tag and the rune offset it held in
// the text with all tags removed.
type Span struct {
	Tag string
	Pos int
}

// ExtractMarkup removes formatting tags from text and records each one
// with its rune offset into the remaining plain text. The provider only
// ever sees plain text; ReinsertMarkup puts the tags back afterwards.
func ExtractMarkup(text string) (string, []Span) {
	matches := markupRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var plain strings.Builder
	spans := make([]Span, 0, len(matches))
	last := 0
	plainLen := 0
	for _, m := range matches {
		seg := text[last:m[0]]
		plain.WriteString(seg)
		plainLen += len([]rune(seg))
		spans = append(spans, Span{Tag: text[m[0]:m[1]], Pos: plainLen})
		last = m[1]
	}
	plain.WriteString(text[last:])
	return plain.String(), spans
}

// ReinsertMarkup puts extracted tags back into translated text, each at
// the position matching its relative offset in the source. Tags snap to
// word boundaries: closing tags to the end of the preceding word,
// opening and stand-alone tags to the start of the following word.
// Insertion order follows extraction order, so pairs stay nested.
func ReinsertMarkup(text string, spans []Span, sourceLen int) string {
	if len(spans) == 0 {
		return text
	}
	runes := []rune(text)
	if sourceLen < 1 {
		sourceLen = 1
	}

	positions := make([]int, len(spans))
	prev := 0
	for i, sp := range spans {
		target := sp.Pos * len(runes) / sourceLen
		at := snapToBoundary(runes, target, strings.HasPrefix(sp.Tag, "</"))
		if at < prev {
			at = prev
		}
		positions[i] = at
		prev = at
	}

	var b strings.Builder
	cur := 0
	for i, at := range positions {
		b.WriteString(string(runes[cur:at]))
		b.WriteString(spans[i].Tag)
		cur = at
	}
	b.WriteString(string(runes[cur:]))
	return b.String()
}

// snapToBoundary moves target to the nearest word boundary of the kind
// the tag wants.
func snapToBoundary(runes []rune, target int, closing bool) int {
	if len(runes) == 0 {
		return 0
	}
	best := -1
	for i := 0; i <= len(runes); i++ {
		if !isBoundary(runes, i, closing) {
			continue
		}
		if best < 0 || abs(i-target) < abs(best-target) {
			best = i
		}
	}
	return best
}

// isBoundary reports whether inserting at i lands a closing tag at the
// end of a word, or any other tag at the start of one.
func isBoundary(runes []rune, i int, closing bool) bool {
	if i == 0 {
		return !closing
	}
	if i == len(runes) {
		return closing
	}
	if closing {
		return unicode.IsSpace(runes[i]) && !unicode.IsSpace(runes[i-1])
	}
	return unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i])
}
