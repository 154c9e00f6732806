package grouper

import (
	"strings"
	"time"

	"subtrans/internal/subtitle"
)

// Options controls how entries are grouped into translation units.
type Options struct {
	// Enabled turns cross-entry sentence detection on. When false every
	// entry becomes its own group.
	Enabled bool
	// ContinuityGap is the largest silence between two entries that can
	// still carry a sentence across them.
	ContinuityGap time.Duration
}

// Group is a run of consecutive entries carrying one sentence (or a
// single stand-alone entry). Members point into the parsed document so
// translations applied here land in the document directly.
type Group struct {
	Members []*subtitle.Entry

	sources []memberSource
}

// memberSource is one member's text prepared for translation: markup
// extracted, whitespace collapsed per line, line breaks kept.
type memberSource struct {
	text  string
	spans []Span
}

// source prepares each member once. Membership is fixed after Build.
func (g *Group) source() []memberSource {
	if g.sources == nil {
		g.sources = make([]memberSource, len(g.Members))
		for i, m := range g.Members {
			plain, spans := ExtractMarkup(m.Text)
			text := normalizeLines(plain)
			n := len([]rune(text))
			for j := range spans {
				if spans[j].Pos > n {
					spans[j].Pos = n
				}
			}
			g.sources[i] = memberSource{text: text, spans: spans}
		}
	}
	return g.sources
}

// normalizeLines collapses whitespace inside each display line but
// keeps the line breaks; dialogue entries carry one speaker per line.
func normalizeLines(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// SourceText joins the members' prepared text into the string sent for
// translation. Formatting tags are extracted here and restored by
// Apply; line breaks inside an entry survive the trip.
func (g *Group) SourceText() string {
	src := g.source()
	parts := make([]string, len(src))
	for i, s := range src {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// joinedSpans maps every member's tags onto the joined source text, for
// the fallback path that parks the whole translation on one entry.
func (g *Group) joinedSpans() ([]Span, int) {
	var spans []Span
	offset := 0
	for i, s := range g.source() {
		if i > 0 {
			offset++
		}
		for _, sp := range s.spans {
			spans = append(spans, Span{Tag: sp.Tag, Pos: offset + sp.Pos})
		}
		offset += len([]rune(s.text))
	}
	return spans, offset
}

// Translated reports whether every member already carries a translation.
func (g *Group) Translated() bool {
	for _, m := range g.Members {
		if m.TranslatedText == "" && !m.Failed {
			return false
		}
	}
	return len(g.Members) > 0
}

// MarkFailed flags every member as untranslatable.
func (g *Group) MarkFailed() {
	for _, m := range g.Members {
		m.Failed = true
		m.TranslatedText = ""
	}
}

// Build partitions the document's entries into groups. Entries merge
// with their successor while the sentence is still open: the text does
// not end a sentence, the gap to the next entry is within the
// continuity window, and the next entry does not open a new speaker
// line with a dialogue marker.
func Build(doc *subtitle.Document, opts Options) []*Group {
	var groups []*Group
	var current *Group

	for i := range doc.Entries {
		entry := &doc.Entries[i]
		if current == nil {
			current = &Group{Members: []*subtitle.Entry{entry}}
		} else {
			current.Members = append(current.Members, entry)
		}

		if !opts.Enabled || !continuesInto(doc, i, opts.ContinuityGap) {
			groups = append(groups, current)
			current = nil
		}
	}
	if current != nil {
		groups = append(groups, current)
	}
	return groups
}

// continuesInto reports whether entry i's sentence runs into entry i+1.
func continuesInto(doc *subtitle.Document, i int, gap time.Duration) bool {
	if i+1 >= len(doc.Entries) {
		return false
	}
	cur := doc.Entries[i]
	next := doc.Entries[i+1]

	if endsSentence(cur.Text) {
		return false
	}
	if next.StartTime-cur.EndTime > gap {
		return false
	}
	if startsDialogue(cur.Text) || startsDialogue(next.Text) {
		return false
	}
	return true
}

// Sentence terminators. An ellipsis ends a sentence for grouping
// purposes; trailing-off speech rarely completes in the next entry's
// timing anyway and merging on it produces runaway groups.
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true, '…': true,
}

// Closing quotes and brackets that may follow a terminator.
var closingMarks = map[rune]bool{
	'"': true, '\'': true, '”': true, '’': true, '»': true,
	')': true, ']': true,
}

// endsSentence reports whether text closes a sentence. Markup and
// closing quotation marks after the final punctuation are ignored.
func endsSentence(text string) bool {
	runes := []rune(strings.TrimSpace(StripMarkup(text)))
	for i := len(runes) - 1; i >= 0; i-- {
		r := runes[i]
		if closingMarks[r] {
			continue
		}
		return sentenceTerminators[r]
	}
	return false
}

// Markers that open a speaker change in dialogue formatting.
var dialogueMarkers = map[rune]bool{
	'-': true, '—': true, '–': true, '•': true,
}

// startsDialogue reports whether any display line of the entry opens
// with a dialogue marker. Such entries hold complete exchanges and
// never merge across entry boundaries.
func startsDialogue(text string) bool {
	for _, line := range strings.Split(StripMarkup(text), "\n") {
		runes := []rune(strings.TrimSpace(line))
		if len(runes) > 0 && dialogueMarkers[runes[0]] {
			return true
		}
	}
	return false
}
