package subtitle

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// SRT time range: 00:02:16,612 --> 00:02:19,376
var timeRangeRe = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2}):(\d{2}):(\d{2}),(\d{3})$`)

// DefaultReader is the default subtitle file reader
type DefaultReader struct {
	path string
}

// NewReader creates a new subtitle file reader
func NewReader(path string) Reader {
	return &DefaultReader{path: path}
}

// Read parses the subtitle file at the reader's path
func (r *DefaultReader) Read() (*Document, error) {
	if !strings.HasSuffix(strings.ToLower(r.path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", r.path)
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	doc, err := Parse(string(data))
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = r.path
		}
		return nil, err
	}
	doc.Path = r.path
	return doc, nil
}

// Parse parses SRT content. A leading byte-order mark is tolerated and
// dropped; both line-ending conventions are accepted, and the flavor found
// is recorded so Format reproduces the input exactly.
func Parse(content string) (*Document, error) {
	content = strings.TrimPrefix(content, "\uFEFF")

	crlf := strings.Contains(content, "\r\n")
	if crlf {
		content = strings.ReplaceAll(content, "\r\n", "\n")
	}
	finalNewline := strings.HasSuffix(content, "\n")

	doc := &Document{
		Format:       "SRT",
		crlf:         crlf,
		finalNewline: finalNewline,
	}

	blockNo := 0
	for _, block := range splitBlocks(content) {
		blockNo++
		entry, err := parseBlock(block, blockNo)
		if err != nil {
			return nil, err
		}
		doc.Entries = append(doc.Entries, entry)
	}

	doc.Language = detectLanguage(doc.Entries)
	return doc, nil
}

// splitBlocks splits normalized content into non-empty blocks separated by
// blank lines.
func splitBlocks(content string) []string {
	var blocks []string
	for _, block := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, strings.Trim(block, "\n"))
		}
	}
	return blocks
}

func parseBlock(block string, blockNo int) (Entry, error) {
	lines := strings.Split(block, "\n")
	if len(lines) < 3 {
		return Entry{}, &ParseError{Block: blockNo, Reason: fmt.Sprintf("expected index, time range and text, got %d lines", len(lines))}
	}

	index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Entry{}, &ParseError{Block: blockNo, Reason: fmt.Sprintf("invalid index line %q", lines[0])}
	}

	start, end, err := parseTimeRange(strings.TrimSpace(lines[1]))
	if err != nil {
		return Entry{}, &ParseError{Block: blockNo, Reason: err.Error()}
	}
	if start >= end {
		return Entry{}, &ParseError{Block: blockNo, Reason: fmt.Sprintf("start time %s is not before end time %s", formatDuration(start), formatDuration(end))}
	}

	text := strings.Join(lines[2:], "\n")
	if strings.TrimSpace(text) == "" {
		return Entry{}, &ParseError{Block: blockNo, Reason: "empty subtitle text"}
	}

	return Entry{
		Index:     index,
		StartTime: start,
		EndTime:   end,
		Text:      text,
	}, nil
}

// parseTimeRange parses an SRT time range line into start/end offsets.
func parseTimeRange(line string) (time.Duration, time.Duration, error) {
	matches := timeRangeRe.FindStringSubmatch(line)
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time range %q", line)
	}

	parse := func(h, m, s, ms string) time.Duration {
		hours, _ := strconv.Atoi(h)
		minutes, _ := strconv.Atoi(m)
		seconds, _ := strconv.Atoi(s)
		millis, _ := strconv.Atoi(ms)
		return time.Duration(hours)*time.Hour +
			time.Duration(minutes)*time.Minute +
			time.Duration(seconds)*time.Second +
			time.Duration(millis)*time.Millisecond
	}

	return parse(matches[1], matches[2], matches[3], matches[4]),
		parse(matches[5], matches[6], matches[7], matches[8]),
		nil
}

// detectLanguage detects the dominant language across all entries
func detectLanguage(entries []Entry) language.Tag {
	if len(entries) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)
	for _, entry := range entries {
		lang := whatlanggo.DetectLang(entry.Text).Iso6391()
		langMap[lang]++
	}

	var topLang string
	var topCount int
	for lang, count := range langMap {
		if count > topCount {
			topLang = lang
			topCount = count
		}
	}

	return language.Make(topLang)
}
