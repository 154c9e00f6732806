package subtitle

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// WriteOptions controls output-time reflow of translated text.
type WriteOptions struct {
	MaxRowLength   int
	RowSplitMethod string
}

// DefaultWriter is the default subtitle file writer
type DefaultWriter struct {
	opts WriteOptions
}

// NewWriter creates a new subtitle file writer
func NewWriter(opts WriteOptions) Writer {
	return &DefaultWriter{opts: opts}
}

// Write formats the document and writes it to path
func (w *DefaultWriter) Write(path string, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("subtitle document is empty")
	}
	return os.WriteFile(path, []byte(w.format(doc)), 0o644)
}

// format renders the document back to SRT. Untouched entries are emitted
// verbatim; translated text is reflowed here and nowhere else. The
// line-ending flavor recorded at parse time is restored, so an untouched
// document round-trips byte-for-byte.
func (w *DefaultWriter) format(doc *Document) string {
	var sb strings.Builder

	for i, entry := range doc.Entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d\n", entry.Index)
		fmt.Fprintf(&sb, "%s --> %s\n", formatDuration(entry.StartTime), formatDuration(entry.EndTime))
		sb.WriteString(w.entryText(entry))
		sb.WriteString("\n")
	}

	out := sb.String()
	if !doc.finalNewline {
		out = strings.TrimSuffix(out, "\n")
	}
	if doc.crlf {
		out = strings.ReplaceAll(out, "\n", "\r\n")
	}
	return out
}

func (w *DefaultWriter) entryText(entry Entry) string {
	if entry.Failed {
		return UntranslatedPlaceholder + "\n" + entry.Text
	}
	if entry.TranslatedText == "" {
		return entry.Text
	}
	return Reflow(entry.TranslatedText, w.opts.MaxRowLength, w.opts.RowSplitMethod)
}

// formatDuration formats an offset in SRT time notation.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
