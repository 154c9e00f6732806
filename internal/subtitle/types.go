package subtitle

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Reader is the interface for reading subtitle files
type Reader interface {
	Read() (*Document, error)
}

// Writer is the interface for writing subtitle files
type Writer interface {
	Write(path string, doc *Document) error
}

// Entry represents a single subtitle entry
type Entry struct {
	Index          int           `json:"index"`
	StartTime      time.Duration `json:"start_time"`
	EndTime        time.Duration `json:"end_time"`
	Text           string        `json:"text"` // source text, display lines joined by \n
	TranslatedText string        `json:"translated_text,omitempty"`
	Failed         bool          `json:"failed,omitempty"` // translation exhausted all fallbacks
}

// Duration returns the display duration of the entry.
func (e Entry) Duration() time.Duration {
	return e.EndTime - e.StartTime
}

// Document represents a parsed subtitle file
type Document struct {
	Entries  []Entry
	Language language.Tag
	Format   string // e.g. SRT
	Path     string

	// Preserved input texture so an untouched document formats back
	// byte-for-byte (modulo BOM, which is never re-emitted).
	crlf         bool
	finalNewline bool
}

// UntranslatedPlaceholder marks entries whose translation failed after all
// retries. It is emitted above the original text instead of dropping it.
const UntranslatedPlaceholder = "[untranslated]"

// ParseError reports a malformed subtitle block. It is fatal for the
// affected file only.
type ParseError struct {
	Path   string
	Block  int // 1-based block position in the file
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed subtitle block %d: %s", e.Block, e.Reason)
	}
	return fmt.Sprintf("%s: malformed subtitle block %d: %s", e.Path, e.Block, e.Reason)
}
