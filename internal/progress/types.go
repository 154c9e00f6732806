package progress

import (
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever the record layout changes. Records
// written under another schema are discarded, never migrated.
const SchemaVersion = 1

// Record states.
const (
	StateInProgress = "in-progress"
	StateCompleted  = "completed"
)

// Record is the resumable state of one translation run. Unit IDs are
// the ordinal positions of the translation units, which are stable
// because grouping is deterministic for a given source file and
// configuration fingerprint.
type Record struct {
	Version     int            `json:"version"`
	SourceHash  string         `json:"source_hash"`
	Fingerprint string         `json:"fingerprint"`
	State       string         `json:"state"`
	Completed   map[int]string `json:"completed"` // unit ID -> translated text
	Failed      []int          `json:"failed,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewRecord creates an empty in-progress record.
func NewRecord(sourceHash, fingerprint string) *Record {
	now := time.Now().UTC()
	return &Record{
		Version:     SchemaVersion,
		SourceHash:  sourceHash,
		Fingerprint: fingerprint,
		State:       StateInProgress,
		Completed:   make(map[int]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CorruptionError reports a progress file that exists but cannot be
// trusted. Callers log it and start fresh.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("progress file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// MismatchError reports a progress file written for a different source
// file or configuration. Resuming from it would mix incompatible
// translations, so it is discarded.
type MismatchError struct {
	Path  string
	Field string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("progress file %s does not match the current run: %s changed", e.Path, e.Field)
}
