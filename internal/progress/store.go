package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Store persists a Record as a JSON sidecar next to the translation
// output. Writes go through a temp file and rename so a crash never
// leaves a half-written record behind.
type Store struct {
	path string
}

// NewStore creates a store for the given output file path.
func NewStore(targetPath string) *Store {
	return &Store{path: targetPath + ".progress.json"}
}

// Path returns the sidecar file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the record. A missing file returns
// (nil, nil). A present but unusable file returns a typed error the
// caller downgrades to a warning before starting fresh.
func (s *Store) Load(sourceHash, fingerprint string) (*Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptionError{Path: s.path, Err: err}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &CorruptionError{Path: s.path, Err: err}
	}
	if rec.Version != SchemaVersion {
		return nil, &MismatchError{Path: s.path, Field: "schema version"}
	}
	if rec.SourceHash != sourceHash {
		return nil, &MismatchError{Path: s.path, Field: "source file"}
	}
	if rec.Fingerprint != fingerprint {
		return nil, &MismatchError{Path: s.path, Field: "configuration"}
	}
	if rec.Completed == nil {
		rec.Completed = make(map[int]string)
	}
	return &rec, nil
}

// Save writes the record atomically.
func (s *Store) Save(rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}

// Delete removes the sidecar. Missing files are fine.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete progress file: %w", err)
	}
	return nil
}
