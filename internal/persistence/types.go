package persistence

import "time"

// Watch job states.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// WatchJob is one subtitle file queued for translation by the library
// watcher. DedupeKey keeps repeated scans from enqueueing the same file
// twice.
type WatchJob struct {
	ID           string
	DedupeKey    string
	SubtitleFile string
	Status       JobStatus
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MemoryEntry is one cached translation, keyed by the configuration
// fingerprint and the exact source text.
type MemoryEntry struct {
	Fingerprint string
	SourceText  string
	Translated  string
	Model       string
	UpdatedAt   time.Time
}
