package service

import (
	"time"

	"subtrans/internal/engine"
)

// FileResult is the outcome of translating one subtitle file. Err is
// set when the file could not be processed at all; unit-level failures
// show up in Stats.Failed instead.
type FileResult struct {
	SourcePath string
	OutputPath string
	Stats      engine.Stats
	Duration   time.Duration
	Err        error
}

// OK reports whether the file was fully translated.
func (r FileResult) OK() bool {
	return r.Err == nil && r.Stats.Failed == 0
}

// Summary aggregates a multi-file run.
type Summary struct {
	Results []FileResult
}

// Failed counts files that did not complete cleanly.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.OK() {
			n++
		}
	}
	return n
}
