package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"subtrans/internal/config"
	"subtrans/internal/grouper"
	"subtrans/internal/llm"
	"subtrans/internal/progress"
	"subtrans/internal/translator"
	"subtrans/pkg/log"
)

// Memory is a cross-file translation cache keyed by configuration
// fingerprint and exact source text. Optional; a nil Memory disables
// caching.
type Memory interface {
	Get(ctx context.Context, fingerprint, sourceText string) (string, bool, error)
	Put(ctx context.Context, fingerprint, sourceText, translated, model string) error
}

// ProgressSink receives the record after every unit of work so an
// interrupted run can resume.
type ProgressSink interface {
	Save(rec *progress.Record) error
}

// Stats summarizes one engine run over a single file.
type Stats struct {
	Units      int // total translation units
	Translated int // translated by a provider in this run
	Resumed    int // restored from the progress record
	FromMemory int // restored from the translation memory
	Failed     int // exhausted every provider and retry
}

// Engine drives translation units through the provider list according
// to the configured mode. Providers are tried in priority order; a
// failed call cycles to the next provider until the retry budget is
// spent. Unit failures never abort the run.
type Engine struct {
	providers   []translator.Provider
	cfg         config.TranslateConfig
	fingerprint string
	memory      Memory
}

// New creates an engine. At least one provider is required.
func New(providers []translator.Provider, cfg config.TranslateConfig, fingerprint string, memory Memory) (*Engine, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one translation provider is required")
	}
	return &Engine{
		providers:   providers,
		cfg:         cfg,
		fingerprint: fingerprint,
		memory:      memory,
	}, nil
}

// unit pairs a group with its stable ordinal ID.
type unit struct {
	id    int
	group *grouper.Group
}

// Run translates every group, honoring completed work in the record.
// The record is updated and flushed through sink as units finish.
// Returning an error means the run was interrupted; partial progress
// is already persisted.
func (e *Engine) Run(ctx context.Context, groups []*grouper.Group, source language.Tag, rec *progress.Record, sink ProgressSink) (Stats, error) {
	stats := Stats{Units: len(groups)}

	failed := make(map[int]bool, len(rec.Failed))
	for _, id := range rec.Failed {
		failed[id] = true
	}

	var pending []unit
	for id, g := range groups {
		if translated, ok := rec.Completed[id]; ok {
			e.applyStored(id, g, translated)
			stats.Resumed++
			continue
		}
		if failed[id] {
			g.MarkFailed()
			stats.Failed++
			continue
		}
		pending = append(pending, unit{id: id, group: g})
	}
	if stats.Resumed > 0 || stats.Failed > 0 {
		log.Info("Resuming: %d of %d units already done (%d failed earlier)", stats.Resumed+stats.Failed, len(groups), stats.Failed)
	}

	pending, err := e.fillFromMemory(ctx, pending, rec, &stats)
	if err != nil {
		return stats, err
	}

	// A whole-file run below the ceiling has no partial state: it
	// persists once, at the end, and only when the call succeeded.
	wholeFile := e.cfg.Mode == config.ModeWholeFile && len(pending) <= e.cfg.WholeFileMaxUnits
	if len(pending) > 0 && !wholeFile {
		if err := sink.Save(rec); err != nil {
			return stats, err
		}
	}

	contextSize := 0
	if e.cfg.Mode != config.ModeWholeFile {
		contextSize = e.cfg.OverlapSize
	}

	batchSize := e.batchSize(len(pending))
	var overlap []unit
	if contextSize > 0 && len(pending) > 0 {
		overlap = precedingCompleted(groups, pending[0].id, rec, contextSize)
	}
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		if err := e.translateBatch(ctx, batch, overlap, !wholeFile, source, rec, &stats); err != nil {
			return stats, err
		}
		if !wholeFile {
			if err := sink.Save(rec); err != nil {
				return stats, err
			}
		}

		if contextSize > 0 {
			overlap = lastCompleted(pending[:end], rec, contextSize)
		}
	}

	rec.State = progress.StateCompleted
	if !wholeFile || stats.Failed == 0 {
		if err := sink.Save(rec); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// applyStored writes a previously persisted translation back onto the
// group. Redistribution problems are downgraded to a warning, same as
// on the original pass.
func (e *Engine) applyStored(id int, g *grouper.Group, translated string) {
	if err := g.Apply(translated); err != nil {
		log.Warn("Unit %d: %v", id, err)
	}
}

// fillFromMemory resolves pending units against the translation memory
// and returns the ones that still need a provider.
func (e *Engine) fillFromMemory(ctx context.Context, pending []unit, rec *progress.Record, stats *Stats) ([]unit, error) {
	if e.memory == nil {
		return pending, nil
	}

	remaining := pending[:0]
	for _, u := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		translated, found, err := e.memory.Get(ctx, e.fingerprint, u.group.SourceText())
		if err != nil {
			log.Warn("Translation memory lookup failed: %v", err)
			remaining = append(remaining, u)
			continue
		}
		if !found {
			remaining = append(remaining, u)
			continue
		}
		e.applyStored(u.id, u.group, translated)
		rec.Completed[u.id] = translated
		stats.FromMemory++
	}
	return remaining, nil
}

// batchSize maps the configured mode to a call size. Whole-file mode
// degrades to batch mode above the unit ceiling instead of sending a
// prompt no model handles well.
func (e *Engine) batchSize(units int) int {
	switch e.cfg.Mode {
	case config.ModeLineByLine:
		return 1
	case config.ModeWholeFile:
		if units > e.cfg.WholeFileMaxUnits {
			log.Warn("File has %d units, above the whole-file ceiling of %d; falling back to batches of %d",
				units, e.cfg.WholeFileMaxUnits, e.cfg.BatchSize)
			return e.cfg.BatchSize
		}
		if units == 0 {
			return 1
		}
		return units
	default:
		return e.cfg.BatchSize
	}
}

// translateBatch sends one batch through the provider cycle. Overlap
// units ride along: re-translated when reassessment is on, shown as
// fixed context otherwise. A splittable batch that exhausts the retry
// budget is halved and each half retried, down to single units; a
// whole-file call never splits, since a partial response could not be
// reconciled with the group boundaries. Exhausted units are marked
// failed.
func (e *Engine) translateBatch(ctx context.Context, batch, overlap []unit, split bool, source language.Tag, rec *progress.Record, stats *Stats) error {
	if len(batch) == 0 {
		return nil
	}

	reassess := e.cfg.Mode == config.ModeBatch && e.cfg.OverlapReassess
	req := e.buildRequest(batch, overlap, reassess, source, rec)

	results, provider, err := e.callProviders(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(batch) > 1 && split {
			log.Warn("Units %v failed as a batch, splitting: %v", unitIDs(batch), err)
			mid := len(batch) / 2
			if err := e.translateBatch(ctx, batch[:mid], overlap, split, source, rec, stats); err != nil {
				return err
			}
			return e.translateBatch(ctx, batch[mid:], overlap, split, source, rec, stats)
		}
		log.Error("Units %v failed after %d attempts: %v", unitIDs(batch), e.cfg.RetryCount, err)
		for _, u := range batch {
			u.group.MarkFailed()
			rec.Failed = appendUnique(rec.Failed, u.id)
			stats.Failed++
		}
		return nil
	}

	byID := make(map[int]string, len(results))
	for _, r := range results {
		byID[r.ID] = r.Text
	}

	units := batch
	if reassess {
		units = append(append([]unit{}, overlap...), batch...)
	}
	for _, u := range units {
		translated, ok := byID[u.id]
		if !ok {
			continue
		}
		if err := u.group.Apply(translated); err != nil {
			log.Warn("Unit %d: %v", u.id, err)
		}
		_, wasDone := rec.Completed[u.id]
		rec.Completed[u.id] = translated
		if !wasDone {
			stats.Translated++
		}
		if e.memory != nil {
			if err := e.memory.Put(ctx, e.fingerprint, u.group.SourceText(), translated, provider); err != nil {
				log.Warn("Translation memory write failed: %v", err)
			}
		}
	}
	return nil
}

// buildRequest assembles the provider request for a batch.
func (e *Engine) buildRequest(batch, overlap []unit, reassess bool, source language.Tag, rec *progress.Record) translator.Request {
	req := translator.Request{
		Source: source,
		Target: e.cfg.TargetLanguage,
	}

	if reassess {
		for _, u := range overlap {
			req.Units = append(req.Units, translator.Unit{ID: u.id, Text: u.group.SourceText()})
		}
	} else {
		for _, u := range overlap {
			req.Context = append(req.Context, translator.Exchange{
				Source:     u.group.SourceText(),
				Translated: rec.Completed[u.id],
			})
		}
	}
	for _, u := range batch {
		req.Units = append(req.Units, translator.Unit{ID: u.id, Text: u.group.SourceText()})
	}
	return req
}

// callProviders walks the provider list until one call succeeds or the
// retry budget runs out. Returns the winning provider's name for the
// translation memory.
func (e *Engine) callProviders(ctx context.Context, req translator.Request) ([]translator.Result, string, error) {
	ids := make([]int, len(req.Units))
	for i, u := range req.Units {
		ids[i] = u.ID
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		provider := e.providers[attempt%len(e.providers)]

		results, err := provider.Translate(ctx, req)
		if err == nil {
			return results, provider.Name(), nil
		}
		lastErr = err
		log.Warn("Attempt %d/%d via %s failed for units %v: %v", attempt+1, e.cfg.RetryCount, provider.Name(), ids, err)

		if delay := retryDelay(err, attempt); delay > 0 && attempt < e.cfg.RetryCount-1 {
			log.Warn("Rate limited, waiting %s before the next attempt", delay)
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, "", lastErr
}

// retryDelay returns how long to back off before the next attempt. Only
// rate-limited responses earn a delay, growing linearly per attempt.
func retryDelay(err error, attempt int) time.Duration {
	var status *llm.StatusError
	if errors.As(err, &status) && status.RateLimited() {
		return time.Duration(attempt+1) * time.Second
	}
	return 0
}

// precedingCompleted returns up to n completed units directly before
// unit id, oldest first, seeding the context of a resumed run.
func precedingCompleted(groups []*grouper.Group, id int, rec *progress.Record, n int) []unit {
	var out []unit
	for i := id - 1; i >= 0 && len(out) < n; i-- {
		if _, ok := rec.Completed[i]; !ok {
			continue
		}
		out = append([]unit{{id: i, group: groups[i]}}, out...)
	}
	return out
}

func unitIDs(units []unit) []int {
	ids := make([]int, len(units))
	for i, u := range units {
		ids[i] = u.id
	}
	return ids
}

// lastCompleted returns the trailing n units that actually completed.
func lastCompleted(done []unit, rec *progress.Record, n int) []unit {
	var out []unit
	for i := len(done) - 1; i >= 0 && len(out) < n; i-- {
		if _, ok := rec.Completed[done[i].id]; ok {
			out = append([]unit{done[i]}, out...)
		}
	}
	return out
}

func appendUnique(ids []int, id int) []int {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
