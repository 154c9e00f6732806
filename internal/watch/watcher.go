package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"subtrans/internal/config"
	"subtrans/internal/persistence"
	"subtrans/internal/service"
	"subtrans/pkg/log"
)

// Translator is the slice of the orchestrator the watcher needs.
type Translator interface {
	TranslateFile(ctx context.Context, sourcePath string, restart bool) service.FileResult
	OutputPath(sourcePath string) string
}

// Watcher periodically scans a library directory for subtitle files
// that have no translation yet and runs them through the pipeline.
// Jobs are recorded in the store so repeated scans and restarts do not
// translate the same file twice.
type Watcher struct {
	cfg    config.WatchConfig
	target string
	store  *persistence.SQLiteStore
	trans  Translator
}

func New(cfg config.WatchConfig, target string, store *persistence.SQLiteStore, trans Translator) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if _, err := os.Stat(cfg.Dir); err != nil {
		return nil, fmt.Errorf("watch directory is not accessible: %w", err)
	}
	return &Watcher{cfg: cfg, target: target, store: store, trans: trans}, nil
}

// Run scans once immediately, then on the configured cron schedule,
// until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	w.Scan(ctx)

	c := cron.New()
	if _, err := c.AddFunc(w.cfg.CronExpr, func() { w.Scan(ctx) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", w.cfg.CronExpr, err)
	}
	c.Start()
	log.Info("Watching %s on schedule %q", w.cfg.Dir, w.cfg.CronExpr)

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// Scan walks the library once and translates everything new.
func (w *Watcher) Scan(ctx context.Context) {
	candidates, err := w.findCandidates()
	if err != nil {
		log.Error("Library scan failed: %v", err)
		return
	}
	log.Debug("Scan found %d candidate files", len(candidates))

	for _, path := range candidates {
		if ctx.Err() != nil {
			return
		}
		if err := w.process(ctx, path); err != nil {
			log.Error("%s: %v", path, err)
		}
	}
}

// findCandidates lists source subtitles that still need a translation.
func (w *Watcher) findCandidates() ([]string, error) {
	var out []string
	err := filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(path), ".srt") {
			return nil
		}
		// Skip files that are themselves translations.
		if strings.HasSuffix(path, "."+w.target+".srt") {
			return nil
		}
		// Skip sources whose translation already exists on disk.
		if _, err := os.Stat(w.trans.OutputPath(path)); err == nil {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out, err
}

// process runs one candidate through the pipeline, tracked as a job.
func (w *Watcher) process(ctx context.Context, path string) error {
	dedupeKey := path + "|" + w.target

	existing, found, err := w.store.FindJobByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return fmt.Errorf("job lookup failed: %w", err)
	}
	if found && existing.Status != persistence.JobFailed {
		log.Debug("%s already tracked as %s job %s", path, existing.Status, existing.ID)
		return nil
	}

	now := time.Now().UTC()
	job := &persistence.WatchJob{
		ID:           uuid.NewString(),
		DedupeKey:    dedupeKey,
		SubtitleFile: path,
		Status:       persistence.JobRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if found {
		// Retry a previously failed file under its original job ID.
		job.ID = existing.ID
		job.CreatedAt = existing.CreatedAt
	}
	if err := w.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("job upsert failed: %w", err)
	}

	result := w.trans.TranslateFile(ctx, path, false)
	job.UpdatedAt = time.Now().UTC()
	if result.Err != nil {
		job.Status = persistence.JobFailed
		job.Error = result.Err.Error()
	} else if result.Stats.Failed > 0 {
		job.Status = persistence.JobFailed
		job.Error = fmt.Sprintf("%d of %d units untranslated", result.Stats.Failed, result.Stats.Units)
	} else {
		job.Status = persistence.JobCompleted
		job.Error = ""
	}
	if err := w.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("job update failed: %w", err)
	}
	return result.Err
}
