package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"subtrans/internal/config"
	"subtrans/internal/engine"
	"subtrans/internal/grouper"
	"subtrans/internal/llm"
	"subtrans/internal/progress"
	"subtrans/internal/subtitle"
	"subtrans/internal/translator"
	"subtrans/pkg/log"
)

// Orchestrator ties the pipeline together: parse, group, translate,
// redistribute, write. One instance handles any number of files; each
// file runs sequentially inside, files run concurrently across.
type Orchestrator struct {
	cfg         *config.Config
	engine      *engine.Engine
	writer      subtitle.Writer
	fingerprint string
}

// NewOrchestrator builds the pipeline from configuration. The memory
// is optional; pass nil to run without a translation cache.
func NewOrchestrator(cfg *config.Config, memory engine.Memory) (*Orchestrator, error) {
	client, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		AppName:     "subtrans",
	})
	if err != nil {
		return nil, WrapError(err, ErrConfig, "invalid LLM configuration")
	}

	providers := make([]translator.Provider, 0, len(cfg.LLM.Models()))
	for _, model := range cfg.LLM.Models() {
		providers = append(providers, translator.NewLLMTranslator(client, model))
	}

	fingerprint := cfg.Fingerprint()
	eng, err := engine.New(providers, cfg.Translate, fingerprint, memory)
	if err != nil {
		return nil, WrapError(err, ErrConfig, "cannot build execution engine")
	}

	return &Orchestrator{
		cfg:    cfg,
		engine: eng,
		writer: subtitle.NewWriter(subtitle.WriteOptions{
			MaxRowLength:   cfg.Translate.MaxRowLength,
			RowSplitMethod: cfg.Translate.RowSplitMethod,
		}),
		fingerprint: fingerprint,
	}, nil
}

// OutputPath derives the translated file's path: the .srt suffix is
// replaced with .<target>.srt.
func (o *Orchestrator) OutputPath(sourcePath string) string {
	stem := strings.TrimSuffix(sourcePath, ".srt")
	return fmt.Sprintf("%s.%s.srt", stem, o.cfg.Translate.TargetLanguage.String())
}

// TranslateFile runs the whole pipeline for one subtitle file. Restart
// discards any progress sidecar before starting.
func (o *Orchestrator) TranslateFile(ctx context.Context, sourcePath string, restart bool) FileResult {
	started := time.Now()
	result := FileResult{SourcePath: sourcePath, OutputPath: o.OutputPath(sourcePath)}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			result.Err = WrapError(err, ErrFileNotFound, "subtitle file not found").WithContext("path", sourcePath)
		} else {
			result.Err = WrapError(err, ErrFileRead, "cannot read subtitle file").WithContext("path", sourcePath)
		}
		return result
	}
	sourceHash := hashBytes(data)

	doc, err := subtitle.Parse(string(data))
	if err != nil {
		result.Err = WrapError(err, ErrParse, "cannot parse subtitle file").WithContext("path", sourcePath)
		return result
	}
	doc.Path = sourcePath

	source := o.sourceLanguage(doc)
	groups := grouper.Build(doc, grouper.Options{
		Enabled:       o.cfg.Translate.CrossEntryDetection,
		ContinuityGap: o.cfg.Translate.ContinuityGap,
	})
	log.Info("%s: %d entries in %d translation units", sourcePath, len(doc.Entries), len(groups))

	store := progress.NewStore(result.OutputPath)
	rec, err := o.loadProgress(store, sourceHash, restart)
	if err != nil {
		result.Err = err
		return result
	}

	stats, runErr := o.engine.Run(ctx, groups, source, rec, store)
	result.Stats = stats
	result.Duration = time.Since(started)
	if runErr != nil {
		result.Err = WrapError(runErr, ErrTranslation, "translation interrupted").WithContext("path", sourcePath)
		return result
	}

	if err := o.writer.Write(result.OutputPath, doc); err != nil {
		result.Err = WrapError(err, ErrFileWrite, "cannot write translated file").WithContext("path", result.OutputPath)
		return result
	}

	if stats.Failed == 0 {
		if err := store.Delete(); err != nil {
			log.Warn("%v", err)
		}
	} else {
		log.Warn("%s: %d of %d units left untranslated", sourcePath, stats.Failed, stats.Units)
	}

	log.Info("%s -> %s done in %s (translated %d, resumed %d, cached %d, failed %d)",
		sourcePath, result.OutputPath, result.Duration.Round(time.Millisecond),
		stats.Translated, stats.Resumed, stats.FromMemory, stats.Failed)
	logPreview(doc)
	return result
}

// logPreview shows the first few translated pairs at debug level.
func logPreview(doc *subtitle.Document) {
	shown := 0
	for _, e := range doc.Entries {
		if e.TranslatedText == "" {
			continue
		}
		log.Debug("  %q -> %q", e.Text, e.TranslatedText)
		if shown++; shown == 3 {
			return
		}
	}
}

// TranslateFiles translates several files concurrently. Per-file
// failures are captured in the summary, never aborting sibling files.
func (o *Orchestrator) TranslateFiles(ctx context.Context, paths []string, restart bool, concurrency int) Summary {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]FileResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			results[i] = o.TranslateFile(ctx, path, restart)
			if results[i].Err != nil {
				log.Error("%s: %v", path, results[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Summary{Results: results}
}

// loadProgress returns a usable record: the existing one when it
// matches this run, a fresh one otherwise. Unusable sidecars are
// logged and removed.
func (o *Orchestrator) loadProgress(store *progress.Store, sourceHash string, restart bool) (*progress.Record, error) {
	if restart {
		if err := store.Delete(); err != nil {
			return nil, WrapError(err, ErrProgress, "cannot discard progress sidecar")
		}
		return progress.NewRecord(sourceHash, o.fingerprint), nil
	}

	rec, err := store.Load(sourceHash, o.fingerprint)
	if err != nil {
		log.Warn("Starting fresh: %v", err)
		if err := store.Delete(); err != nil {
			return nil, WrapError(err, ErrProgress, "cannot discard progress sidecar")
		}
		return progress.NewRecord(sourceHash, o.fingerprint), nil
	}
	if rec == nil {
		return progress.NewRecord(sourceHash, o.fingerprint), nil
	}
	return rec, nil
}

// sourceLanguage resolves the translation source: configured value, or
// the detected document language when set to auto.
func (o *Orchestrator) sourceLanguage(doc *subtitle.Document) language.Tag {
	if !o.cfg.Translate.SourceAuto {
		return o.cfg.Translate.SourceLanguage
	}
	if doc.Language == language.Und {
		log.Warn("%s: could not detect the source language, the provider will auto-detect", doc.Path)
	}
	return doc.Language
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
