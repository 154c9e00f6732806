package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"subtrans/internal/config"
	"subtrans/internal/engine"
	"subtrans/internal/persistence"
	"subtrans/internal/service"
	"subtrans/internal/watch"
	"subtrans/pkg/log"
)

var (
	flagVerbose     bool
	flagRestart     bool
	flagConcurrency int
	flagNoMemory    bool
	flagPurgeMemory bool
)

func main() {
	root := &cobra.Command{
		Use:   "subtrans",
		Short: "Context-aware subtitle translator",
		Long: "subtrans translates SRT subtitle files with an LLM while preserving\n" +
			"timing, merging sentences that span entries, and resuming interrupted runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err == nil {
				log.Debug("Loaded environment from .env")
			}
			level := log.LevelInfo
			if flagVerbose {
				level = log.LevelDebug
			}
			log.InitLogger(level)
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	translateCmd := &cobra.Command{
		Use:   "translate <file.srt> [more.srt ...]",
		Short: "Translate one or more subtitle files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTranslate,
	}
	translateCmd.Flags().BoolVar(&flagRestart, "restart", false, "discard saved progress and translate from scratch")
	translateCmd.Flags().IntVar(&flagConcurrency, "concurrency", 2, "files translated in parallel")
	translateCmd.Flags().BoolVar(&flagNoMemory, "no-memory", false, "disable the SQLite translation memory")
	translateCmd.Flags().BoolVar(&flagPurgeMemory, "purge-memory", false, "drop cached translations for the current configuration before translating")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a library directory and translate new subtitles on a schedule",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	root.AddCommand(translateCmd, watchCmd)

	if err := root.Execute(); err != nil {
		service.NewDefaultErrorHandler().Handle(err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(cfg *config.Config) (*persistence.SQLiteStore, error) {
	return persistence.NewSQLiteStore(filepath.Join(cfg.Watch.DataDir, "subtrans.db"))
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "configuration is invalid")
	}

	var memory engine.Memory
	if !flagNoMemory {
		store, err := openStore(cfg)
		if err != nil {
			return service.WrapError(err, service.ErrConfig, "cannot open translation memory")
		}
		defer store.Close()
		if flagPurgeMemory {
			n, err := store.PurgeMemory(cmd.Context(), cfg.Fingerprint())
			if err != nil {
				return service.WrapError(err, service.ErrConfig, "cannot purge the translation memory")
			}
			log.Info("Purged %d cached translations", n)
		}
		memory = persistence.NewTranslationMemory(store)
	}

	orch, err := service.NewOrchestrator(cfg, memory)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary := orch.TranslateFiles(ctx, args, flagRestart, flagConcurrency)
	if failed := summary.Failed(); failed > 0 {
		return service.NewError(service.ErrTranslation,
			fmt.Sprintf("%d of %d files did not complete cleanly", failed, len(summary.Results)))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "configuration is invalid")
	}

	store, err := openStore(cfg)
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "cannot open the data store")
	}
	defer store.Close()

	orch, err := service.NewOrchestrator(cfg, persistence.NewTranslationMemory(store))
	if err != nil {
		return err
	}

	watcher, err := watch.New(cfg.Watch, cfg.Translate.TargetLanguage.String(), store, orch)
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "cannot start the library watcher")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Watcher stopped")
	return nil
}
