package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Processing modes supported by the execution engine.
const (
	ModeLineByLine = "line-by-line"
	ModeBatch      = "batch"
	ModeWholeFile  = "whole-file"
)

// Row split methods supported by output reflow.
const (
	SplitWord = "word"
	SplitChar = "char"
	SplitEven = "even"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Primary model name (default: openai/gpt-4o-mini)
// - LLM_FALLBACK_MODELS: Comma-separated fallback models, tried in order
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Per-call timeout in seconds (default: 60)
//
// Translation Configuration:
// - SOURCE_LANG: Source language code or "auto" (default: auto)
// - TARGET_LANG: Target language code (default: hu)
// - MODE: line-by-line | batch | whole-file (default: batch)
// - BATCH_SIZE: Groups per provider call in batch mode (default: 10)
// - OVERLAP_SIZE: Previously translated groups carried as call context
//   in batch and line-by-line modes (default: 2)
// - OVERLAP_REASSESS: Re-evaluate overlapped groups after each batch (default: true)
// - CROSS_ENTRY_DETECTION: Merge sentence fragments across entries (default: true)
// - CONTINUITY_GAP_MS: Max inter-entry gap for sentence continuation (default: 1000)
// - MAX_ROW_LENGTH: Display row width for output reflow (default: 42)
// - ROW_SPLIT_METHOD: word | char | even (default: even)
// - RETRY_COUNT: Provider call attempts before marking a unit failed (default: 3)
// - WHOLE_FILE_MAX_UNITS: Unit ceiling for whole-file mode (default: 150)
//
// Watch Configuration:
// - WATCH_DIR: Library directory scanned for untranslated subtitles
// - WATCH_CRON: Scan schedule (default: "@every 15m")
// - DATA_DIR: Directory for the SQLite store (default: ./data)
type Config struct {
	LLM       LLMConfig
	Translate TranslateConfig
	Watch     WatchConfig
}

// LLMConfig holds the configuration for the LLM client
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, Ollama, etc.)
type LLMConfig struct {
	APIKey         string
	APIURL         string
	Model          string
	FallbackModels []string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

// Models returns the full priority-ordered model list, primary first.
func (c LLMConfig) Models() []string {
	models := []string{c.Model}
	for _, m := range c.FallbackModels {
		if m != "" && m != c.Model {
			models = append(models, m)
		}
	}
	return models
}

// TranslateConfig holds everything that shapes translation output.
type TranslateConfig struct {
	SourceLanguage      language.Tag
	SourceAuto          bool
	TargetLanguage      language.Tag
	Mode                string
	BatchSize           int
	OverlapSize         int
	OverlapReassess     bool
	CrossEntryDetection bool
	ContinuityGap       time.Duration
	MaxRowLength        int
	RowSplitMethod      string
	RetryCount          int
	WholeFileMaxUnits   int
}

// WatchConfig holds the library watch settings.
type WatchConfig struct {
	Dir      string
	CronExpr string
	DataDir  string
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	srcCode := getEnvString("SOURCE_LANG", "auto")
	cfg := &Config{
		LLM: LLMConfig{
			APIKey:         getEnvString("LLM_API_KEY", ""),
			APIURL:         getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:          getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			FallbackModels: splitList(getEnvString("LLM_FALLBACK_MODELS", "")),
			MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:        time.Duration(getEnvInt("LLM_TIMEOUT", 60)) * time.Second,
		},
		Translate: TranslateConfig{
			SourceAuto:          srcCode == "auto",
			TargetLanguage:      language.Make(getEnvString("TARGET_LANG", "hu")),
			Mode:                getEnvString("MODE", ModeBatch),
			BatchSize:           getEnvInt("BATCH_SIZE", 10),
			OverlapSize:         getEnvInt("OVERLAP_SIZE", 2),
			OverlapReassess:     getEnvBool("OVERLAP_REASSESS", true),
			CrossEntryDetection: getEnvBool("CROSS_ENTRY_DETECTION", true),
			ContinuityGap:       time.Duration(getEnvInt("CONTINUITY_GAP_MS", 1000)) * time.Millisecond,
			MaxRowLength:        getEnvInt("MAX_ROW_LENGTH", 42),
			RowSplitMethod:      getEnvString("ROW_SPLIT_METHOD", SplitEven),
			RetryCount:          getEnvInt("RETRY_COUNT", 3),
			WholeFileMaxUnits:   getEnvInt("WHOLE_FILE_MAX_UNITS", 150),
		},
		Watch: WatchConfig{
			Dir:      getEnvString("WATCH_DIR", ""),
			CronExpr: getEnvString("WATCH_CRON", "@every 15m"),
			DataDir:  getEnvString("DATA_DIR", "data"),
		},
	}
	if !cfg.Translate.SourceAuto {
		cfg.Translate.SourceLanguage = language.Make(srcCode)
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	switch c.Translate.Mode {
	case ModeLineByLine, ModeBatch, ModeWholeFile:
	default:
		return fmt.Errorf("invalid MODE %q: must be one of %s, %s, %s",
			c.Translate.Mode, ModeLineByLine, ModeBatch, ModeWholeFile)
	}
	switch c.Translate.RowSplitMethod {
	case SplitWord, SplitChar, SplitEven:
	default:
		return fmt.Errorf("invalid ROW_SPLIT_METHOD %q: must be one of %s, %s, %s",
			c.Translate.RowSplitMethod, SplitWord, SplitChar, SplitEven)
	}
	if c.Translate.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.Translate.OverlapSize < 0 {
		return fmt.Errorf("OVERLAP_SIZE must be non-negative")
	}
	if c.Translate.RetryCount < 1 {
		return fmt.Errorf("RETRY_COUNT must be at least 1")
	}
	if c.Translate.Mode == ModeWholeFile && c.Translate.WholeFileMaxUnits < 1 {
		return fmt.Errorf("WHOLE_FILE_MAX_UNITS must be at least 1")
	}
	return nil
}

// Fingerprint hashes every setting that affects translation output.
// Progress records carrying a different fingerprint are discarded on resume.
func (c *Config) Fingerprint() string {
	t := c.Translate
	src := "auto"
	if !t.SourceAuto {
		src = t.SourceLanguage.String()
	}
	parts := []string{
		"v1",
		src,
		t.TargetLanguage.String(),
		t.Mode,
		strconv.Itoa(t.BatchSize),
		strconv.Itoa(t.OverlapSize),
		strconv.FormatBool(t.OverlapReassess),
		strconv.FormatBool(t.CrossEntryDetection),
		t.ContinuityGap.String(),
		strconv.Itoa(t.RetryCount),
		c.LLM.APIURL,
		strings.Join(c.LLM.Models(), ","),
		strconv.FormatFloat(c.LLM.Temperature, 'f', -1, 64),
		strconv.Itoa(c.LLM.MaxTokens),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	ret := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ret = append(ret, f)
		}
	}
	return ret
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
