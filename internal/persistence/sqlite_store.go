package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// PutMemory stores one translated sentence in the translation memory.
func (s *SQLiteStore) PutMemory(ctx context.Context, entry MemoryEntry) error {
	updatedAt := entry.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translation_memory (fingerprint, source_text, translated_text, model, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint, source_text) DO UPDATE SET
			translated_text=excluded.translated_text,
			model=excluded.model,
			updated_at=excluded.updated_at`,
		entry.Fingerprint,
		entry.SourceText,
		entry.Translated,
		entry.Model,
		updatedAt,
	)
	return err
}

// GetMemory looks up a cached translation for the exact source text
// under the given configuration fingerprint.
func (s *SQLiteStore) GetMemory(ctx context.Context, fingerprint, sourceText string) (string, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT translated_text FROM translation_memory
		 WHERE fingerprint = ? AND source_text = ?`,
		fingerprint,
		sourceText,
	)
	var translated string
	if err := row.Scan(&translated); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return translated, true, nil
}

// PurgeMemory removes all cached translations for a fingerprint.
func (s *SQLiteStore) PurgeMemory(ctx context.Context, fingerprint string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadJobs returns all watch jobs ordered by creation time.
func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*WatchJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, dedupe_key, subtitle_file, status, error, created_at, updated_at
		 FROM watch_jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*WatchJob, 0)
	for rows.Next() {
		var item WatchJob
		var status string
		if err := rows.Scan(
			&item.ID,
			&item.DedupeKey,
			&item.SubtitleFile,
			&status,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = JobStatus(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// FindJobByDedupeKey returns the job for a dedupe key, if any.
func (s *SQLiteStore) FindJobByDedupeKey(ctx context.Context, dedupeKey string) (*WatchJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, dedupe_key, subtitle_file, status, error, created_at, updated_at
		 FROM watch_jobs
		 WHERE dedupe_key = ?`,
		dedupeKey,
	)
	var item WatchJob
	var status string
	if err := row.Scan(
		&item.ID,
		&item.DedupeKey,
		&item.SubtitleFile,
		&status,
		&item.Error,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	item.Status = JobStatus(status)
	return &item, true, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *WatchJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO watch_jobs (
			id, dedupe_key, subtitle_file, status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dedupe_key=excluded.dedupe_key,
			subtitle_file=excluded.subtitle_file,
			status=excluded.status,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.DedupeKey,
		job.SubtitleFile,
		string(job.Status),
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watch_jobs WHERE id = ?`, jobID)
	return err
}
