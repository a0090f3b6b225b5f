// Package journal keeps a SQLite record of synthesis runs: request metadata
// and the per-strategy attempt log. Audio is never stored.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no entry exists for an id.
var ErrNotFound = errors.New("journal entry not found")

// Attempt is one engine invocation as stored in the journal.
type Attempt struct {
	Name       string `json:"name"`
	Succeeded  bool   `json:"succeeded"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Entry represents one synthesis run.
type Entry struct {
	ID                  string    `json:"id"`
	Speaker             string    `json:"speaker"`
	TextLength          int       `json:"textLength"`
	Status              string    `json:"status"`
	Reason              string    `json:"reason,omitempty"`
	FallbackRecommended bool      `json:"fallbackRecommended"`
	Attempts            []Attempt `json:"attempts"`
	DurationMS          int64     `json:"durationMs"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Store wraps the SQLite database. In ephemeral mode it keeps nothing.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS synthesis_runs (
    id TEXT PRIMARY KEY,
    speaker TEXT,
    text_length INTEGER NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    fallback_recommended INTEGER NOT NULL,
    attempts BLOB,
    duration_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_synthesis_runs_created ON synthesis_runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether entries are persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes an entry.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if !s.Enabled() {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	attempts, err := json.Marshal(e.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO synthesis_runs(id, speaker, text_length, status, reason, fallback_recommended, attempts, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Speaker, e.TextLength, e.Status, e.Reason, e.FallbackRecommended, attempts, e.DurationMS, e.CreatedAt.UnixMilli())
	return err
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	if !s.Enabled() {
		return Entry{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, speaker, text_length, status, reason, fallback_recommended, attempts, duration_ms, created_at
		 FROM synthesis_runs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, speaker, text_length, status, reason, fallback_recommended, attempts, duration_ms, created_at
		 FROM synthesis_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var reason sql.NullString
	var attempts []byte
	var created int64
	if err := row.Scan(&e.ID, &e.Speaker, &e.TextLength, &e.Status, &reason, &e.FallbackRecommended, &attempts, &e.DurationMS, &created); err != nil {
		return Entry{}, err
	}
	e.Reason = reason.String
	e.CreatedAt = time.UnixMilli(created).UTC()
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &e.Attempts); err != nil {
			return Entry{}, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return e, nil
}

// Prune applies configured retention (called on startup and periodically).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM synthesis_runs WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM synthesis_runs WHERE id IN (
			SELECT id FROM synthesis_runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RunRetention prunes on every tick until ctx ends.
func (s *Store) RunRetention(ctx context.Context, every time.Duration) {
	if !s.Enabled() || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil {
				s.log.Warn("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}
