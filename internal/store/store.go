package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kypseli/hive/internal/config"
	_ "modernc.org/sqlite"
)

// Store is the durable backing for the in-memory hive state. The
// coordination core works against narrow per-component interfaces, so the
// whole store can be swapped out or omitted.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			domain       TEXT NOT NULL,
			name         TEXT NOT NULL,
			capabilities TEXT,
			status       TEXT NOT NULL DEFAULT 'active',
			priority     INTEGER NOT NULL DEFAULT 1,
			health_score INTEGER NOT NULL DEFAULT 100,
			last_active  DATETIME,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_domain ON agents(domain)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id               TEXT PRIMARY KEY,
			type             TEXT NOT NULL,
			priority         TEXT NOT NULL,
			description      TEXT,
			required_domains TEXT NOT NULL,
			deadline         DATETIME,
			dependencies     TEXT,
			status           TEXT NOT NULL DEFAULT 'pending',
			assigned_agents  TEXT,
			result           TEXT,
			created_at       DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id             TEXT PRIMARY KEY,
			question       TEXT NOT NULL,
			proposer_id    TEXT NOT NULL,
			execution_plan TEXT,
			votes          TEXT,
			consensus      TEXT NOT NULL DEFAULT 'pending',
			created_at     DATETIME NOT NULL,
			resolved_at    DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			domain     TEXT NOT NULL,
			type       TEXT NOT NULL,
			payload    TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_domain ON messages(domain, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
