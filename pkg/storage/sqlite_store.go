package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned by every query issued before Init.
var ErrNotInitialized = errors.New("store not initialized")

// Store wraps an embedded SQLite database holding per-guild command state.
// It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas for durability and concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL;`); err != nil {
		_ = db.Close()
		return fmt.Errorf("set synchronous: %w", err)
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SetCommandEnabled records whether command may run in guildID.
func (s *Store) SetCommandEnabled(guildID, command string, enabled bool) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(
		`INSERT INTO command_state (guild_id, command, enabled, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(guild_id, command) DO UPDATE SET
           enabled=excluded.enabled,
           updated_at=excluded.updated_at`,
		guildID, command, enabled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set command state %s/%s: %w", guildID, command, err)
	}
	return nil
}

// CommandEnabled reports whether command may run in guildID. Commands without
// a stored state are enabled.
func (s *Store) CommandEnabled(guildID, command string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	var enabled bool
	err := s.db.QueryRow(
		`SELECT enabled FROM command_state WHERE guild_id=? AND command=?`,
		guildID, command,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get command state %s/%s: %w", guildID, command, err)
	}
	return enabled, nil
}

// DisabledCommands lists the commands switched off in guildID, sorted by name.
func (s *Store) DisabledCommands(guildID string) ([]string, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(
		`SELECT command FROM command_state WHERE guild_id=? AND enabled=0 ORDER BY command`,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("list disabled commands %s: %w", guildID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func ensureSchema(db *sql.DB) error {
	const createCommandState = `
CREATE TABLE IF NOT EXISTS command_state (
  guild_id   TEXT NOT NULL,
  command    TEXT NOT NULL,
  enabled    INTEGER NOT NULL,
  updated_at TIMESTAMP NOT NULL,
  PRIMARY KEY (guild_id, command)
);`

	if _, err := db.Exec(createCommandState); err != nil {
		return fmt.Errorf("create command_state: %w", err)
	}
	return nil
}
