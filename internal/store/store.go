// Package store provides SQLite-based persistence for the village: the
// append-only event log, social state, deliveries, dispatch marks, and
// ambient stimuli. SQLite is the single source of truth; every run resumes
// from whatever the database already holds.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection.
type Store struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS npcs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		archetypes_json TEXT NOT NULL,
		values_json TEXT NOT NULL,
		voice_json TEXT NOT NULL,
		bio TEXT NOT NULL DEFAULT '',
		reputation REAL NOT NULL DEFAULT 0.5
	);

	CREATE TABLE IF NOT EXISTS places (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relationships (
		from_npc TEXT NOT NULL,
		to_npc TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT '',
		trust INTEGER NOT NULL DEFAULT 0,
		respect INTEGER NOT NULL DEFAULT 0,
		affection INTEGER NOT NULL DEFAULT 0,
		jealousy INTEGER NOT NULL DEFAULT 0,
		fear INTEGER NOT NULL DEFAULT 0,
		grievances_json TEXT NOT NULL DEFAULT '[]',
		debts_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (from_npc, to_npc)
	);

	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		npc_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_ts INTEGER NOT NULL,
		importance REAL NOT NULL,
		summary TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS goals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		npc_id TEXT NOT NULL,
		horizon TEXT NOT NULL,
		priority REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		rowid_alias INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tick INTEGER NOT NULL,
		sim_ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		place_id TEXT NOT NULL DEFAULT '',
		actors_json TEXT NOT NULL,
		targets_json TEXT NOT NULL,
		publicness REAL NOT NULL,
		severity REAL NOT NULL,
		chain_depth INTEGER NOT NULL DEFAULT 0,
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		stimulus_id TEXT NOT NULL,
		npc_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_ts INTEGER NOT NULL,
		replied INTEGER NOT NULL DEFAULT 0,
		reply_channel TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (stimulus_id, npc_id)
	);

	CREATE TABLE IF NOT EXISTS render_marks (
		event_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		tick INTEGER NOT NULL,
		PRIMARY KEY (event_id, channel)
	);

	CREATE TABLE IF NOT EXISTS ambient_events (
		id TEXT PRIMARY KEY,
		sim_date TEXT NOT NULL,
		type TEXT NOT NULL,
		topic TEXT NOT NULL,
		intensity REAL NOT NULL,
		sentiment REAL NOT NULL,
		confidence REAL NOT NULL,
		expires_at INTEGER NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, sim_ts);
	CREATE INDEX IF NOT EXISTS idx_memories_npc ON memories(npc_id);
	CREATE INDEX IF NOT EXISTS idx_goals_npc ON goals(npc_id);
	CREATE INDEX IF NOT EXISTS idx_deliveries_npc ON deliveries(npc_id, reply_channel);
	CREATE INDEX IF NOT EXISTS idx_ambient_date ON ambient_events(sim_date);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SetMeta stores a key-value pair.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. Missing keys return ok=false.
func (s *Store) GetMeta(key string) (string, bool, error) {
	var value string
	err := s.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}
