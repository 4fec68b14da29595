// Package store provides persistent server state backed by an embedded
// SQLite database: the board table, the group table, and the program
// library (spec.md §6, "Persisted state"). Audio blobs are never stored
// here — only the external asset id a program references.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"ledshow/internal/registry"
	"ledshow/internal/scheduler"
)

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — board table (id -> ip)
	`CREATE TABLE IF NOT EXISTS boards (
		id         TEXT PRIMARY KEY,
		ip         TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — group table (id -> ordered member list, JSON array)
	`CREATE TABLE IF NOT EXISTS groups (
		id         TEXT PRIMARY KEY,
		members_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — program library (cues + chain/transition, JSON-encoded)
	`CREATE TABLE IF NOT EXISTS programs (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL DEFAULT '',
		audio_asset_id     TEXT NOT NULL DEFAULT '',
		audio_duration_ms  INTEGER NOT NULL DEFAULT 0,
		program_json       TEXT NOT NULL,
		created_at         INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v4 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes board/group/program
// persistence. It satisfies registry.Persister and scheduler.ProgramLookup.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialize writes, matching
	// SQLite's single-writer model.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		slog.Warn("store: WAL mode unavailable", "err", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("store: busy_timeout unavailable", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Info("store: applied migration", "version", v)
	}
	return nil
}

// --- Board table ---

// SaveBoard upserts a board's id -> ip mapping (registry.Persister).
func (s *Store) SaveBoard(id, ip string) error {
	_, err := s.db.Exec(
		`INSERT INTO boards(id, ip) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET ip = excluded.ip`,
		id, ip,
	)
	return err
}

// DeleteBoard removes a board row (registry.Persister).
func (s *Store) DeleteBoard(id string) error {
	_, err := s.db.Exec(`DELETE FROM boards WHERE id = ?`, id)
	return err
}

// BoardRecord is one persisted board row.
type BoardRecord struct {
	ID string
	IP string
}

// LoadBoards returns every persisted board, used to repopulate the
// Registry at startup.
func (s *Store) LoadBoards() ([]BoardRecord, error) {
	rows, err := s.db.Query(`SELECT id, ip FROM boards ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BoardRecord
	for rows.Next() {
		var r BoardRecord
		if err := rows.Scan(&r.ID, &r.IP); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Group table ---

// GroupRecord is one persisted group row.
type GroupRecord struct {
	ID      string
	Members []string
}

// SaveGroup upserts a group's ordered member list.
func (s *Store) SaveGroup(id string, members []string) error {
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO groups(id, members_json) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET members_json = excluded.members_json`,
		id, string(data),
	)
	return err
}

// DeleteGroup removes a group row.
func (s *Store) DeleteGroup(id string) error {
	_, err := s.db.Exec(`DELETE FROM groups WHERE id = ?`, id)
	return err
}

// LoadGroups returns every persisted group, used to repopulate the
// Registry at startup.
func (s *Store) LoadGroups() ([]GroupRecord, error) {
	rows, err := s.db.Query(`SELECT id, members_json FROM groups ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var id, membersJSON string
		if err := rows.Scan(&id, &membersJSON); err != nil {
			return nil, err
		}
		var members []string
		if err := json.Unmarshal([]byte(membersJSON), &members); err != nil {
			return nil, fmt.Errorf("decode members for group %s: %w", id, err)
		}
		out = append(out, GroupRecord{ID: id, Members: members})
	}
	return out, rows.Err()
}

// --- Program library ---

// programRow is the JSON-encoded form of a scheduler.Program persisted in
// the programs table's program_json column.
type programRow struct {
	Cues          []scheduler.Cue      `json:"cues"`
	NextProgramID string               `json:"next_program_id,omitempty"`
	Transition    scheduler.Transition `json:"transition"`
}

// SaveProgram upserts a program record.
func (s *Store) SaveProgram(p *scheduler.Program) error {
	row := programRow{Cues: p.Cues, NextProgramID: p.NextProgramID, Transition: p.Transition}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode program: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO programs(id, name, audio_asset_id, audio_duration_ms, program_json)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			audio_asset_id = excluded.audio_asset_id,
			audio_duration_ms = excluded.audio_duration_ms,
			program_json = excluded.program_json`,
		p.ID, p.Name, p.AudioAssetID, p.AudioDurationMs, string(data),
	)
	return err
}

// DeleteProgram removes a program record.
func (s *Store) DeleteProgram(id string) error {
	_, err := s.db.Exec(`DELETE FROM programs WHERE id = ?`, id)
	return err
}

// GetProgram loads one program by id (scheduler.ProgramLookup).
func (s *Store) GetProgram(id string) (*scheduler.Program, bool) {
	var name, audioAssetID, programJSON string
	var audioDurationMs int64
	err := s.db.QueryRow(
		`SELECT name, audio_asset_id, audio_duration_ms, program_json FROM programs WHERE id = ?`, id,
	).Scan(&name, &audioAssetID, &audioDurationMs, &programJSON)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		slog.Error("store: load program failed", "program_id", id, "err", err)
		return nil, false
	}

	var row programRow
	if err := json.Unmarshal([]byte(programJSON), &row); err != nil {
		slog.Error("store: decode program failed", "program_id", id, "err", err)
		return nil, false
	}
	return &scheduler.Program{
		ID:              id,
		Name:            name,
		AudioAssetID:    audioAssetID,
		AudioDurationMs: audioDurationMs,
		Cues:            row.Cues,
		NextProgramID:   row.NextProgramID,
		Transition:      row.Transition,
	}, true
}

var (
	_ scheduler.ProgramLookup = (*Store)(nil)
	_ registry.Persister      = (*Store)(nil)
)
