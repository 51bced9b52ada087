// Package snapshot persists session state to SQLite so a restart can
// restore every live session: id, chain position, ordered turns and the
// retention deadline.
package snapshot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/pkg/session"
)

// ErrNotFound is returned when a session snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Store is a SQLite-backed snapshot store.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (and initializes) the snapshot database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Snapshot store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			chain_pos INTEGER NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			last_activity INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts one session snapshot.
func (s *Store) Save(snap session.Snapshot) error {
	if snap.ID == "" {
		return errors.New("snapshot has no session id")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, chain_pos, status, payload, last_activity, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chain_pos = excluded.chain_pos,
			status = excluded.status,
			payload = excluded.payload,
			last_activity = excluded.last_activity,
			expires_at = excluded.expires_at`,
		snap.ID, snap.ChainPos, string(snap.Status), string(payload),
		snap.LastActivity.Unix(), snap.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// SaveAll upserts a batch of snapshots in one transaction.
func (s *Store) SaveAll(snaps []session.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO sessions (id, chain_pos, status, payload, last_activity, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chain_pos = excluded.chain_pos,
			status = excluded.status,
			payload = excluded.payload,
			last_activity = excluded.last_activity,
			expires_at = excluded.expires_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snaps {
		if snap.ID == "" {
			continue
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot %s: %w", snap.ID, err)
		}
		if _, err := stmt.Exec(snap.ID, snap.ChainPos, string(snap.Status),
			string(payload), snap.LastActivity.Unix(), snap.ExpiresAt.Unix()); err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
		}
	}

	return tx.Commit()
}

// Load reads one session snapshot.
func (s *Store) Load(id string) (session.Snapshot, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM sessions WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// LoadAll reads every stored snapshot, skipping rows that fail to decode.
func (s *Store) LoadAll() ([]session.Snapshot, error) {
	rows, err := s.db.Query("SELECT id, payload FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []session.Snapshot
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		var snap session.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Msg("Skipping undecodable snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Delete removes one session snapshot. Missing rows are not an error.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	return nil
}

// Prune removes snapshots whose retention deadline passed before now.
func (s *Store) Prune(now time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug().Int64("pruned", n).Msg("Expired snapshots pruned")
	}
	return int(n), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
