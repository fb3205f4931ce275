package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/centerout/internal/stream"
)

// Session is one run of the task engine.
type Session struct {
	ID           string     `json:"session_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	FirstEntryID stream.ID  `json:"first_entry_id"`
	LastEntryID  stream.ID  `json:"last_entry_id,omitempty"`
	ConfigJSON   string     `json:"config"`
	Trials       int        `json:"trials"`
	Successes    int        `json:"successes"`
}

// StartSession records a new session. Entries appended from now on belong
// to it.
func (db *DB) StartSession(configJSON []byte) (Session, error) {
	var first sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(entry_id) FROM entries`).Scan(&first); err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}
	s := Session{
		ID:           uuid.NewString(),
		StartedAt:    db.clock.Now(),
		FirstEntryID: stream.ID(first.Int64),
		ConfigJSON:   string(configJSON),
	}
	_, err := db.Exec(`INSERT INTO sessions (session_id, started_at, first_entry_id, config_json) VALUES (?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), int64(s.FirstEntryID), s.ConfigJSON)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// RecordOutcome bumps the trial counters of a session.
func (db *DB) RecordOutcome(sessionID string, success bool) error {
	inc := 0
	if success {
		inc = 1
	}
	res, err := db.Exec(`UPDATE sessions SET trials = trials + 1, successes = successes + ? WHERE session_id = ?`, inc, sessionID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record outcome: unknown session %q", sessionID)
	}
	return nil
}

// EndSession closes a session at the newest entry id.
func (db *DB) EndSession(sessionID string) error {
	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(entry_id) FROM entries`).Scan(&last); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	_, err := db.Exec(`UPDATE sessions SET ended_at = ?, last_entry_id = ? WHERE session_id = ?`,
		db.clock.Now().UnixNano(), last.Int64, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, started_at, ended_at, first_entry_id, last_entry_id, config_json, trials, successes
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSession loads one session by id.
func (db *DB) GetSession(id string) (Session, error) {
	row := db.QueryRow(`SELECT session_id, started_at, ended_at, first_entry_id, last_entry_id, config_json, trials, successes
		FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q not found", id)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
		first   int64
		last    sql.NullInt64
	)
	if err := r.Scan(&s.ID, &started, &ended, &first, &last, &s.ConfigJSON, &s.Trials, &s.Successes); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		s.EndedAt = &t
	}
	s.FirstEntryID = stream.ID(first)
	s.LastEntryID = stream.ID(last.Int64)
	return s, nil
}
