package store

import (
	"database/sql"
	"encoding/json"

	"github.com/ayusman/stereopiano/internal/tracking"
)

// EventRepository logs key events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the key event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Insert logs events for a session in a single transaction.
func (r *EventRepository) Insert(sessionID string, events []tracking.KeyEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO key_events (session_id, kind, key, note, finger, velocity, depth, chord, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		chord := ev.Chord
		if chord == nil {
			chord = []int{}
		}
		data, err := json.Marshal(chord)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(sessionID, string(ev.Kind), ev.Key, ev.Note, ev.FingerID,
			ev.Velocity, ev.Depth, string(data), ev.Timestamp); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListBySession returns up to limit events of a session in the order they
// were logged. A non-positive limit returns all of them.
func (r *EventRepository) ListBySession(sessionID string, limit int) ([]tracking.KeyEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT kind, key, note, finger, velocity, depth, chord, ts
		 FROM key_events
		 WHERE session_id = ?
		 ORDER BY id
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []tracking.KeyEvent
	for rows.Next() {
		ev := tracking.KeyEvent{SessionID: sessionID}
		var kind, chord string
		if err := rows.Scan(&kind, &ev.Key, &ev.Note, &ev.FingerID, &ev.Velocity, &ev.Depth, &chord, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Kind = tracking.Kind(kind)
		if err := json.Unmarshal([]byte(chord), &ev.Chord); err != nil {
			return nil, err
		}
		if len(ev.Chord) == 0 {
			ev.Chord = nil
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountBySession returns the number of presses and releases of a session.
func (r *EventRepository) CountBySession(sessionID string) (presses, releases int, err error) {
	err = r.db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN kind = 'press' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'release' THEN 1 ELSE 0 END), 0)
		 FROM key_events WHERE session_id = ?`,
		sessionID,
	).Scan(&presses, &releases)
	return presses, releases, err
}
