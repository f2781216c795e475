package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is one run of the detection loop.
type Session struct {
	ID            string     `json:"id"`
	CalibrationID string     `json:"calibration_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// SessionRepository provides access to sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start opens a new session bound to calibrationID, which may be empty.
func (r *SessionRepository) Start(calibrationID string) (*Session, error) {
	sess := &Session{
		ID:            uuid.NewString(),
		CalibrationID: calibrationID,
		StartedAt:     time.Now(),
	}

	var calID any
	if calibrationID != "" {
		calID = calibrationID
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, calibration_id, started_at) VALUES (?, ?, ?)`,
		sess.ID, calID, sess.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// End stamps the end time of a session.
func (r *SessionRepository) End(id string) error {
	result, err := r.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}
	return affected(result)
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess := &Session{}
	var calID sql.NullString
	var ended sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, calibration_id, started_at, ended_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &calID, &sess.StartedAt, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sess.CalibrationID = calID.String
	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return sess, nil
}
