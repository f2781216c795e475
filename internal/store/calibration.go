package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ayusman/stereopiano/internal/calibration"
)

// Calibration is a calibration record as it was loaded.
type Calibration struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	BaselineCM float64         `json:"baseline_cm"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Record     json.RawMessage `json:"record"`
	LoadedAt   time.Time       `json:"loaded_at"`
}

// CalibrationRepository keeps the history of loaded calibrations.
type CalibrationRepository struct {
	db *sql.DB
}

// Calibrations returns the calibration repository for this store.
func (s *Store) Calibrations() *CalibrationRepository {
	return &CalibrationRepository{db: s.db}
}

// Save records a loaded calibration. Saving the same state twice is a no-op.
func (r *CalibrationRepository) Save(st *calibration.State) (*Calibration, error) {
	size := st.ImageSize()
	raw := st.Raw()
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	c := &Calibration{
		ID:         st.ID(),
		Source:     st.Source(),
		BaselineCM: st.BaselineCM(),
		Width:      size.Width,
		Height:     size.Height,
		Record:     raw,
		LoadedAt:   st.LoadedAt(),
	}

	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO calibrations (id, source, baseline_cm, width, height, record, loaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Source, c.BaselineCM, c.Width, c.Height, string(c.Record), c.LoadedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

const calibrationColumns = `id, source, baseline_cm, width, height, record, loaded_at`

func scanCalibration(row interface{ Scan(...any) error }) (*Calibration, error) {
	c := &Calibration{}
	var record string
	if err := row.Scan(&c.ID, &c.Source, &c.BaselineCM, &c.Width, &c.Height, &record, &c.LoadedAt); err != nil {
		return nil, err
	}
	c.Record = json.RawMessage(record)
	return c, nil
}

// GetByID retrieves a calibration by its ID.
func (r *CalibrationRepository) GetByID(id string) (*Calibration, error) {
	c, err := scanCalibration(r.db.QueryRow(
		`SELECT `+calibrationColumns+` FROM calibrations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Latest returns the most recently loaded calibration.
func (r *CalibrationRepository) Latest() (*Calibration, error) {
	c, err := scanCalibration(r.db.QueryRow(
		`SELECT ` + calibrationColumns + ` FROM calibrations ORDER BY loaded_at DESC, rowid DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns up to limit calibrations, newest first. A non-positive limit
// returns all of them.
func (r *CalibrationRepository) List(limit int) ([]*Calibration, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+calibrationColumns+` FROM calibrations ORDER BY loaded_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Calibration
	for rows.Next() {
		c, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
