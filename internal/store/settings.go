package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// stagePrefix namespaces pipeline stage settings.
const stagePrefix = "pipeline."

// StageSetting is the persisted state of one pipeline stage.
type StageSetting struct {
	Enabled bool           `json:"enabled"`
	Params  map[string]any `json:"params"`
}

// SettingsRepository stores key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Delete removes key.
func (r *SettingsRepository) Delete(key string) error {
	result, err := r.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return affected(result)
}

// SaveStage persists a pipeline stage's enabled flag and parameters.
func (r *SettingsRepository) SaveStage(name string, setting StageSetting) error {
	data, err := json.Marshal(setting)
	if err != nil {
		return fmt.Errorf("encode stage %s: %w", name, err)
	}
	return r.Set(stagePrefix+name, string(data))
}

// Stages returns every persisted stage setting keyed by stage name.
func (r *SettingsRepository) Stages() (map[string]StageSetting, error) {
	rows, err := r.db.Query(`SELECT key, value FROM settings WHERE key LIKE ?`, stagePrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]StageSetting)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var setting StageSetting
		if err := json.Unmarshal([]byte(value), &setting); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, stagePrefix)] = setting
	}
	return out, rows.Err()
}
