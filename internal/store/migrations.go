package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Calibration records that have been loaded, newest last
		`CREATE TABLE IF NOT EXISTS calibrations (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			baseline_cm REAL NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			record TEXT NOT NULL,
			loaded_at DATETIME NOT NULL
		)`,

		// Sessions - one per run of the detection loop
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			calibration_id TEXT REFERENCES calibrations(id) ON DELETE SET NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Key events - press and release log
		`CREATE TABLE IF NOT EXISTS key_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			kind TEXT NOT NULL CHECK(kind IN ('press', 'release')),
			key INTEGER NOT NULL,
			note INTEGER NOT NULL,
			finger INTEGER NOT NULL,
			velocity REAL NOT NULL,
			depth REAL NOT NULL,
			chord TEXT NOT NULL DEFAULT '[]',
			ts REAL NOT NULL
		)`,

		// Bindings - which output plugins receive which keys
		`CREATE TABLE IF NOT EXISTS bindings (
			id TEXT PRIMARY KEY,
			plugin_name TEXT NOT NULL,
			key INTEGER,
			config TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_key_events_session_id ON key_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_key ON bindings(key)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
