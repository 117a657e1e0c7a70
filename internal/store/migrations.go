package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sensors seen by the scanner
		`CREATE TABLE IF NOT EXISTS sensors (
			id TEXT PRIMARY KEY,
			facing TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			sensor_width REAL NOT NULL DEFAULT 0,
			sensor_height REAL NOT NULL DEFAULT 0,
			focal_lengths TEXT NOT NULL DEFAULT '[]',
			fov_deg REAL,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Capture sessions, one per opened device
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			sensor_id TEXT NOT NULL,
			fps_min INTEGER NOT NULL DEFAULT 0,
			fps_max INTEGER NOT NULL DEFAULT 0,
			final_state TEXT NOT NULL DEFAULT 'opening',
			error TEXT NOT NULL DEFAULT '',
			frames INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Lifecycle transitions in emission order
		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			sensor_id TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_session_id ON transitions(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
