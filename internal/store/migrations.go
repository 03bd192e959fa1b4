package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Detections table - signs and transcriptions saved by the user
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('sign', 'speech')),
			label TEXT NOT NULL,
			translation TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			model_version TEXT NOT NULL DEFAULT '',
			detected_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_detections_kind_detected_at ON detections(kind, detected_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
