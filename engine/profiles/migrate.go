package profiles

import (
	"context"
	"fmt"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{1, "profiles", []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id              TEXT PRIMARY KEY,
			platform_number INTEGER NOT NULL,
			profile_idx     INTEGER NOT NULL,
			juld            INTEGER NOT NULL,
			latitude        REAL NOT NULL,
			longitude       REAL NOT NULL,
			pressure        REAL,
			depth           REAL,
			temperature     REAL,
			salinity        REAL,
			temp_qc         TEXT,
			psal_qc         TEXT,
			pres_qc         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_platform ON profiles (platform_number, profile_idx)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_juld ON profiles (juld)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_geo ON profiles (latitude, longitude)`,
	}},
	{2, "mission_columns", []string{
		`ALTER TABLE profiles ADD COLUMN project_name TEXT`,
		`ALTER TABLE profiles ADD COLUMN platform_type TEXT`,
		`ALTER TABLE profiles ADD COLUMN data_mode TEXT`,
	}},
}

// Migrate applies pending schema migrations. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("profiles: migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.log.Info("running migration", "version", m.version, "name", m.name)
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("profiles: migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("profiles: migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("profiles: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("profiles: commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("profiles: schema version: %w", err)
	}
	return v, nil
}
