// Package profiles is the relational store for ARGO float measurements: one
// row per profile level in the profiles table, held in SQLite.
package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// Store reads and writes the profiles table.
type Store struct {
	db       *sql.DB
	log      *slog.Logger
	readOnly bool
}

// Option configures Open.
type Option func(*openOpts)

type openOpts struct {
	readOnly bool
	log      *slog.Logger
}

// ReadOnly opens the database in read-only mode; writes and migrations fail.
func ReadOnly() Option { return func(o *openOpts) { o.readOnly = true } }

// WithLogger sets the logger used for migrations.
func WithLogger(l *slog.Logger) Option { return func(o *openOpts) { o.log = l } }

// Open opens (and for writable stores, migrates) the database at path.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := openOpts{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	memory := path == ":memory:"
	dsn := path
	if !memory {
		if !o.readOnly {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("profiles: create dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
		if o.readOnly {
			dsn += "&mode=ro"
		} else {
			dsn += "&_pragma=journal_mode(WAL)"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("profiles: open: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, log: o.log, readOnly: o.readOnly}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if !o.readOnly {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("profiles: ping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

const recordColumns = `id, platform_number, profile_idx, juld, latitude, longitude,
	pressure, depth, temperature, salinity, temp_qc, psal_qc, pres_qc,
	project_name, platform_type, data_mode`

// Insert upserts records in one transaction. Records without an ID get the
// canonical one; records without pressure are rejected.
func (s *Store) Insert(ctx context.Context, recs []domain.FloatRecord) (int, error) {
	if s.readOnly {
		return 0, errors.New("profiles: insert: store is read-only")
	}
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("profiles: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO profiles (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("profiles: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		if r.Pressure == nil {
			return 0, fmt.Errorf("profiles: insert: record %d (%d/%d) has no pressure", i, r.Platform, r.Cycle)
		}
		if r.ID == "" {
			r.ID = domain.RecordID(r.Platform, r.Cycle, *r.Pressure)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Platform, r.Cycle, r.Time.UTC().Unix(), r.Lat, r.Lon,
			nullFloat(r.Pressure), nullFloat(r.Depth), nullFloat(r.Temperature), nullFloat(r.Salinity),
			nullString(r.TempQC), nullString(r.PsalQC), nullString(r.PresQC),
			nullString(r.Mission.Project), nullString(r.Mission.PlatformType), nullString(r.Mission.DataMode),
		); err != nil {
			return 0, fmt.Errorf("profiles: insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("profiles: commit: %w", err)
	}
	return len(recs), nil
}

// Count returns the number of stored levels.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("profiles: count: %w", err)
	}
	return n, nil
}

// Query returns records matching f, ordered and capped per opts.
func (s *Store) Query(ctx context.Context, f domain.Filter, opts QueryOpts) ([]domain.FloatRecord, error) {
	q, args, err := buildQuery(f, opts)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("profiles: query: %w", err)
	}
	defer rows.Close()

	var out []domain.FloatRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profiles: query rows: %w", err)
	}
	return out, nil
}

// Scan streams every level ordered by platform, cycle and pressure, so the
// levels of one profile arrive together. Returning an error from fn stops
// the scan.
func (s *Store) Scan(ctx context.Context, fn func(domain.FloatRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM profiles
		ORDER BY platform_number, profile_idx, pressure`)
	if err != nil {
		return fmt.Errorf("profiles: scan: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("profiles: scan rows: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.FloatRecord, error) {
	var (
		r                             domain.FloatRecord
		juld                          int64
		pres, depth, temp, psal       sql.NullFloat64
		tqc, sqc, pqc, proj, pt, mode sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Platform, &r.Cycle, &juld, &r.Lat, &r.Lon,
		&pres, &depth, &temp, &psal, &tqc, &sqc, &pqc, &proj, &pt, &mode); err != nil {
		return r, fmt.Errorf("profiles: scan record: %w", err)
	}
	r.Time = time.Unix(juld, 0).UTC()
	r.Pressure = floatPtr(pres)
	r.Depth = floatPtr(depth)
	r.Temperature = floatPtr(temp)
	r.Salinity = floatPtr(psal)
	r.TempQC, r.PsalQC, r.PresQC = tqc.String, sqc.String, pqc.String
	r.Mission = domain.Mission{Project: strings.TrimSpace(proj.String), PlatformType: strings.TrimSpace(pt.String), DataMode: mode.String}
	return r, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
