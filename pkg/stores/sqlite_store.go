package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/deployer/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Config holds journal configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string
}

// Journal records every run and its stage results in SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// NewJournal creates a journal instance. Init must be called before use.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Journal{path: cfg.Path}, nil
}

// Open creates, initializes and migrates a journal.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	j, err := NewJournal(cfg)
	if err != nil {
		return nil, err
	}
	if err := j.Init(ctx); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Init opens the database connection.
func (j *Journal) Init(ctx context.Context) error {
	dsn := j.path
	if j.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(j.path), 0750); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", j.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer, and ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (j *Journal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return j.db.PingContext(ctx)
}

// RecordRun stores a run and its stage results. Recording the same run
// again replaces the earlier record.
func (j *Journal) RecordRun(ctx context.Context, run *engine.Run) error {
	rec := recordFromRun(run)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_results WHERE run_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear stage results: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, status, started_at, completed_at, failed_stage, error_kind, error_message, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Status), toMillis(rec.StartedAt), nullMillis(rec.CompletedAt),
		nullString(rec.FailedStage), nullString(rec.ErrorKind), nullString(rec.ErrorMessage), rec.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, st := range rec.Stages {
		warnings, err := json.Marshal(st.Warnings)
		if err != nil {
			return fmt.Errorf("failed to marshal warnings: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stage_results (run_id, idx, name, title, status, changed, summary, warnings, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, st.Index, st.Name, st.Title, string(st.Status), st.Changed,
			nullString(st.Summary), string(warnings), nullMillis(st.StartedAt), nullMillis(st.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert stage result %s: %w", st.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun returns a run with its stage results.
func (j *Journal) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, completed_at, failed_stage, error_kind, error_message, exit_code
		FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if err := j.loadStages(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// LastSuccess returns the most recent complete run, or ErrNotFound.
func (j *Journal) LastSuccess(ctx context.Context) (*RunRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, completed_at, failed_stage, error_kind, error_message, exit_code
		FROM runs WHERE status = ?
		ORDER BY completed_at DESC LIMIT 1`, string(engine.RunStatusComplete))
	rec, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if err := j.loadStages(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (j *Journal) loadStages(ctx context.Context, rec *RunRecord) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT idx, name, title, status, changed, summary, warnings, started_at, completed_at
		FROM stage_results WHERE run_id = ? ORDER BY idx`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query stage results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st                 StageRecord
			status             string
			summary, warnings  sql.NullString
			started, completed sql.NullInt64
		)
		if err := rows.Scan(&st.Index, &st.Name, &st.Title, &status, &st.Changed,
			&summary, &warnings, &started, &completed); err != nil {
			return fmt.Errorf("failed to scan stage result: %w", err)
		}
		st.Status = engine.StageStatus(status)
		st.Summary = summary.String
		if warnings.Valid && warnings.String != "" && warnings.String != "null" {
			if err := json.Unmarshal([]byte(warnings.String), &st.Warnings); err != nil {
				return fmt.Errorf("failed to unmarshal warnings: %w", err)
			}
		}
		st.StartedAt = fromMillis(started)
		st.CompletedAt = fromMillis(completed)
		rec.Stages = append(rec.Stages, st)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec                   RunRecord
		status                string
		started               int64
		completed             sql.NullInt64
		failed, kind, message sql.NullString
	)
	err := row.Scan(&rec.ID, &status, &started, &completed, &failed, &kind, &message, &rec.ExitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	rec.Status = engine.RunStatus(status)
	rec.StartedAt = time.UnixMilli(started).UTC()
	rec.CompletedAt = fromMillis(completed)
	rec.FailedStage = failed.String
	rec.ErrorKind = kind.String
	rec.ErrorMessage = message.String
	return &rec, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
