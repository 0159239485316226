package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lacquer/internal/config"
	"lacquer/internal/release"
	"lacquer/internal/services"
)

// ErrNotFound is returned by Load when no record exists for a release id.
var ErrNotFound = errors.New("release state not found")

// Store manages release state persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS releases (
    release_id      TEXT PRIMARY KEY,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    stages_json     TEXT NOT NULL,
    submission_json TEXT
)`

// Open initializes or connects to the release database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "releases.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Load retrieves the state for a release id, or ErrNotFound.
func (s *Store) Load(ctx context.Context, releaseID string) (*release.State, error) {
	releaseID = strings.TrimSpace(releaseID)
	if releaseID == "" {
		return nil, services.Wrap(services.ErrPersistence, "", "load", "release id required", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT release_id, created_at, updated_at, stages_json, submission_json FROM releases WHERE release_id = ?`,
		releaseID,
	)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, services.Wrap(services.ErrPersistence, "", "load", "read release state", err)
	}
	return st, nil
}

// Save upserts the full state record in one transaction. It is called after
// every stage transition, so a crash between transitions leaves the last
// committed record intact rather than an ambiguous partial write.
func (s *Store) Save(ctx context.Context, st *release.State) error {
	if st == nil || strings.TrimSpace(st.ReleaseID) == "" {
		return services.Wrap(services.ErrPersistence, "", "save", "release id required", nil)
	}

	stagesJSON, err := json.Marshal(st.Stages)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "", "save", "marshal stages", err)
	}
	var submissionJSON any
	if st.Submission != nil {
		raw, err := json.Marshal(st.Submission)
		if err != nil {
			return services.Wrap(services.ErrPersistence, "", "save", "marshal submission", err)
		}
		submissionJSON = string(raw)
	}

	st.UpdatedAt = time.Now().UTC()
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = st.UpdatedAt
		st.CreatedAt = createdAt
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO releases (release_id, created_at, updated_at, stages_json, submission_json)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(release_id) DO UPDATE SET
                 updated_at = excluded.updated_at,
                 stages_json = excluded.stages_json,
                 submission_json = excluded.submission_json`,
			st.ReleaseID,
			createdAt.Format(time.RFC3339Nano),
			st.UpdatedAt.Format(time.RFC3339Nano),
			string(stagesJSON),
			submissionJSON,
		)
		return execErr
	})
	if err != nil {
		return services.Wrap(services.ErrPersistence, "", "save", "write release state", err)
	}
	return nil
}

// Clear removes the record for a release id. It is a no-op when absent.
func (s *Store) Clear(ctx context.Context, releaseID string) error {
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM releases WHERE release_id = ?`, releaseID)
		return execErr
	})
	if err != nil {
		return services.Wrap(services.ErrPersistence, "", "clear", "delete release state", err)
	}
	return nil
}

// List returns all persisted release states ordered by last update.
func (s *Store) List(ctx context.Context) ([]*release.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT release_id, created_at, updated_at, stages_json, submission_json FROM releases ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "list", "query releases", err)
	}
	defer rows.Close()

	var states []*release.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, "", "list", "scan release", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "list", "iterate releases", err)
	}
	return states, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*release.State, error) {
	var (
		st             release.State
		createdAt      string
		updatedAt      string
		stagesJSON     string
		submissionJSON sql.NullString
	)
	if err := row.Scan(&st.ReleaseID, &createdAt, &updatedAt, &stagesJSON, &submissionJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stagesJSON), &st.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	// Records written by a newer build may carry stages this one does not
	// run; keeping them would confuse ordering checks.
	for stage := range st.Stages {
		if !release.Known(stage) {
			delete(st.Stages, stage)
		}
	}
	if submissionJSON.Valid && submissionJSON.String != "" {
		st.Submission = &release.Submission{}
		if err := json.Unmarshal([]byte(submissionJSON.String), st.Submission); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
	}
	var err error
	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &st, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
