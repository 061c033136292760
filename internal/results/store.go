// Package results archives finished run reports in a local SQLite file.
// The pool never reads it back; it exists for `connflurry history`.
package results

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/pkg/types"
)

const (
	retentionDays    = 90
	DefaultListLimit = 20
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// ErrStoreBusy wraps SQLite lock contention so callers can retry.
var ErrStoreBusy = errors.New("results store busy")

type Store struct {
	db         *sql.DB
	maxResults int
	logger     *logging.Logger
	closeOnce  sync.Once
	closeErr   error
}

func Open(dbPath string, maxResults int, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewLogger("results")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite takes PRAGMAs as statements, not DSN params.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, maxResults: maxResults, logger: logger}, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		target TEXT NOT NULL,
		concurrency INTEGER NOT NULL,
		total INTEGER NOT NULL,
		attempted INTEGER NOT NULL,
		established INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		reclaimed INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		per_second REAL NOT NULL,
		latency_p50_ms REAL NOT NULL DEFAULT 0,
		latency_p95_ms REAL NOT NULL DEFAULT 0,
		latency_p99_ms REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`)
	return err
}

// Save stores r and returns its ID, minting one when r.RunID is empty.
// Older rows beyond the retention window or the row cap are trimmed.
func (s *Store) Save(r types.RunReport) (string, error) {
	id := r.RunID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, status, target, concurrency, total, attempted,
			established, failed, reclaimed, duration_ms, per_second,
			latency_p50_ms, latency_p95_ms, latency_p99_ms, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(r.Status), r.Target, r.Concurrency, int64(r.Total), int64(r.Attempted),
		int64(r.Established), int64(r.Failed), int64(r.Reclaimed), r.DurationMs, r.PerSecond,
		r.ConnectLatency.P50Ms, r.ConnectLatency.P95Ms, r.ConnectLatency.P99Ms, r.Error,
		r.StartedAt.UTC(), r.EndedAt.UTC(),
	)
	if err != nil {
		return "", classify("insert run", err)
	}

	s.cleanup()
	return id, nil
}

const selectColumns = `SELECT id, status, target, concurrency, total, attempted,
	established, failed, reclaimed, duration_ms, per_second,
	latency_p50_ms, latency_p95_ms, latency_p99_ms, error, started_at, ended_at
	FROM runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row scanner) (types.RunReport, error) {
	var (
		r                                     types.RunReport
		status                                string
		total, attempted, established, failed int64
		reclaimed                             int64
	)
	err := row.Scan(&r.RunID, &status, &r.Target, &r.Concurrency, &total, &attempted,
		&established, &failed, &reclaimed, &r.DurationMs, &r.PerSecond,
		&r.ConnectLatency.P50Ms, &r.ConnectLatency.P95Ms, &r.ConnectLatency.P99Ms,
		&r.Error, &r.StartedAt, &r.EndedAt)
	if err != nil {
		return r, err
	}
	r.Status = types.RunStatus(status)
	r.Total, r.Attempted = uint64(total), uint64(attempted)
	r.Established, r.Failed, r.Reclaimed = uint64(established), uint64(failed), uint64(reclaimed)
	return r, nil
}

func (s *Store) Get(id string) (types.RunReport, error) {
	r, err := scanReport(s.db.QueryRow(selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, classify("query run", err)
	}
	return r, nil
}

// List returns up to limit reports, newest first.
func (s *Store) List(limit int) ([]types.RunReport, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(selectColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	var out []types.RunReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) cleanup() {
	cutoff := time.Now().UTC().Add(-retentionDays * 24 * time.Hour)
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		s.logger.Warn("results cleanup (age) failed", logging.F("error", err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("results cleanup: removed expired", logging.F("count", n))
	}

	if s.maxResults <= 0 {
		return
	}
	res, err = s.db.Exec(
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, s.maxResults)
	if err != nil {
		s.logger.Warn("results cleanup (count) failed", logging.F("error", err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("results cleanup: trimmed to max",
			logging.F("removed", n),
			logging.F("max", s.maxResults))
	}
}

func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreBusy, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
