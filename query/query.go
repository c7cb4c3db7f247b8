// Package query implements a prepared-statement registry over a relational
// store with per-query latency accounting, grounded on the reference
// trader database wrapper (profile-driven PRAGMA tuning, connection-pool
// configuration, health checks, and maintenance actions), generalized from
// a fixed set of named trading databases to an arbitrary caller-supplied
// queryId/sql pair.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"go.uber.org/zap"

	"github.com/tachyon-beep/mnemosyne/errs"
)

// maxSamples bounds the per-query latency ring buffer (§3 QueryStat).
const maxSamples = 1000

// Profile selects PRAGMA tuning appropriate to the workload, mirroring the
// reference's DatabaseProfile enum.
type Profile string

const (
	ProfileStandard Profile = "standard"
	ProfileCache    Profile = "cache"
)

// Executor is a prepared-statement registry plus latency accounting over a
// single *sql.DB handle.
type Executor struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	stmtsMu sync.Mutex
	stmts   map[string]*sql.Stmt

	statsMu sync.Mutex
	stats   map[string]*ring
}

// Open creates a connection to a SQLite database at path, applying
// profile-specific PRAGMAs and pool sizing the way the reference
// database.New does.
func Open(path string, profile Profile, logger *zap.SugaredLogger) (*Executor, error) {
	connStr := buildConnectionString(path, profile)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configureConnectionPool(db, profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db, logger), nil
}

// NewFromDB wraps an already-open *sql.DB (e.g. a sqlmock connection in
// tests) as an Executor.
func NewFromDB(db *sql.DB, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{
		db:     db,
		logger: logger,
		stmts:  make(map[string]*sql.Stmt),
		stats:  make(map[string]*ring),
	}
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=auto_vacuum(FULL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=cache_size(-64000)"
	return connStr
}

func configureConnectionPool(db *sql.DB, profile Profile) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if profile == ProfileCache {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
	}
}

// Execute obtains (preparing and caching on first use) the prepared
// statement for queryID, runs it with params, and records the call's
// latency. Statement preparation or execution failure is returned as a
// *errs.QueryError without mutating the prepared-statement cache.
func (e *Executor) Execute(ctx context.Context, queryID, sqlText string, params ...any) (*sql.Rows, error) {
	start := time.Now()

	stmt, err := e.prepared(ctx, queryID, sqlText)
	if err != nil {
		return nil, &errs.QueryError{QueryID: queryID, Cause: err}
	}

	rows, err := stmt.QueryContext(ctx, params...)
	e.recordLatency(queryID, time.Since(start))
	if err != nil {
		return nil, &errs.QueryError{QueryID: queryID, Cause: err}
	}
	return rows, nil
}

func (e *Executor) prepared(ctx context.Context, queryID, sqlText string) (*sql.Stmt, error) {
	e.stmtsMu.Lock()
	defer e.stmtsMu.Unlock()

	if stmt, ok := e.stmts[queryID]; ok {
		return stmt, nil
	}

	stmt, err := e.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	e.stmts[queryID] = stmt
	return stmt, nil
}

func (e *Executor) recordLatency(queryID string, d time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	r, ok := e.stats[queryID]
	if !ok {
		r = newRing(maxSamples)
		e.stats[queryID] = r
	}
	r.add(d)
}

// Stat is the {avg, min, max, count} summary over the last ≤1000 samples
// for one queryId.
type Stat struct {
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
	Count int
}

// Stats returns a snapshot of per-query latency statistics.
func (e *Executor) Stats() map[string]Stat {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := make(map[string]Stat, len(e.stats))
	for id, r := range e.stats {
		out[id] = r.summary()
	}
	return out
}

// Close releases every prepared statement and the underlying connection.
func (e *Executor) Close() error {
	e.stmtsMu.Lock()
	for _, stmt := range e.stmts {
		_ = stmt.Close()
	}
	e.stmtsMu.Unlock()
	return e.db.Close()
}

// DB exposes the underlying handle for components (IndexMonitor) that need
// to run ad-hoc introspection queries outside the prepared-statement path.
func (e *Executor) DB() *sql.DB {
	return e.db
}

// HealthCheck mirrors the reference's comprehensive health check: ping plus
// an integrity check.
func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result string
	if err := e.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
