// Package store is the relational storage adapter for the Munin core.
// It supports SQLite (default, pure-Go driver) and Postgres via
// database/sql. All mutating component operations run inside WithTx;
// writes are durably committed before a success result is returned.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store wraps a SQL database with the operations the core components
// consume.
type Store struct {
	db     *sql.DB
	driver string
}

// Tx is a single transaction over the store. Entity mutations hang off
// Tx so components can compose their writes with audit appends
// atomically.
type Tx struct {
	tx *sql.Tx
}

// Open opens (and for SQLite, creates) the database and runs migration.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Single writer; avoids SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle (used by tests).
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the underlying handle for read-only diagnostics and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error. Partial commits are impossible: once inside, fn runs
// to commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Wrap(contracts.KindStorage, err, "begin transaction")
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return contracts.Wrap(contracts.KindStorage, err, "commit transaction")
	}
	return nil
}

// isUniqueViolation detects duplicate-key failures on both engines.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

func storageErr(err error, op string) error {
	return contracts.Wrap(contracts.KindStorage, err, "%s", op)
}

// Timestamps persist as RFC 3339 UTC text so canonical reads are
// identical across drivers.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func itoa(n int) string { return strconv.Itoa(n) }

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
