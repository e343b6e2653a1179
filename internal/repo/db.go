// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file owns the backing-store connection lifecycle:
// opening Postgres or SQLite handles, schema migration, and the Manager
// that memoizes a single acquisition attempt per process.
package repo

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

// ErrUnavailable is returned by Manager.Acquire when the backing store could
// not be reached. Callers choose their own degraded behavior; the manager
// never retries within a process lifetime.
var ErrUnavailable = errors.New("backing store unavailable")

// OpenFunc produces a connected GORM handle. It is called at most once.
type OpenFunc func() (*gorm.DB, error)

// Manager owns the backing-store connection. Acquisition is lazy and
// memoized: the first Acquire runs the OpenFunc, every later call returns
// the cached handle or the cached failure. A store that was down at first
// use stays Unavailable until the process restarts; outages are tolerated
// by callers degrading, not by the manager reconnecting.
type Manager struct {
	open OpenFunc

	once sync.Once
	db   *gorm.DB
	err  error
}

// NewManager returns a Manager that will open the store with open on first use.
func NewManager(open OpenFunc) *Manager {
	return &Manager{open: open}
}

// NewManagerFromDB returns a Manager bound to an already-open handle.
// Used by tests and by callers that manage the connection themselves.
func NewManagerFromDB(db *gorm.DB) *Manager {
	return NewManager(func() (*gorm.DB, error) { return db, nil })
}

// Acquire returns the store handle, attempting initialization exactly once
// per process. The outcome is logged on that first attempt only.
func (m *Manager) Acquire() (*gorm.DB, error) {
	m.once.Do(func() {
		db, err := m.open()
		if err != nil {
			log.Warn().Err(err).Msg("store acquisition failed; continuing in degraded mode")
			m.err = ErrUnavailable
			return
		}
		log.Info().Msg("store connection initialized")
		m.db = db
	})
	return m.db, m.err
}

// Available probes whether the store can currently be acquired.
func (m *Manager) Available() bool {
	_, err := m.Acquire()
	return err == nil
}

// Close releases the underlying connection pool, if one was ever opened.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OpenPostgres connects to Postgres with a short connect timeout and idle
// reaping, so a hung store fails the single acquisition attempt instead of
// wedging request handlers. Statement-level timeouts are deliberately not
// set; acquired connections run queries to completion.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetConnMaxIdleTime(20 * time.Second)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database for development and tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist, instead of the
	// opaque sqlite "out of memory (14)".
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted entities.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Chat{},
		&domain.Message{},
		&domain.Vote{},
		&domain.StreamID{},
		&domain.Idempotency{},
	)
}
