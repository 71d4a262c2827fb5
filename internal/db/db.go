package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/readmesync/internal/utils"
)

const MemoryPath = ":memory:"

const defaultPragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
`

type options struct {
	path            string
	pragmas         string
	maxOpenConns    int
	connMaxLifetime time.Duration
}

// SqliteOption configures NewSqliteDB
type SqliteOption func(*options)

// WithPath sets the database file. MemoryPath keeps everything in memory.
func WithPath(path string) SqliteOption {
	return func(o *options) {
		o.path = path
	}
}

// WithPragmas replaces the default pragmas
func WithPragmas(pragmas string) SqliteOption {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

// WithMaxOpenConns caps the pool; sqlite writers serialize anyway
func WithMaxOpenConns(n int) SqliteOption {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

func WithConnMaxLifetime(d time.Duration) SqliteOption {
	return func(o *options) {
		o.connMaxLifetime = d
	}
}

// NewSqliteDB opens a sqlite database. An in-memory database is pinned to one
// connection, since every new connection would get its own empty database.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	o := &options{
		path:    MemoryPath,
		pragmas: defaultPragmas,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := MemoryPath
	if o.path != MemoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	} else {
		o.maxOpenConns = 1
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
		db.SetMaxIdleConns(o.maxOpenConns)
	}
	if o.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.connMaxLifetime)
	}

	if _, err := db.Exec(o.pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return db, nil
}
