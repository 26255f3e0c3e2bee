package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"starlane-server/internal/shared/config"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultLockTimeout     = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	busyTimeoutMillis      = 30000
)

var ErrWriteLockTimeout = errors.New("timed out waiting for database write lock")

// DB wraps the connection pool. Writes are serialized through a process-wide
// lock; reads go straight to the pool.
type DB struct {
	conn            *sql.DB
	dialect         Dialect
	writeLock       chan struct{}
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	active          atomic.Int64
	closed          atomic.Bool
	logger          *slog.Logger
}

type Tx struct {
	*sql.Tx
	dialect Dialect
}

// Executor is satisfied by both *DB and *Tx so repositories can run inside or
// outside an explicit transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	InsertReturning(ctx context.Context, query string, args ...any) (int64, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Options struct {
	Driver          string
	DataSource      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Connect opens the database described by the global configuration.
func Connect(ctx context.Context) (*DB, error) {
	cfg := config.GlobalConfig
	return Open(ctx, Options{
		Driver:          cfg.Database.Driver,
		DataSource:      cfg.DataSource(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LockTimeout:     cfg.Database.LockTimeout,
		ShutdownTimeout: cfg.Database.ShutdownTimeout,
	})
}

func Open(ctx context.Context, opts Options) (*DB, error) {
	logger := slog.With("component", "database", "operation", "connect", "driver", opts.Driver)
	logger.Debug("Initializing database connection")

	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DataSource
	if dialect == DialectSQLite {
		if dir := filepath.Dir(opts.DataSource); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = sqliteDSN(opts.DataSource)
	}

	logger.Info("Connecting to database",
		"max_open_conns", opts.MaxOpenConns,
		"max_idle_conns", opts.MaxIdleConns,
	)

	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		logger.Error("Failed to open database connection", "error", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	logger.Debug("Testing database connection with ping")
	if err := sqlDB.PingContext(ctx); err != nil {
		logger.Error("Failed to ping database", "error", err)
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Error("Failed to close database after ping failure", "close_error", closeErr, "ping_error", err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn:            sqlDB,
		dialect:         dialect,
		writeLock:       make(chan struct{}, 1),
		lockTimeout:     opts.LockTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          slog.With("component", "database"),
	}
	if db.lockTimeout <= 0 {
		db.lockTimeout = defaultLockTimeout
	}
	if db.shutdownTimeout <= 0 {
		db.shutdownTimeout = defaultShutdownTimeout
	}

	if err := db.applyPragmas(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("Database connection established successfully")
	return db, nil
}

// sqliteDSN attaches per-connection pragmas so every pooled connection gets
// the same busy timeout and foreign key enforcement.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis))
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + params.Encode()
}

func (db *DB) applyPragmas(ctx context.Context) error {
	if db.dialect != DialectSQLite {
		return nil
	}

	logger := db.logger.With("operation", "pragmas")
	var journalMode string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		logger.Error("Failed to enable WAL", "error", err)
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis),
	}
	for _, p := range pragmas {
		if _, err := db.conn.ExecContext(ctx, p); err != nil {
			logger.Error("Failed to apply pragma", "pragma", p, "error", err)
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	logger.Debug("Pragmas applied", "journal_mode", journalMode)
	return nil
}

func (db *DB) Dialect() Dialect { return db.dialect }

// SQL exposes the underlying pool for health checks and tests.
func (db *DB) SQL() *sql.DB { return db.conn }

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	done := db.track()
	defer done()
	return db.conn.QueryContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	done := db.track()
	defer done()
	return db.conn.QueryRowContext(ctx, db.dialect.Rebind(query), args...)
}

// ExecContext runs a single write under the write lock, retrying on busy.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	done := db.track()
	defer done()

	unlock, err := db.lockWrites(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result sql.Result
	err = db.retry(ctx, "exec", func() error {
		var execErr error
		result, execErr = db.conn.ExecContext(ctx, db.dialect.Rebind(query), args...)
		return execErr
	})
	return result, err
}

// InsertReturning runs an INSERT ... RETURNING id under the write lock and
// returns the generated id.
func (db *DB) InsertReturning(ctx context.Context, query string, args ...any) (int64, error) {
	done := db.track()
	defer done()

	unlock, err := db.lockWrites(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var id int64
	err = db.retry(ctx, "insert", func() error {
		return db.conn.QueryRowContext(ctx, db.dialect.Rebind(query), args...).Scan(&id)
	})
	return id, err
}

// InsertReturning is the transactional twin of DB.InsertReturning.
func (tx *Tx) InsertReturning(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := tx.Tx.QueryRowContext(ctx, tx.dialect.Rebind(query), args...).Scan(&id)
	return id, err
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.Tx.QueryContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, tx.dialect.Rebind(query), args...)
}
