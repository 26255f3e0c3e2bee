package database

import (
	"context"
	"fmt"
	"time"
)

const (
	maxWriteAttempts = 3
	retryBackoff     = 100 * time.Millisecond
)

// lockWrites acquires the process-wide write lock, giving up after the
// configured timeout.
func (db *DB) lockWrites(ctx context.Context) (func(), error) {
	timer := time.NewTimer(db.lockTimeout)
	defer timer.Stop()

	select {
	case db.writeLock <- struct{}{}:
		return func() { <-db.writeLock }, nil
	case <-timer.C:
		db.logger.Error("Write lock acquisition timed out", "timeout", db.lockTimeout)
		return nil, ErrWriteLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// retry runs fn up to maxWriteAttempts times while it fails with a busy
// error, sleeping retryBackoff × attempt between tries.
func (db *DB) retry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == maxWriteAttempts {
			break
		}

		db.logger.Warn("Database busy, retrying",
			"operation", operation,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", maxWriteAttempts, err)
}

// track counts an in-flight operation so shutdown can wait for it.
func (db *DB) track() func() {
	db.active.Add(1)
	return func() { db.active.Add(-1) }
}

// Active returns the number of in-flight tracked operations.
func (db *DB) Active() int64 {
	return db.active.Load()
}
