package database

import (
	"context"
	"fmt"
	"time"
)

// Close waits for tracked operations up to the shutdown deadline, checkpoints
// the WAL twice, runs an integrity check, and closes the pool. It is safe to
// call more than once.
func (db *DB) Close(ctx context.Context) error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	logger := db.logger.With("operation", "shutdown")
	logger.Info("Shutting down database")

	db.waitForActive(ctx)

	if db.dialect == DialectSQLite {
		for i := 1; i <= 2; i++ {
			if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				logger.Warn("WAL checkpoint failed", "pass", i, "error", err)
			}
		}

		var result string
		if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
			logger.Error("Integrity check failed to run", "error", err)
		} else if result != "ok" {
			logger.Error("Integrity check reported problems", "result", result)
		} else {
			logger.Info("Integrity check passed")
		}
	} else {
		if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
			logger.Debug("Checkpoint not permitted", "error", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
		return fmt.Errorf("failed to close database: %w", err)
	}
	logger.Info("Database closed")
	return nil
}

func (db *DB) waitForActive(ctx context.Context) {
	deadline := time.NewTimer(db.shutdownTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for db.active.Load() > 0 {
		select {
		case <-deadline.C:
			db.logger.Warn("Forcing close with operations still active", "active", db.active.Load())
			return
		case <-ctx.Done():
			db.logger.Warn("Shutdown context ended with operations still active", "active", db.active.Load())
			return
		case <-ticker.C:
		}
	}
}
