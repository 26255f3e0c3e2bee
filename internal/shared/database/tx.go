package database

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTx runs fn inside a transaction holding the write lock. The whole
// attempt is retried when the database reports it is busy, so fn must only
// touch the database.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	done := db.track()
	defer done()

	unlock, err := db.lockWrites(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return db.retry(ctx, "transaction", func() error {
		return db.runTx(ctx, fn)
	})
}

func (db *DB) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx, dialect: db.dialect}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			db.logger.Error("Failed to rollback transaction", "error", rbErr, "cause", err)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecMany runs one statement once per argument set inside a single
// transaction.
func (db *DB) ExecMany(ctx context.Context, query string, argSets [][]any) (int64, error) {
	if len(argSets) == 0 {
		return 0, nil
	}

	var total int64
	err := db.WithTx(ctx, func(tx *Tx) error {
		total = 0
		stmt, err := tx.PrepareContext(ctx, db.dialect.Rebind(query))
		if err != nil {
			return fmt.Errorf("failed to prepare batch statement: %w", err)
		}
		defer stmt.Close()

		for i, args := range argSets {
			result, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("failed to execute batch row %d: %w", i, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				total += n
			}
		}
		return nil
	})
	return total, err
}

// Statement is one query in a vectored read.
type Statement struct {
	Query string
	Args  []any
}

// ReadMany runs several reads on one pooled connection and hands each
// result set to fn in order.
func (db *DB) ReadMany(ctx context.Context, statements []Statement, fn func(index int, rows *sql.Rows) error) error {
	done := db.track()
	defer done()

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	for i, stmt := range statements {
		if err := func() error {
			rows, err := conn.QueryContext(ctx, db.dialect.Rebind(stmt.Query), stmt.Args...)
			if err != nil {
				return fmt.Errorf("failed to run statement %d: %w", i, err)
			}
			defer rows.Close()

			if err := fn(i, rows); err != nil {
				return err
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
	}
	return nil
}
