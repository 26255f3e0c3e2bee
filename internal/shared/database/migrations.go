package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"starlane-server/internal/shared/timefmt"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// columnAddition is a column introduced after its table first shipped.
// Adding it again must be harmless.
type columnAddition struct {
	Table      string
	Column     string
	Definition string
}

var additiveColumns = []columnAddition{
	{"travel_sessions", "last_event_time", "TEXT"},
	{"galaxy_info", "is_manually_paused", "INTEGER NOT NULL DEFAULT 0"},
	{"galaxy_info", "paused_accumulated_seconds", "DOUBLE PRECISION NOT NULL DEFAULT 0"},
}

// RunMigrations creates the schema. Every statement is idempotent and applied
// versions are recorded, so running it on an up-to-date database is a no-op.
func (db *DB) RunMigrations(ctx context.Context) error {
	logger := db.logger.With("operation", "migrations")
	logger.Info("Starting database migrations")

	if err := db.createMigrationsTable(ctx); err != nil {
		logger.Error("Failed to create migrations table", "error", err)
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := migrationNames()
	if err != nil {
		logger.Error("Failed to list migrations", "error", err)
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	logger.Info("Found migration files", "count", len(migrations))

	for _, name := range migrations {
		if err := db.runMigration(ctx, name); err != nil {
			logger.Error("Failed to run migration", "migration", name, "error", err)
			return fmt.Errorf("failed to run migration %s: %w", name, err)
		}
	}

	if err := db.addColumns(ctx); err != nil {
		return err
	}

	logger.Info("All migrations completed successfully")
	return nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`

	_, err := db.ExecContext(ctx, query)
	return err
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (db *DB) runMigration(ctx context.Context, name string) error {
	logger := db.logger.With("operation", "run_migration", "migration", name)

	var applied int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", name).Scan(&applied)
	if err != nil {
		logger.Error("Failed to check migration status", "error", err)
		return err
	}
	if applied > 0 {
		logger.Debug("Migration already applied, skipping")
		return nil
	}

	content, err := migrationFiles.ReadFile(path.Join("migrations", name))
	if err != nil {
		logger.Error("Failed to read migration file", "error", err)
		return err
	}

	statements := splitStatements(db.renderSchema(string(content)))
	logger.Info("Running migration", "statements", len(statements))

	return db.WithTx(ctx, func(tx *Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			name, timefmt.Format(time.Now())); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

func (db *DB) addColumns(ctx context.Context) error {
	logger := db.logger.With("operation", "add_columns")

	for _, col := range additiveColumns {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.Table, col.Column, col.Definition)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				logger.Debug("Column already present", "table", col.Table, "column", col.Column)
				continue
			}
			logger.Error("Failed to add column", "table", col.Table, "column", col.Column, "error", err)
			return fmt.Errorf("failed to add column %s.%s: %w", col.Table, col.Column, err)
		}
		logger.Info("Added column", "table", col.Table, "column", col.Column)
	}
	return nil
}

func (db *DB) renderSchema(sql string) string {
	return strings.ReplaceAll(sql, "{{PK}}", db.dialect.PrimaryKey())
}

// splitStatements splits a migration file on statement terminators. Migration
// files keep semicolons out of literals.
func splitStatements(sql string) []string {
	var statements []string
	for _, part := range strings.Split(sql, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
