package world

import (
	"database/sql"
	"log/slog"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
)

// Repository owns the persistent world: characters, ships, locations,
// corridors and everything hanging off them. Every method accepts an
// optional transaction; pass nil to run against the pool.
type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	logger.Debug("Initializing world repository", "component", "world_repository", "operation", "init")
	return &Repository{db: db, logger: logger}
}

func (r *Repository) DB() *database.DB {
	return r.db
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *Repository) log(operation string) *slog.Logger {
	return r.logger.With("component", "world_repository", "operation", operation)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := timefmt.Parse(v.String)
	if err != nil {
		return nil
	}
	return &t
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
