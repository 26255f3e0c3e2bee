package activity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
)

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger.With("component", "activity_repository")}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

// IdleCharacters returns logged-in characters inactive since before cutoff
// that have no active warning.
func (r *Repository) IdleCharacters(ctx context.Context, cutoff time.Time) ([]Idle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.user_id, c.name, c.current_location
		FROM characters c
		WHERE c.is_logged_in = 1
		  AND c.last_activity IS NOT NULL
		  AND c.last_activity < ?
		  AND NOT EXISTS (SELECT 1 FROM afk_warnings w WHERE w.user_id = c.user_id AND w.is_active = 1)
		ORDER BY c.user_id`, timefmt.Format(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query idle characters: %w", err)
	}
	defer rows.Close()

	var idle []Idle
	for rows.Next() {
		var (
			i   Idle
			loc sql.NullInt64
		)
		if err := rows.Scan(&i.UserID, &i.Name, &loc); err != nil {
			return nil, fmt.Errorf("failed to scan idle character: %w", err)
		}
		if loc.Valid {
			id := loc.Int64
			i.LocationID = &id
		}
		idle = append(idle, i)
	}
	return idle, rows.Err()
}

// InsertWarning creates an active warning unless one already exists.
// Returns nil when another warning won.
func (r *Repository) InsertWarning(ctx context.Context, userID int64, now, expires time.Time) (*Warning, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO afk_warnings (user_id, warning_time, expires_at, is_active)
		SELECT ?, ?, ?, 1
		WHERE NOT EXISTS (SELECT 1 FROM afk_warnings WHERE user_id = ? AND is_active = 1)`,
		userID, timefmt.Format(now), timefmt.Format(expires), userID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to insert afk warning: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return r.ActiveWarning(ctx, nil, userID)
}

func (r *Repository) ActiveWarning(ctx context.Context, tx *database.Tx, userID int64) (*Warning, error) {
	row := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT warning_id, user_id, warning_time, expires_at
		FROM afk_warnings WHERE user_id = ? AND is_active = 1`, userID)
	w, err := scanWarning(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (r *Repository) ActiveWarnings(ctx context.Context) ([]Warning, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT warning_id, user_id, warning_time, expires_at
		FROM afk_warnings WHERE is_active = 1 ORDER BY expires_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query afk warnings: %w", err)
	}
	defer rows.Close()

	var out []Warning
	for rows.Next() {
		w, err := scanWarning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWarning(row scanner) (*Warning, error) {
	var (
		w               Warning
		issued, expires string
	)
	if err := row.Scan(&w.ID, &w.UserID, &issued, &expires); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan afk warning: %w", err)
	}
	var err error
	if w.WarningTime, err = timefmt.Parse(issued); err != nil {
		return nil, err
	}
	if w.ExpiresAt, err = timefmt.Parse(expires); err != nil {
		return nil, err
	}
	return &w, nil
}

// ClaimWarning deactivates a specific warning. Only the caller that flips
// it gets true.
func (r *Repository) ClaimWarning(ctx context.Context, tx *database.Tx, warningID int64) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE afk_warnings SET is_active = 0 WHERE warning_id = ? AND is_active = 1`, warningID)
	if err != nil {
		return false, fmt.Errorf("failed to claim afk warning: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CancelWarnings deactivates any active warning for a user.
func (r *Repository) CancelWarnings(ctx context.Context, tx *database.Tx, userID int64) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE afk_warnings SET is_active = 0 WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel afk warnings: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// PurgeInactive drops resolved warnings older than cutoff.
func (r *Repository) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM afk_warnings WHERE is_active = 0 AND expires_at < ?`, timefmt.Format(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge afk warnings: %w", err)
	}
	return result.RowsAffected()
}
