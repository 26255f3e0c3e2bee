package travel

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
	return &Repository{db: db, logger: logger}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

const sessionColumns = `session_id, user_id, corridor_id, origin_location, destination_location,
	start_time, end_time, transit_channel, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s          Session
		start, end string
		channel    sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.CorridorID, &s.Origin, &s.Destination,
		&start, &end, &channel, &s.Status); err != nil {
		return nil, err
	}
	var err error
	if s.StartTime, err = timefmt.Parse(start); err != nil {
		return nil, fmt.Errorf("bad start_time: %w", err)
	}
	if s.EndTime, err = timefmt.Parse(end); err != nil {
		return nil, fmt.Errorf("bad end_time: %w", err)
	}
	s.TransitChannel = channel.String
	return &s, nil
}

func (r *Repository) CreateSession(ctx context.Context, tx *database.Tx, s Session) (int64, error) {
	id, err := r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO travel_sessions (user_id, corridor_id, origin_location, destination_location, start_time, end_time, status)
		VALUES (?, ?, ?, ?, ?, ?, 'traveling') RETURNING session_id`,
		s.UserID, s.CorridorID, s.Origin, s.Destination, timefmt.Format(s.StartTime), timefmt.Format(s.EndTime))
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) GetSession(ctx context.Context, tx *database.Tx, sessionID int64) (*Session, error) {
	s, err := scanSession(r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM travel_sessions WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load travel session %d: %w", sessionID, err)
	}
	return s, nil
}

// ActiveSession returns nil when the user is not traveling.
func (r *Repository) ActiveSession(ctx context.Context, tx *database.Tx, userID int64) (*Session, error) {
	s, err := scanSession(r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM travel_sessions WHERE user_id = ? AND status = 'traveling'`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	return s, nil
}

func (r *Repository) ActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM travel_sessions WHERE status = 'traveling' ORDER BY end_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ActiveOnChannel lists the sessions sharing a transit channel.
func (r *Repository) ActiveOnChannel(ctx context.Context, channel string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM travel_sessions WHERE transit_channel = ? AND status = 'traveling'`, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *Repository) SetTransitChannel(ctx context.Context, sessionID int64, channel string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE travel_sessions SET transit_channel = ? WHERE session_id = ?`, channel, sessionID); err != nil {
		return fmt.Errorf("failed to record transit channel: %w", err)
	}
	return nil
}

// Finish moves a traveling session to a final status. Returns false if the
// session already ended some other way.
func (r *Repository) Finish(ctx context.Context, tx *database.Tx, sessionID int64, status Status) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE travel_sessions SET status = ? WHERE session_id = ? AND status = 'traveling'`, status, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to finish travel session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// InCombat reports whether the user holds any combat record.
func (r *Repository) InCombat(ctx context.Context, tx *database.Tx, userID int64) (bool, error) {
	var n int
	err := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM combat_states WHERE player_id = ?)
		     + (SELECT COUNT(*) FROM pvp_combat_states WHERE attacker_id = ? OR defender_id = ?)`,
		userID, userID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check combat state: %w", err)
	}
	return n > 0, nil
}

// PurgeFinished drops ended sessions older than cutoff that nothing
// references any more.
func (r *Repository) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM travel_sessions
		WHERE status <> 'traveling' AND end_time < ?
		  AND session_id NOT IN (SELECT session_id FROM travel_micro_events)`, timefmt.Format(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge travel sessions: %w", err)
	}
	return result.RowsAffected()
}
