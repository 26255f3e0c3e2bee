package corridor

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

func (r *Repository) CreateHazard(ctx context.Context, h Hazard) (int64, error) {
	id, err := r.db.InsertReturning(ctx, `
		INSERT INTO corridor_events (transit_channel, corridor_id, event_type, severity, triggered_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1) RETURNING event_id`,
		h.Channel, h.CorridorID, string(h.Kind), h.Severity, timefmt.Format(h.TriggeredAt), timefmt.Format(h.ExpiresAt))
	if err != nil {
		return 0, fmt.Errorf("failed to record corridor event: %w", err)
	}
	return id, nil
}

func scanHazard(row interface{ Scan(...any) error }) (*Hazard, error) {
	var (
		h                  Hazard
		kind               string
		triggered, expires string
	)
	if err := row.Scan(&h.ID, &h.Channel, &h.CorridorID, &kind, &h.Severity, &triggered, &expires); err != nil {
		return nil, err
	}
	h.Kind = HazardKind(kind)
	var err error
	if h.TriggeredAt, err = timefmt.Parse(triggered); err != nil {
		return nil, err
	}
	if h.ExpiresAt, err = timefmt.Parse(expires); err != nil {
		return nil, err
	}
	return &h, nil
}

const hazardColumns = `event_id, transit_channel, corridor_id, event_type, severity, triggered_at, expires_at`

// ActiveHazard returns the open hazard on a channel, or nil.
func (r *Repository) ActiveHazard(ctx context.Context, channel string) (*Hazard, error) {
	h, err := scanHazard(r.db.QueryRowContext(ctx,
		`SELECT `+hazardColumns+` FROM corridor_events WHERE transit_channel = ? AND is_active = 1`, channel))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active corridor event: %w", err)
	}
	return h, nil
}

// StaleHazards lists open hazards whose window closed before now. They are
// left over from a restart.
func (r *Repository) StaleHazards(ctx context.Context, now time.Time) ([]Hazard, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hazardColumns+` FROM corridor_events WHERE is_active = 1 AND expires_at < ?`, timefmt.Format(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale corridor events: %w", err)
	}
	defer rows.Close()

	var out []Hazard
	for rows.Next() {
		h, err := scanHazard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan corridor event: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// RecordResponse stores a traveler's answer. Returns false if they had
// already answered.
func (r *Repository) RecordResponse(ctx context.Context, eventID, userID int64, response Response, now time.Time) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO corridor_event_responses (event_id, user_id, response, responded_at)
		VALUES (?, ?, ?, ?)`, eventID, userID, string(response), timefmt.Format(now))
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record hazard response: %w", err)
	}
	return true, nil
}

func (r *Repository) Responses(ctx context.Context, eventID int64) (map[int64]Response, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, response FROM corridor_event_responses WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hazard responses: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Response)
	for rows.Next() {
		var (
			userID int64
			resp   string
		)
		if err := rows.Scan(&userID, &resp); err != nil {
			return nil, fmt.Errorf("failed to scan hazard response: %w", err)
		}
		out[userID] = Response(resp)
	}
	return out, rows.Err()
}

// CloseHazard deactivates an event. Only the first caller gets true.
func (r *Repository) CloseHazard(ctx context.Context, eventID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE corridor_events SET is_active = 0 WHERE event_id = ? AND is_active = 1`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to close corridor event: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// microCandidate is a traveling session eligible for a micro event check.
type microCandidate struct {
	SessionID    int64
	UserID       int64
	Channel      string
	Start        time.Time
	End          time.Time
	Danger       int
	CorridorName string
	LastEvent    *time.Time
}

func (r *Repository) MicroCandidates(ctx context.Context) ([]microCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts.session_id, ts.user_id, ts.transit_channel, ts.start_time, ts.end_time,
		       c.danger_level, c.name, ts.last_event_time
		FROM travel_sessions ts
		JOIN corridors c ON c.corridor_id = ts.corridor_id
		WHERE ts.status = 'traveling' AND ts.transit_channel IS NOT NULL AND ts.transit_channel <> ''
		ORDER BY ts.session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list micro event candidates: %w", err)
	}
	defer rows.Close()

	var out []microCandidate
	for rows.Next() {
		var (
			c          microCandidate
			start, end string
			last       sql.NullString
		)
		if err := rows.Scan(&c.SessionID, &c.UserID, &c.Channel, &start, &end, &c.Danger, &c.CorridorName, &last); err != nil {
			return nil, fmt.Errorf("failed to scan micro event candidate: %w", err)
		}
		if c.Start, err = timefmt.Parse(start); err != nil {
			return nil, err
		}
		if c.End, err = timefmt.Parse(end); err != nil {
			return nil, err
		}
		if last.Valid {
			t, err := timefmt.Parse(last.String)
			if err != nil {
				return nil, err
			}
			c.LastEvent = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateMicro logs a drill and stamps the session's last event time in the
// same transaction.
func (r *Repository) CreateMicro(ctx context.Context, ev MicroEvent, now time.Time) (int64, error) {
	var id int64
	err := r.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		id, err = tx.InsertReturning(ctx, `
			INSERT INTO travel_micro_events (session_id, transit_channel, user_id, event_title, skill_used,
			                                 expected_skill, success_rate, damage_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING micro_event_id`,
			ev.SessionID, ev.Channel, ev.UserID, ev.Template.Title, string(ev.Template.Skill),
			ev.Expected, ev.SuccessRate, string(ev.Template.Damage), timefmt.Format(now))
		if err != nil {
			return fmt.Errorf("failed to log micro event: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE travel_sessions SET last_event_time = ? WHERE session_id = ?`,
			timefmt.Format(now), ev.SessionID); err != nil {
			return fmt.Errorf("failed to stamp session event time: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) ResolveMicro(ctx context.Context, tx *database.Tx, id int64, responded, success bool, xp, damage int) error {
	var exec database.Executor = r.db
	if tx != nil {
		exec = tx
	}
	_, err := exec.ExecContext(ctx, `
		UPDATE travel_micro_events
		SET responded = ?, success = ?, xp_awarded = ?, damage_taken = ?
		WHERE micro_event_id = ?`, boolInt(responded), boolInt(success), xp, damage, id)
	if err != nil {
		return fmt.Errorf("failed to resolve micro event: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
