package ambient

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
	"starlane-server/internal/world"
)

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger.With("component", "ambient_repository")}
}

func parseOptional(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := timefmt.Parse(raw.String)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", raw.String, err)
	}
	return &t, nil
}

// ActiveLocations lists locations with logged-in characters, with the
// player count and the time of the last flavor event there.
func (r *Repository) ActiveLocations(ctx context.Context) ([]ActiveLocation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.location_id, l.name, l.location_type, l.wealth_level, l.population,
		       COUNT(*), t.last_ambient_event
		FROM characters c
		JOIN locations l ON l.location_id = c.current_location
		LEFT JOIN ambient_event_tracking t ON t.location_id = l.location_id
		WHERE c.is_logged_in = 1 AND c.current_location IS NOT NULL
		GROUP BY l.location_id, l.name, l.location_type, l.wealth_level, l.population, t.last_ambient_event
		ORDER BY l.location_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active locations: %w", err)
	}
	defer rows.Close()

	var out []ActiveLocation
	for rows.Next() {
		var (
			l    ActiveLocation
			kind string
			last sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Name, &kind, &l.Wealth, &l.Population, &l.Players, &last); err != nil {
			return nil, fmt.Errorf("failed to scan active location: %w", err)
		}
		l.Type = world.LocationType(kind)
		if l.LastEvent, err = parseOptional(last); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) GetActiveLocation(ctx context.Context, locationID int64) (*ActiveLocation, error) {
	var (
		l    ActiveLocation
		kind string
		last sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT l.location_id, l.name, l.location_type, l.wealth_level, l.population,
		       (SELECT COUNT(*) FROM characters c WHERE c.current_location = l.location_id AND c.is_logged_in = 1),
		       t.last_ambient_event
		FROM locations l
		LEFT JOIN ambient_event_tracking t ON t.location_id = l.location_id
		WHERE l.location_id = ?`, locationID).
		Scan(&l.ID, &l.Name, &kind, &l.Wealth, &l.Population, &l.Players, &last)
	if err == sql.ErrNoRows {
		return nil, world.ErrLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	l.Type = world.LocationType(kind)
	if l.LastEvent, err = parseOptional(last); err != nil {
		return nil, err
	}
	return &l, nil
}

// NamesAt returns the names of logged-in characters at a location.
func (r *Repository) NamesAt(ctx context.Context, locationID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name FROM characters
		WHERE current_location = ? AND is_logged_in = 1
		ORDER BY user_id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters at location: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan character name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (r *Repository) RecordEvent(ctx context.Context, locationID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ambient_event_tracking (location_id, last_ambient_event, total_events_generated)
		VALUES (?, ?, 1)
		ON CONFLICT (location_id) DO UPDATE SET
			last_ambient_event = excluded.last_ambient_event,
			total_events_generated = ambient_event_tracking.total_events_generated + 1`,
		locationID, timefmt.Format(at))
	if err != nil {
		return fmt.Errorf("failed to record ambient event: %w", err)
	}
	return nil
}

// Income

func (r *Repository) OwnedLocations(ctx context.Context) ([]OwnedLocation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.location_id, l.wealth_level, l.population, o.income_multiplier
		FROM location_ownership o
		JOIN locations l ON l.location_id = o.location_id
		WHERE o.faction_id IS NOT NULL OR o.owner_id IS NOT NULL
		ORDER BY l.location_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned locations: %w", err)
	}
	defer rows.Close()

	var out []OwnedLocation
	for rows.Next() {
		var l OwnedLocation
		if err := rows.Scan(&l.ID, &l.Wealth, &l.Population, &l.Multiplier); err != nil {
			return nil, fmt.Errorf("failed to scan owned location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) AddGeneratedIncome(ctx context.Context, tx *database.Tx, locationID int64, amount int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE locations SET generated_income = generated_income + ? WHERE location_id = ?`, amount, locationID)
	if err != nil {
		return fmt.Errorf("failed to add location income: %w", err)
	}
	return nil
}

// HomeLedgers lists homes with at least one paying upgrade.
func (r *Repository) HomeLedgers(ctx context.Context) ([]HomeLedger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.home_id, SUM(u.daily_income), COALESCE(i.accumulated_income, 0), i.last_calculated
		FROM home_upgrades u
		LEFT JOIN home_income i ON i.home_id = u.home_id
		WHERE u.daily_income > 0
		GROUP BY u.home_id, i.accumulated_income, i.last_calculated
		ORDER BY u.home_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list home income: %w", err)
	}
	defer rows.Close()

	var out []HomeLedger
	for rows.Next() {
		var (
			h    HomeLedger
			last sql.NullString
		)
		if err := rows.Scan(&h.HomeID, &h.Daily, &h.Accumulated, &last); err != nil {
			return nil, fmt.Errorf("failed to scan home income: %w", err)
		}
		if h.LastCalculated, err = parseOptional(last); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repository) SaveHomeIncome(ctx context.Context, homeID int64, accumulated int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO home_income (home_id, accumulated_income, last_calculated)
		VALUES (?, ?, ?)
		ON CONFLICT (home_id) DO UPDATE SET
			accumulated_income = excluded.accumulated_income,
			last_calculated = excluded.last_calculated`,
		homeID, accumulated, timefmt.Format(at))
	if err != nil {
		return fmt.Errorf("failed to save home income: %w", err)
	}
	return nil
}

// News

func (r *Repository) QueueNews(ctx context.Context, n News, now time.Time) (int64, error) {
	id, err := r.db.InsertReturning(ctx, `
		INSERT INTO news_queue (news_type, title, description, location_id, scheduled_delivery, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING news_id`,
		n.Type, n.Title, n.Body, n.LocationID, timefmt.Format(n.DeliverAt), timefmt.Format(now))
	if err != nil {
		return 0, fmt.Errorf("failed to queue news: %w", err)
	}
	return id, nil
}

func (r *Repository) DueNews(ctx context.Context, now time.Time) ([]News, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT news_id, news_type, title, description, location_id, scheduled_delivery
		FROM news_queue
		WHERE is_delivered = 0 AND scheduled_delivery <= ?
		ORDER BY scheduled_delivery, news_id`, timefmt.Format(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due news: %w", err)
	}
	defer rows.Close()

	var out []News
	for rows.Next() {
		var (
			n   News
			loc sql.NullInt64
			at  string
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &loc, &at); err != nil {
			return nil, fmt.Errorf("failed to scan news: %w", err)
		}
		if loc.Valid {
			id := loc.Int64
			n.LocationID = &id
		}
		if n.DeliverAt, err = timefmt.Parse(at); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", at, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkDelivered(ctx context.Context, newsID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE news_queue SET is_delivered = 1 WHERE news_id = ?`, newsID)
	if err != nil {
		return fmt.Errorf("failed to mark news delivered: %w", err)
	}
	return nil
}
