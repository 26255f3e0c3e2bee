package radio

import (
	"context"
	"fmt"
	"log/slog"

	"starlane-server/internal/shared/database"
)

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger.With("component", "radio_repository")}
}

// Listeners returns every location with at least one logged-in character.
func (r *Repository) Listeners(ctx context.Context) ([]Site, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT l.location_id, l.name, l.x, l.y
		FROM locations l
		JOIN characters c ON c.current_location = l.location_id
		WHERE c.is_logged_in = 1
		ORDER BY l.location_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list listening locations: %w", err)
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.LocationID, &s.Name, &s.X, &s.Y); err != nil {
			return nil, fmt.Errorf("failed to scan listening location: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ActiveRepeaters(ctx context.Context) ([]Repeater, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rp.repeater_id, l.location_id, l.name, l.x, l.y, rp.receive_range, rp.transmit_range
		FROM repeaters rp
		JOIN locations l ON l.location_id = rp.location_id
		WHERE rp.is_active = 1
		ORDER BY rp.repeater_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repeaters: %w", err)
	}
	defer rows.Close()

	var out []Repeater
	for rows.Next() {
		var rp Repeater
		if err := rows.Scan(&rp.ID, &rp.LocationID, &rp.Name, &rp.X, &rp.Y, &rp.Receive, &rp.Transmit); err != nil {
			return nil, fmt.Errorf("failed to scan repeater: %w", err)
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

func (r *Repository) CreateRepeater(ctx context.Context, locationID int64, ownerID *int64, receive, transmit float64) (int64, error) {
	id, err := r.db.InsertReturning(ctx, `
		INSERT INTO repeaters (location_id, owner_id, receive_range, transmit_range)
		VALUES (?, ?, ?, ?)
		RETURNING repeater_id`, locationID, ownerID, receive, transmit)
	if err != nil {
		return 0, fmt.Errorf("failed to create repeater: %w", err)
	}
	return id, nil
}
