package mapfeed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"starlane-server/internal/shared/database"
)

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Snapshot reads the whole map in one vectored fetch so the three result
// sets come from the same connection.
func (r *Repository) Snapshot(ctx context.Context) (*Snapshot, error) {
	logger := r.logger.With("component", "mapfeed_repository", "operation", "snapshot")

	snap := &Snapshot{Locations: []LocationView{}, Corridors: []CorridorView{}}
	statements := []database.Statement{
		{Query: `
			SELECT l.location_id, l.name, l.location_type, l.x, l.y, l.system_name, l.faction, l.is_derelict,
			       (SELECT COUNT(*) FROM characters c
			        WHERE c.current_location = l.location_id AND c.is_logged_in = 1)
			FROM locations l ORDER BY l.location_id`},
		{Query: `
			SELECT corridor_id, name, origin_location, destination_location, corridor_type, danger_level, travel_time
			FROM corridors WHERE is_active = 1 ORDER BY corridor_id`},
		{Query: `SELECT COUNT(*) FROM travel_sessions WHERE status = 'traveling'`},
	}

	err := r.db.ReadMany(ctx, statements, func(i int, rows *sql.Rows) error {
		for rows.Next() {
			switch i {
			case 0:
				var (
					l        LocationView
					derelict int
				)
				if err := rows.Scan(&l.ID, &l.Name, &l.Type, &l.X, &l.Y, &l.System, &l.Faction, &derelict, &l.Online); err != nil {
					return fmt.Errorf("failed to scan location: %w", err)
				}
				l.Derelict = derelict == 1
				snap.Locations = append(snap.Locations, l)
			case 1:
				var c CorridorView
				if err := rows.Scan(&c.ID, &c.Name, &c.Origin, &c.Destination, &c.Type, &c.Danger, &c.TravelTime); err != nil {
					return fmt.Errorf("failed to scan corridor: %w", err)
				}
				snap.Corridors = append(snap.Corridors, c)
			case 2:
				if err := rows.Scan(&snap.InTransit); err != nil {
					return fmt.Errorf("failed to scan transit count: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to build map snapshot", "error", err)
		return nil, err
	}

	logger.Debug("Map snapshot built", "locations", len(snap.Locations), "corridors", len(snap.Corridors))
	return snap, nil
}
