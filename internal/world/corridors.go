package world

import (
	"context"
	"database/sql"
	"fmt"

	"starlane-server/internal/shared/database"
)

const corridorColumns = `
	corridor_id, name, origin_location, destination_location, travel_time, fuel_cost,
	danger_level, corridor_type, is_active`

func scanCorridor(row rowScanner) (*Corridor, error) {
	var (
		c      Corridor
		kind   string
		active int
	)
	err := row.Scan(&c.ID, &c.Name, &c.Origin, &c.Destination, &c.TravelTime, &c.FuelCost,
		&c.Danger, &kind, &active)
	if err != nil {
		return nil, err
	}
	c.Type = CorridorType(kind)
	c.Active = active == 1
	return &c, nil
}

// CreateCorridor inserts a corridor, deriving its type from the endpoints.
func (r *Repository) CreateCorridor(ctx context.Context, tx *database.Tx, c Corridor) (*Corridor, error) {
	logger := r.log("create_corridor").With("name", c.Name)

	origin, err := r.GetLocation(ctx, tx, c.Origin)
	if err != nil {
		return nil, err
	}
	dest, err := r.GetLocation(ctx, tx, c.Destination)
	if err != nil {
		return nil, err
	}
	c.Type = Classify(c.Name, origin, dest)

	c.ID, err = r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO corridors (name, origin_location, destination_location, travel_time, fuel_cost,
		                       danger_level, corridor_type, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING corridor_id`,
		c.Name, c.Origin, c.Destination, c.TravelTime, c.FuelCost, c.Danger,
		string(c.Type), boolInt(c.Active))
	if err != nil {
		logger.Error("Failed to create corridor", "error", err)
		return nil, fmt.Errorf("failed to create corridor: %w", err)
	}
	return &c, nil
}

func (r *Repository) GetCorridor(ctx context.Context, tx *database.Tx, corridorID int64) (*Corridor, error) {
	row := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+corridorColumns+` FROM corridors WHERE corridor_id = ?`, corridorID)
	c, err := scanCorridor(row)
	if err == sql.ErrNoRows {
		return nil, ErrCorridorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load corridor %d: %w", corridorID, err)
	}
	return c, nil
}

// Outbound lists active corridors leaving a location.
func (r *Repository) Outbound(ctx context.Context, tx *database.Tx, locationID int64) ([]Corridor, error) {
	return r.queryCorridors(ctx, tx,
		`SELECT `+corridorColumns+` FROM corridors
		 WHERE origin_location = ? AND is_active = 1 ORDER BY travel_time, corridor_id`, locationID)
}

func (r *Repository) ListActiveCorridors(ctx context.Context, tx *database.Tx) ([]Corridor, error) {
	return r.queryCorridors(ctx, tx,
		`SELECT `+corridorColumns+` FROM corridors WHERE is_active = 1 ORDER BY corridor_id`)
}

func (r *Repository) queryCorridors(ctx context.Context, tx *database.Tx, query string, args ...any) ([]Corridor, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query corridors: %w", err)
	}
	defer rows.Close()

	var out []Corridor
	for rows.Next() {
		c, err := scanCorridor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan corridor: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repository) SetCorridorActive(ctx context.Context, tx *database.Tx, corridorID int64, active bool) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE corridors SET is_active = ? WHERE corridor_id = ?`, boolInt(active), corridorID)
	if err != nil {
		return fmt.Errorf("failed to toggle corridor: %w", err)
	}
	return nil
}
