package world

import (
	"context"
	"database/sql"
	"fmt"

	"starlane-server/internal/shared/database"
)

const shipColumns = `
	ship_id, owner_id, name, ship_type, tier, fuel_capacity, current_fuel, hull_integrity, max_hull,
	cargo_capacity, cargo_used, fuel_efficiency, combat_rating, docked_at_location, interior_channel, is_active`

func scanShip(row rowScanner) (*Ship, error) {
	var (
		s        Ship
		docked   sql.NullInt64
		interior sql.NullString
		active   int
	)
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.ShipType, &s.Tier, &s.FuelCapacity, &s.CurrentFuel,
		&s.HullIntegrity, &s.MaxHull, &s.CargoCapacity, &s.CargoUsed, &s.FuelEfficiency,
		&s.CombatRating, &docked, &interior, &active,
	)
	if err != nil {
		return nil, err
	}
	s.DockedAt = nullInt64(docked)
	s.InteriorChannel = interior.String
	s.Active = active == 1
	return &s, nil
}

type NewShip struct {
	OwnerID        int64
	Name           string
	ShipType       string
	Tier           int
	FuelCapacity   int
	HullIntegrity  int
	FuelEfficiency int
	CombatRating   int
	DockedAt       *int64
}

// CreateShip inserts a ship full of fuel and makes it the owner's active one.
func (r *Repository) CreateShip(ctx context.Context, tx *database.Tx, ns NewShip) (*Ship, error) {
	logger := r.log("create_ship").With("owner_id", ns.OwnerID)
	exec := r.getExecutor(tx)

	if ns.Tier == 0 {
		ns.Tier = 1
	}
	if ns.FuelEfficiency == 0 {
		ns.FuelEfficiency = 5
	}

	id, err := exec.InsertReturning(ctx, `
		INSERT INTO ships (owner_id, name, ship_type, tier, fuel_capacity, current_fuel, hull_integrity,
		                   max_hull, fuel_efficiency, combat_rating, docked_at_location, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		RETURNING ship_id`,
		ns.OwnerID, ns.Name, ns.ShipType, ns.Tier, ns.FuelCapacity, ns.FuelCapacity,
		ns.HullIntegrity, ns.HullIntegrity, ns.FuelEfficiency, ns.CombatRating, ns.DockedAt)
	if err != nil {
		logger.Error("Failed to create ship", "error", err)
		return nil, fmt.Errorf("failed to create ship: %w", err)
	}

	_, err = exec.ExecContext(ctx,
		`UPDATE characters SET active_ship_id = ?, current_ship_id = NULL WHERE user_id = ?`, id, ns.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to activate ship: %w", err)
	}

	logger.Info("Ship created", "ship_id", id)
	return r.GetShip(ctx, tx, id)
}

func (r *Repository) GetShip(ctx context.Context, tx *database.Tx, shipID int64) (*Ship, error) {
	row := r.getExecutor(tx).QueryRowContext(ctx, `SELECT `+shipColumns+` FROM ships WHERE ship_id = ?`, shipID)
	s, err := scanShip(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoActiveShip
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ship %d: %w", shipID, err)
	}
	return s, nil
}

func (r *Repository) GetActiveShip(ctx context.Context, tx *database.Tx, userID int64) (*Ship, error) {
	row := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT `+shipColumns+` FROM ships
		WHERE ship_id = (SELECT active_ship_id FROM characters WHERE user_id = ?)`, userID)
	s, err := scanShip(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoActiveShip
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active ship: %w", err)
	}
	return s, nil
}

// BurnFuel deducts fuel only if the tank holds at least amount.
func (r *Repository) BurnFuel(ctx context.Context, tx *database.Tx, shipID int64, amount int) error {
	result, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE ships SET current_fuel = current_fuel - ? WHERE ship_id = ? AND current_fuel >= ?`,
		amount, shipID, amount)
	if err != nil {
		return fmt.Errorf("failed to burn fuel: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrInsufficientFuel
	}
	return nil
}

// AdjustFuel applies delta clamped to [0, fuel_capacity].
func (r *Repository) AdjustFuel(ctx context.Context, tx *database.Tx, shipID int64, delta int) (int, error) {
	return r.adjustShipGauge(ctx, tx, shipID, "current_fuel", "fuel_capacity", delta)
}

// AdjustHull applies delta clamped to [0, max_hull].
func (r *Repository) AdjustHull(ctx context.Context, tx *database.Tx, shipID int64, delta int) (int, error) {
	return r.adjustShipGauge(ctx, tx, shipID, "hull_integrity", "max_hull", delta)
}

func (r *Repository) adjustShipGauge(ctx context.Context, tx *database.Tx, shipID int64, column, capColumn string, delta int) (int, error) {
	exec := r.getExecutor(tx)
	query := fmt.Sprintf(`
		UPDATE ships
		SET %[1]s = CASE WHEN %[1]s + ? < 0 THEN 0 WHEN %[1]s + ? > %[2]s THEN %[2]s ELSE %[1]s + ? END
		WHERE ship_id = ?`, column, capColumn)
	if _, err := exec.ExecContext(ctx, query, delta, delta, delta, shipID); err != nil {
		return 0, fmt.Errorf("failed to adjust %s: %w", column, err)
	}

	var value int
	err := exec.QueryRowContext(ctx, `SELECT `+column+` FROM ships WHERE ship_id = ?`, shipID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, ErrNoActiveShip
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", column, err)
	}
	return value, nil
}

func (r *Repository) SetDocked(ctx context.Context, tx *database.Tx, shipID int64, locationID *int64) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE ships SET docked_at_location = ? WHERE ship_id = ?`, locationID, shipID)
	if err != nil {
		return fmt.Errorf("failed to update ship dock: %w", err)
	}
	return nil
}
