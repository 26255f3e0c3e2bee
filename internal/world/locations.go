package world

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
)

const locationColumns = `
	location_id, name, location_type, x, y, system_name, wealth_level, population,
	has_jobs, has_shops, has_medical, has_repairs, has_fuel, has_upgrades, has_shipyard,
	has_black_market, has_federal_supplies, faction, is_derelict, gate_status, generated_income, channel_ref`

func scanLocation(row rowScanner) (*Location, error) {
	var (
		l                                                   Location
		locType                                             string
		jobs, shops, medical, repairs, fuel, upgrades, yard int
		black, federal, derelict                            int
		channel                                             sql.NullString
	)
	err := row.Scan(
		&l.ID, &l.Name, &locType, &l.X, &l.Y, &l.System, &l.Wealth, &l.Population,
		&jobs, &shops, &medical, &repairs, &fuel, &upgrades, &yard,
		&black, &federal, &l.Faction, &derelict, &l.GateStatus, &l.GeneratedIncome, &channel,
	)
	if err != nil {
		return nil, err
	}
	l.Type = LocationType(locType)
	l.Services = Services{
		Jobs:            jobs == 1,
		Shops:           shops == 1,
		Medical:         medical == 1,
		Repairs:         repairs == 1,
		Fuel:            fuel == 1,
		Upgrades:        upgrades == 1,
		Shipyard:        yard == 1,
		BlackMarket:     black == 1,
		FederalSupplies: federal == 1,
	}
	l.Derelict = derelict == 1
	l.ChannelRef = channel.String
	return &l, nil
}

// CreateLocation inserts l and returns it with its assigned id.
func (r *Repository) CreateLocation(ctx context.Context, tx *database.Tx, l Location) (*Location, error) {
	logger := r.log("create_location").With("name", l.Name)

	if l.Faction == "" {
		l.Faction = FactionIndependent
	}
	if l.GateStatus == "" {
		l.GateStatus = "active"
	}
	if l.Wealth == 0 {
		l.Wealth = 5
	}
	var channel *string
	if l.ChannelRef != "" {
		channel = &l.ChannelRef
	}

	s := l.Services
	id, err := r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO locations (name, location_type, x, y, system_name, wealth_level, population,
		                       has_jobs, has_shops, has_medical, has_repairs, has_fuel, has_upgrades,
		                       has_shipyard, has_black_market, has_federal_supplies, faction, is_derelict,
		                       gate_status, channel_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING location_id`,
		l.Name, string(l.Type), l.X, l.Y, l.System, l.Wealth, l.Population,
		boolInt(s.Jobs), boolInt(s.Shops), boolInt(s.Medical), boolInt(s.Repairs), boolInt(s.Fuel),
		boolInt(s.Upgrades), boolInt(s.Shipyard), boolInt(s.BlackMarket), boolInt(s.FederalSupplies),
		l.Faction, boolInt(l.Derelict), l.GateStatus, channel)
	if err != nil {
		logger.Error("Failed to create location", "error", err)
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	l.ID = id

	logger.Debug("Location created", "location_id", l.ID)
	return &l, nil
}

func (r *Repository) GetLocation(ctx context.Context, tx *database.Tx, locationID int64) (*Location, error) {
	row := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE location_id = ?`, locationID)
	l, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location %d: %w", locationID, err)
	}
	return l, nil
}

func (r *Repository) ListLocations(ctx context.Context, tx *database.Tx) ([]Location, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations ORDER BY location_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// LocationChannel returns the stored channel ref (empty if none) and the
// location's name.
func (r *Repository) LocationChannel(ctx context.Context, locationID int64) (string, string, error) {
	var (
		ref  sql.NullString
		name string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT channel_ref, name FROM locations WHERE location_id = ?`, locationID).Scan(&ref, &name)
	if err == sql.ErrNoRows {
		return "", "", ErrLocationNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load location channel: %w", err)
	}
	return ref.String, name, nil
}

func (r *Repository) SetLocationChannel(ctx context.Context, locationID int64, channelRef string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE locations SET channel_ref = ? WHERE location_id = ?`, channelRef, locationID)
	if err != nil {
		return fmt.Errorf("failed to store location channel: %w", err)
	}
	return nil
}

// GetOwnership returns nil when nobody owns the location.
func (r *Repository) GetOwnership(ctx context.Context, tx *database.Tx, locationID int64) (*Ownership, error) {
	var (
		o              Ownership
		faction, owner sql.NullInt64
	)
	err := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT location_id, faction_id, owner_id, docking_fee, income_multiplier
		FROM location_ownership WHERE location_id = ?`, locationID).
		Scan(&o.LocationID, &faction, &owner, &o.DockingFee, &o.IncomeMultiplier)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ownership: %w", err)
	}
	o.FactionID = nullInt64(faction)
	o.OwnerID = nullInt64(owner)
	return &o, nil
}

func (r *Repository) SetOwnership(ctx context.Context, tx *database.Tx, o Ownership) error {
	multiplier := o.IncomeMultiplier
	if multiplier == 0 {
		multiplier = 1
	}
	_, err := r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO location_ownership (location_id, faction_id, owner_id, docking_fee, income_multiplier)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (location_id) DO UPDATE SET
			faction_id = excluded.faction_id,
			owner_id = excluded.owner_id,
			docking_fee = excluded.docking_fee,
			income_multiplier = excluded.income_multiplier`,
		o.LocationID, o.FactionID, o.OwnerID, o.DockingFee, multiplier)
	if err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}
	return nil
}

func (r *Repository) CreateFaction(ctx context.Context, tx *database.Tx, name string, leaderID *int64) (*Faction, error) {
	id, err := r.getExecutor(tx).InsertReturning(ctx,
		`INSERT INTO factions (name, leader_id) VALUES (?, ?) RETURNING faction_id`, name, leaderID)
	if err != nil {
		return nil, fmt.Errorf("failed to create faction: %w", err)
	}
	return &Faction{ID: id, Name: name, LeaderID: leaderID}, nil
}

func (r *Repository) AddFactionMember(ctx context.Context, tx *database.Tx, factionID, userID int64, joinedAt time.Time) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`INSERT INTO faction_members (faction_id, user_id, joined_at) VALUES (?, ?, ?)`,
		factionID, userID, timefmt.Format(joinedAt))
	if err != nil {
		return fmt.Errorf("failed to add faction member: %w", err)
	}
	return nil
}

// FactionOf returns the faction a character belongs to, or nil.
func (r *Repository) FactionOf(ctx context.Context, tx *database.Tx, userID int64) (*int64, error) {
	var id int64
	err := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT faction_id FROM faction_members WHERE user_id = ?`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load faction membership: %w", err)
	}
	return &id, nil
}

func (r *Repository) FactionBank(ctx context.Context, tx *database.Tx, factionID int64) (int, error) {
	var bank int
	err := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT bank_balance FROM factions WHERE faction_id = ?`, factionID).Scan(&bank)
	if err != nil {
		return 0, fmt.Errorf("failed to read faction bank: %w", err)
	}
	return bank, nil
}

func (r *Repository) CreditFaction(ctx context.Context, tx *database.Tx, factionID int64, amount int) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE factions SET bank_balance = bank_balance + ? WHERE faction_id = ?`, amount, factionID)
	if err != nil {
		return fmt.Errorf("failed to credit faction bank: %w", err)
	}
	return nil
}
