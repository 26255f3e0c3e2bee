package world

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
)

const characterColumns = `
	user_id, name, callsign, hp, max_hp, money, engineering, navigation, combat, medical,
	experience, alignment, current_location, active_ship_id, current_ship_id, current_home_id,
	is_logged_in, is_alive, last_activity, location_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (*Character, error) {
	var (
		c                           Character
		alignment, status           string
		location, active, cur, home sql.NullInt64
		loggedIn, alive             int
		lastActivity                sql.NullString
	)
	err := row.Scan(
		&c.UserID, &c.Name, &c.Callsign, &c.HP, &c.MaxHP, &c.Money,
		&c.Engineering, &c.Navigation, &c.Combat, &c.Medical, &c.Experience,
		&alignment, &location, &active, &cur, &home,
		&loggedIn, &alive, &lastActivity, &status,
	)
	if err != nil {
		return nil, err
	}
	c.Alignment = Alignment(alignment)
	c.Status = LocationStatus(status)
	c.CurrentLocation = nullInt64(location)
	c.ActiveShipID = nullInt64(active)
	c.CurrentShipID = nullInt64(cur)
	c.CurrentHomeID = nullInt64(home)
	c.LoggedIn = loggedIn == 1
	c.Alive = alive == 1
	c.LastActivity = nullTime(lastActivity)
	return &c, nil
}

type NewCharacter struct {
	UserID     int64
	Name       string
	Callsign   string
	Money      int
	Skills     map[Skill]int
	Alignment  Alignment
	LocationID *int64
	Now        time.Time
}

func (r *Repository) CreateCharacter(ctx context.Context, tx *database.Tx, nc NewCharacter) (*Character, error) {
	logger := r.log("create_character").With("user_id", nc.UserID)

	alignment := nc.Alignment
	if alignment == "" {
		alignment = AlignmentNeutral
	}
	skill := func(s Skill) int {
		if v, ok := nc.Skills[s]; ok {
			return v
		}
		return 5
	}

	_, err := r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO characters (user_id, name, callsign, money, engineering, navigation, combat, medical,
		                        alignment, current_location, location_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'docked', ?)`,
		nc.UserID, nc.Name, nc.Callsign, nc.Money,
		skill(SkillEngineering), skill(SkillNavigation), skill(SkillCombat), skill(SkillMedical),
		string(alignment), nc.LocationID, timefmt.Format(nc.Now))
	if err != nil {
		logger.Error("Failed to create character", "error", err)
		return nil, fmt.Errorf("failed to create character: %w", err)
	}

	logger.Info("Character created", "name", nc.Name)
	return r.GetCharacter(ctx, tx, nc.UserID)
}

func (r *Repository) GetCharacter(ctx context.Context, tx *database.Tx, userID int64) (*Character, error) {
	row := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE user_id = ?`, userID)
	c, err := scanCharacter(row)
	if err == sql.ErrNoRows {
		return nil, ErrCharacterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load character %d: %w", userID, err)
	}
	return c, nil
}

// ListLoggedIn returns every live character currently in the game.
func (r *Repository) ListLoggedIn(ctx context.Context) ([]Character, error) {
	return r.queryCharacters(ctx, nil,
		`SELECT `+characterColumns+` FROM characters WHERE is_logged_in = 1 AND is_alive = 1 ORDER BY user_id`)
}

// ListAt returns logged-in characters at a location in the given dock state.
func (r *Repository) ListAt(ctx context.Context, tx *database.Tx, locationID int64, status LocationStatus) ([]Character, error) {
	return r.queryCharacters(ctx, tx,
		`SELECT `+characterColumns+` FROM characters
		 WHERE current_location = ? AND location_status = ? AND is_logged_in = 1 AND is_alive = 1
		 ORDER BY user_id`, locationID, string(status))
}

func (r *Repository) queryCharacters(ctx context.Context, tx *database.Tx, query string, args ...any) ([]Character, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repository) CountLoggedIn(ctx context.Context, tx *database.Tx) (int, error) {
	var n int
	err := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM characters WHERE is_logged_in = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count logged in characters: %w", err)
	}
	return n, nil
}

// SetLoggedIn flips the login flag and reports whether it changed.
func (r *Repository) SetLoggedIn(ctx context.Context, tx *database.Tx, userID int64, loggedIn bool, now time.Time) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx, `
		UPDATE characters SET is_logged_in = ?, last_activity = ?
		WHERE user_id = ? AND is_logged_in = ?`,
		boolInt(loggedIn), timefmt.Format(now), userID, boolInt(!loggedIn))
	if err != nil {
		return false, fmt.Errorf("failed to update login state: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (r *Repository) TouchActivity(ctx context.Context, userID int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE characters SET last_activity = ? WHERE user_id = ?`, timefmt.Format(now), userID)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// SetPosition moves a character. A nil location means in transit.
func (r *Repository) SetPosition(ctx context.Context, tx *database.Tx, userID int64, locationID *int64, status LocationStatus) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE characters SET current_location = ?, location_status = ? WHERE user_id = ?`,
		locationID, string(status), userID)
	if err != nil {
		return fmt.Errorf("failed to move character %d: %w", userID, err)
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, tx *database.Tx, userID int64, status LocationStatus) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE characters SET location_status = ? WHERE user_id = ?`, string(status), userID)
	if err != nil {
		return fmt.Errorf("failed to set character status: %w", err)
	}
	return nil
}

// AdjustHP applies delta clamped to [0, max_hp] and returns the new value.
func (r *Repository) AdjustHP(ctx context.Context, tx *database.Tx, userID int64, delta int) (int, error) {
	exec := r.getExecutor(tx)
	_, err := exec.ExecContext(ctx, `
		UPDATE characters
		SET hp = CASE WHEN hp + ? < 0 THEN 0 WHEN hp + ? > max_hp THEN max_hp ELSE hp + ? END
		WHERE user_id = ?`, delta, delta, delta, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust hp: %w", err)
	}

	var hp int
	err = exec.QueryRowContext(ctx, `SELECT hp FROM characters WHERE user_id = ?`, userID).Scan(&hp)
	if err == sql.ErrNoRows {
		return 0, ErrCharacterNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read hp: %w", err)
	}
	return hp, nil
}

// Spend deducts credits only if the balance covers the whole amount.
func (r *Repository) Spend(ctx context.Context, tx *database.Tx, userID int64, amount int) error {
	result, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE characters SET money = money - ? WHERE user_id = ? AND money >= ?`,
		amount, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to deduct credits: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// AdjustMoney applies delta, flooring the balance at zero. Returns the
// amount actually moved (negative for a deduction).
func (r *Repository) AdjustMoney(ctx context.Context, tx *database.Tx, userID int64, delta int) (int, error) {
	exec := r.getExecutor(tx)
	var before int
	if err := exec.QueryRowContext(ctx, `SELECT money FROM characters WHERE user_id = ?`, userID).Scan(&before); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrCharacterNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	after := max(0, before+delta)
	if _, err := exec.ExecContext(ctx, `UPDATE characters SET money = ? WHERE user_id = ?`, after, userID); err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return after - before, nil
}

func (r *Repository) AddExperience(ctx context.Context, tx *database.Tx, userID int64, xp int) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE characters SET experience = experience + ? WHERE user_id = ?`, xp, userID)
	if err != nil {
		return fmt.Errorf("failed to award experience: %w", err)
	}
	return nil
}

func (r *Repository) SetAlignment(ctx context.Context, tx *database.Tx, userID int64, alignment Alignment) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE characters SET alignment = ? WHERE user_id = ?`, string(alignment), userID)
	if err != nil {
		return fmt.Errorf("failed to set alignment: %w", err)
	}
	return nil
}
