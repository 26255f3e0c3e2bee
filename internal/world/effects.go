package world

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
)

// TravelModifiers aggregates the active travel effects at a location.
type TravelModifiers struct {
	Banned     bool
	DelayLevel int
	BonusLevel int
	FuelFactor float64
}

// TimeFactor is the combined multiplier applied to a corridor's travel time.
func (m TravelModifiers) TimeFactor() float64 {
	delay := 1 + 0.2*float64(m.DelayLevel)
	bonus := max(0.5, 1-0.15*float64(m.BonusLevel))
	return delay * bonus
}

// FuelCost scales a corridor's base fuel cost, never below 1.
func (m TravelModifiers) FuelCost(base int) int {
	factor := m.FuelFactor
	if factor == 0 {
		factor = 1
	}
	return max(1, int(float64(base)*factor))
}

func (r *Repository) AddCharacterEffect(ctx context.Context, tx *database.Tx, userID int64, effect Effect) error {
	_, err := r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO character_effects (user_id, effect_type, effect_value, expires_at)
		VALUES (?, ?, ?, ?)`,
		userID, effect.Type, effect.Value, timefmt.FormatPtr(effect.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to add character effect: %w", err)
	}
	return nil
}

func (r *Repository) AddLocationEffect(ctx context.Context, tx *database.Tx, locationID int64, effect Effect) error {
	if effect.ExpiresAt == nil {
		return fmt.Errorf("location effect %s needs an expiry", effect.Type)
	}
	_, err := r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO location_effects (location_id, effect_type, effect_value, expires_at)
		VALUES (?, ?, ?, ?)`,
		locationID, effect.Type, effect.Value, timefmt.Format(*effect.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to add location effect: %w", err)
	}
	return nil
}

func (r *Repository) queryEffects(ctx context.Context, tx *database.Tx, query string, args ...any) ([]Effect, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query effects: %w", err)
	}
	defer rows.Close()

	var effects []Effect
	for rows.Next() {
		var (
			e       Effect
			expires sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Value, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan effect: %w", err)
		}
		e.ExpiresAt = nullTime(expires)
		effects = append(effects, e)
	}
	return effects, rows.Err()
}

func (r *Repository) CharacterEffects(ctx context.Context, tx *database.Tx, userID int64, now time.Time) ([]Effect, error) {
	return r.queryEffects(ctx, tx, `
		SELECT effect_id, effect_type, effect_value, expires_at
		FROM character_effects
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY effect_id`, userID, timefmt.Format(now))
}

func (r *Repository) LocationEffects(ctx context.Context, tx *database.Tx, locationID int64, now time.Time) ([]Effect, error) {
	return r.queryEffects(ctx, tx, `
		SELECT effect_id, effect_type, effect_value, expires_at
		FROM location_effects
		WHERE location_id = ? AND expires_at > ?
		ORDER BY effect_id`, locationID, timefmt.Format(now))
}

// PurgeExpiredEffects deletes every effect whose expiry has passed.
func (r *Repository) PurgeExpiredEffects(ctx context.Context, now time.Time) (int64, error) {
	stamp := timefmt.Format(now)
	var total int64
	err := r.db.WithTx(ctx, func(tx *database.Tx) error {
		total = 0
		for _, query := range []string{
			`DELETE FROM character_effects WHERE expires_at IS NOT NULL AND expires_at <= ?`,
			`DELETE FROM location_effects WHERE expires_at <= ?`,
		} {
			result, err := tx.ExecContext(ctx, query, stamp)
			if err != nil {
				return fmt.Errorf("failed to purge effects: %w", err)
			}
			n, _ := result.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

// EffectChecker answers effect questions for travel and combat. Lookups
// always read character effects first, then location effects.
type EffectChecker struct {
	repo *Repository
}

func NewEffectChecker(repo *Repository) *EffectChecker {
	return &EffectChecker{repo: repo}
}

// CharacterFlags is the resolved set of item effects on one character.
type CharacterFlags struct {
	SecurityBypass bool
	FederalID      bool
	CombatBoost    int
}

func (e *EffectChecker) Character(ctx context.Context, tx *database.Tx, userID int64, now time.Time) (CharacterFlags, error) {
	effects, err := e.repo.CharacterEffects(ctx, tx, userID, now)
	if err != nil {
		return CharacterFlags{}, err
	}

	var flags CharacterFlags
	for _, eff := range effects {
		switch eff.Type {
		case EffectSecurityBypass:
			flags.SecurityBypass = true
		case EffectFederalID:
			flags.FederalID = true
		case EffectCombatStims:
			flags.CombatBoost = max(flags.CombatBoost, eff.Value)
		}
	}
	return flags, nil
}

// Travel folds the active location effects into one modifier set.
// fuel_efficiency values are percentages (90 means 0.9x).
func (e *EffectChecker) Travel(ctx context.Context, tx *database.Tx, locationID int64, now time.Time) (TravelModifiers, error) {
	effects, err := e.repo.LocationEffects(ctx, tx, locationID, now)
	if err != nil {
		return TravelModifiers{}, err
	}

	mods := TravelModifiers{FuelFactor: 1}
	for _, eff := range effects {
		switch eff.Type {
		case EffectTravelBan:
			mods.Banned = mods.Banned || eff.Value != 0
		case EffectTravelDelay:
			mods.DelayLevel += eff.Value
		case EffectTravelBonus:
			mods.BonusLevel += eff.Value
		case EffectFuelEfficiency:
			if eff.Value > 0 {
				mods.FuelFactor *= float64(eff.Value) / 100
			}
		}
	}
	return mods, nil
}
