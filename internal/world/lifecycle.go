package world

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"starlane-server/internal/shared/database"
)

// AbortedTravel describes a travel session cancelled during cleanup.
type AbortedTravel struct {
	SessionID      int64
	Origin         int64
	TransitChannel string
}

// DroppedRobbery is a pending robbery removed during cleanup; its prompt
// must be closed by the caller.
type DroppedRobbery struct {
	ID     int64
	ViewID string
}

// Released summarizes what ClearEngagements undid for one character.
type Released struct {
	NPCCombat    bool
	PvPOpponents []int64
	Robberies    []DroppedRobbery
	Travel       *AbortedTravel
}

// ClearEngagements removes every combat record, pending robbery and active
// travel session involving the character. A cancelled trip puts the
// character and ship back at the origin.
func (r *Repository) ClearEngagements(ctx context.Context, tx *database.Tx, userID int64) (*Released, error) {
	out := &Released{}

	var combatType sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT combat_type FROM combat_states WHERE player_id = ?`, userID).Scan(&combatType)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load npc combat: %w", err)
	}
	if combatType.Valid {
		out.NPCCombat = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM combat_states WHERE player_id = ?`, userID); err != nil {
			return nil, fmt.Errorf("failed to clear npc combat: %w", err)
		}
		if err := r.restoreAfterCombat(ctx, tx, userID, combatType.String); err != nil {
			return nil, err
		}
	}

	opponents, err := r.clearPvP(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	out.PvPOpponents = opponents

	out.Robberies, err = r.dropRobberies(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	out.Travel, err = r.abortTravel(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) restoreAfterCombat(ctx context.Context, tx *database.Tx, userID int64, combatType string) error {
	status := StatusDocked
	if combatType == "space" {
		status = StatusInSpace
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE characters SET location_status = ? WHERE user_id = ? AND location_status = 'combat'`,
		string(status), userID)
	if err != nil {
		return fmt.Errorf("failed to restore status after combat: %w", err)
	}
	return nil
}

func (r *Repository) clearPvP(ctx context.Context, tx *database.Tx, userID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT attacker_id, defender_id, combat_type FROM pvp_combat_states
		WHERE attacker_id = ? OR defender_id = ?`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pvp combat: %w", err)
	}

	type pvpRow struct {
		attacker, defender int64
		combatType         string
	}
	var found []pvpRow
	for rows.Next() {
		var p pvpRow
		if err := rows.Scan(&p.attacker, &p.defender, &p.combatType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pvp combat: %w", err)
		}
		found = append(found, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var opponents []int64
	for _, p := range found {
		for _, id := range []int64{p.attacker, p.defender} {
			if err := r.restoreAfterCombat(ctx, tx, id, p.combatType); err != nil {
				return nil, err
			}
			if id != userID {
				opponents = append(opponents, id)
			}
		}
	}
	if len(found) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pvp_combat_states WHERE attacker_id = ? OR defender_id = ?`, userID, userID); err != nil {
			return nil, fmt.Errorf("failed to clear pvp combat: %w", err)
		}
	}
	return opponents, nil
}

func (r *Repository) dropRobberies(ctx context.Context, tx *database.Tx, userID int64) ([]DroppedRobbery, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT robbery_id, view_id FROM pending_robberies
		WHERE robber_id = ? OR victim_id = ?`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load robberies: %w", err)
	}

	var dropped []DroppedRobbery
	for rows.Next() {
		var (
			d    DroppedRobbery
			view sql.NullString
		)
		if err := rows.Scan(&d.ID, &view); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan robbery: %w", err)
		}
		d.ViewID = view.String
		dropped = append(dropped, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dropped) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_robberies WHERE robber_id = ? OR victim_id = ?`, userID, userID); err != nil {
			return nil, fmt.Errorf("failed to clear robberies: %w", err)
		}
	}
	return dropped, nil
}

func (r *Repository) abortTravel(ctx context.Context, tx *database.Tx, userID int64) (*AbortedTravel, error) {
	var (
		a       AbortedTravel
		channel sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT session_id, origin_location, transit_channel FROM travel_sessions
		WHERE user_id = ? AND status = 'traveling'`, userID).Scan(&a.SessionID, &a.Origin, &channel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load travel session: %w", err)
	}
	a.TransitChannel = channel.String

	if _, err := tx.ExecContext(ctx,
		`UPDATE travel_sessions SET status = 'cancelled' WHERE session_id = ? AND status = 'traveling'`,
		a.SessionID); err != nil {
		return nil, fmt.Errorf("failed to cancel travel session: %w", err)
	}
	if err := r.SetPosition(ctx, tx, userID, &a.Origin, StatusDocked); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ships SET docked_at_location = ?
		WHERE ship_id = (SELECT active_ship_id FROM characters WHERE user_id = ?)`, a.Origin, userID); err != nil {
		return nil, fmt.Errorf("failed to redock ship: %w", err)
	}
	return &a, nil
}

// Kill marks a character dead, logs it out and clears its engagements.
// Returns nil if the character was already dead.
func (r *Repository) Kill(ctx context.Context, tx *database.Tx, userID int64, now time.Time) (*Released, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE characters SET hp = 0, is_alive = 0, is_logged_in = 0
		WHERE user_id = ? AND is_alive = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark character dead: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	released, err := r.ClearEngagements(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := r.CancelJobs(ctx, tx, userID); err != nil {
		return nil, err
	}

	r.log("kill_character").Info("Character died", "user_id", userID, "at", now)
	return released, nil
}
