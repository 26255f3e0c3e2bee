package world

import (
	"context"
	"database/sql"
	"fmt"

	"starlane-server/internal/shared/database"
)

func (r *Repository) Reputation(ctx context.Context, tx *database.Tx, userID, locationID int64) (int, error) {
	var rep int
	err := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT reputation FROM character_reputation WHERE user_id = ? AND location_id = ?`,
		userID, locationID).Scan(&rep)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load reputation: %w", err)
	}
	return rep, nil
}

// AdjustReputation adds delta and clamps the result to [-100, 100].
func (r *Repository) AdjustReputation(ctx context.Context, tx *database.Tx, userID, locationID int64, delta int) (int, error) {
	current, err := r.Reputation(ctx, tx, userID, locationID)
	if err != nil {
		return 0, err
	}
	next := clamp(current+delta, MinReputation, MaxReputation)

	_, err = r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO character_reputation (user_id, location_id, reputation)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, location_id) DO UPDATE SET reputation = excluded.reputation`,
		userID, locationID, next)
	if err != nil {
		return 0, fmt.Errorf("failed to store reputation: %w", err)
	}
	return next, nil
}
