package world

import (
	"context"
	"database/sql"
	"fmt"

	"starlane-server/internal/shared/database"
)

func (k NPCKind) table() string {
	if k == NPCDynamic {
		return "dynamic_npcs"
	}
	return "static_npcs"
}

func (r *Repository) GetNPC(ctx context.Context, tx *database.Tx, kind NPCKind, id int64) (*NPC, error) {
	var query string
	switch kind {
	case NPCStatic:
		query = `SELECT npc_id, name, occupation, location_id, alignment, hp, max_hp, 0, combat_rating, credits, is_alive
		         FROM static_npcs WHERE npc_id = ?`
	case NPCDynamic:
		query = `SELECT npc_id, name, callsign, current_location, alignment, hp, max_hp, ship_hull, combat_rating, credits, is_alive
		         FROM dynamic_npcs WHERE npc_id = ?`
	default:
		return nil, fmt.Errorf("unknown npc kind %q", kind)
	}

	var (
		n         NPC
		location  sql.NullInt64
		alignment string
		alive     int
	)
	err := r.getExecutor(tx).QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.Name, &n.Occupation, &location, &alignment, &n.HP, &n.MaxHP, &n.Hull,
		&n.Combat, &n.Credits, &alive)
	if err == sql.ErrNoRows {
		return nil, ErrNPCNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load npc: %w", err)
	}
	n.Kind = kind
	n.LocationID = nullInt64(location)
	n.Alignment = Alignment(alignment)
	n.Alive = alive == 1
	return &n, nil
}

// NPCsAt lists living NPCs of both kinds at a location.
func (r *Repository) NPCsAt(ctx context.Context, tx *database.Tx, locationID int64) ([]NPC, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx, `
		SELECT npc_id, 'static', name, alignment, hp, max_hp, 0, combat_rating, credits
		FROM static_npcs WHERE location_id = ? AND is_alive = 1
		UNION ALL
		SELECT npc_id, 'dynamic', name, alignment, hp, max_hp, ship_hull, combat_rating, credits
		FROM dynamic_npcs WHERE current_location = ? AND is_alive = 1`, locationID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query npcs: %w", err)
	}
	defer rows.Close()

	var out []NPC
	for rows.Next() {
		var (
			n               NPC
			kind, alignment string
		)
		if err := rows.Scan(&n.ID, &kind, &n.Name, &alignment, &n.HP, &n.MaxHP, &n.Hull, &n.Combat, &n.Credits); err != nil {
			return nil, fmt.Errorf("failed to scan npc: %w", err)
		}
		n.Kind = NPCKind(kind)
		n.Alignment = Alignment(alignment)
		n.LocationID = &locationID
		n.Alive = true
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) CreateStaticNPC(ctx context.Context, tx *database.Tx, n NPC) (int64, error) {
	if n.LocationID == nil {
		return 0, fmt.Errorf("static npc %q needs a location", n.Name)
	}
	return r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO static_npcs (location_id, name, occupation, alignment, hp, max_hp, combat_rating, credits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING npc_id`,
		*n.LocationID, n.Name, n.Occupation, string(n.Alignment), n.HP, n.MaxHP, n.Combat, n.Credits)
}

func (r *Repository) CreateDynamicNPC(ctx context.Context, tx *database.Tx, n NPC) (int64, error) {
	return r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO dynamic_npcs (name, callsign, current_location, alignment, hp, max_hp, ship_hull, combat_rating, credits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING npc_id`,
		n.Name, n.Occupation, n.LocationID, string(n.Alignment), n.HP, n.MaxHP, n.Hull, n.Combat, n.Credits)
}

// DamageNPC removes hp (or hull for a dynamic npc in space) and returns
// what is left, floored at zero.
func (r *Repository) DamageNPC(ctx context.Context, tx *database.Tx, kind NPCKind, id int64, amount int, hull bool) (int, error) {
	column := "hp"
	if hull && kind == NPCDynamic {
		column = "ship_hull"
	}
	exec := r.getExecutor(tx)
	query := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = CASE WHEN %[2]s - ? < 0 THEN 0 ELSE %[2]s - ? END WHERE npc_id = ?`,
		kind.table(), column)
	if _, err := exec.ExecContext(ctx, query, amount, amount, id); err != nil {
		return 0, fmt.Errorf("failed to damage npc: %w", err)
	}

	var left int
	err := exec.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE npc_id = ?`, column, kind.table()), id).Scan(&left)
	if err == sql.ErrNoRows {
		return 0, ErrNPCNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read npc %s: %w", column, err)
	}
	return left, nil
}

func (r *Repository) KillNPC(ctx context.Context, tx *database.Tx, kind NPCKind, id int64) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_alive = 0 WHERE npc_id = ?`, kind.table()), id)
	if err != nil {
		return fmt.Errorf("failed to kill npc: %w", err)
	}
	return nil
}

// ReviveNPC restores a static npc to full health.
func (r *Repository) ReviveNPC(ctx context.Context, tx *database.Tx, id int64) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE static_npcs SET is_alive = 1, hp = max_hp WHERE npc_id = ? AND is_alive = 0`, id)
	if err != nil {
		return false, fmt.Errorf("failed to revive npc: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}
