package combat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
	"starlane-server/internal/world"
)

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func parseTimes(pairs ...any) error {
	for i := 0; i < len(pairs); i += 2 {
		raw := pairs[i].(string)
		dst := pairs[i+1].(*time.Time)
		t, err := timefmt.Parse(raw)
		if err != nil {
			return fmt.Errorf("bad timestamp %q: %w", raw, err)
		}
		*dst = t
	}
	return nil
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// NPC combat

const npcCombatColumns = `combat_id, player_id, target_npc_id, target_npc_type, combat_type, location_id,
	player_can_act_time, next_npc_action_time, created_at`

func scanNPCCombat(row rowScanner) (*NPCCombat, error) {
	var (
		c                     NPCCombat
		kind, combatType      string
		location              sql.NullInt64
		canAct, next, created string
	)
	if err := row.Scan(&c.ID, &c.PlayerID, &c.NPCID, &kind, &combatType, &location, &canAct, &next, &created); err != nil {
		return nil, err
	}
	c.NPCKind = world.NPCKind(kind)
	c.Type = Type(combatType)
	c.LocationID = nullableID(location)
	if err := parseTimes(canAct, &c.PlayerCanAct, next, &c.NextNPCAction, created, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) CreateNPCCombat(ctx context.Context, tx *database.Tx, c NPCCombat) (int64, error) {
	id, err := r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO combat_states (player_id, target_npc_id, target_npc_type, combat_type, location_id,
		                           player_can_act_time, next_npc_action_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING combat_id`,
		c.PlayerID, c.NPCID, string(c.NPCKind), string(c.Type), c.LocationID,
		timefmt.Format(c.PlayerCanAct), timefmt.Format(c.NextNPCAction), timefmt.Format(c.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create npc combat: %w", err)
	}
	return id, nil
}

// NPCCombatFor returns the player's NPC fight, or nil.
func (r *Repository) NPCCombatFor(ctx context.Context, tx *database.Tx, playerID int64) (*NPCCombat, error) {
	c, err := scanNPCCombat(r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+npcCombatColumns+` FROM combat_states WHERE player_id = ?`, playerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load npc combat: %w", err)
	}
	return c, nil
}

func (r *Repository) GetNPCCombat(ctx context.Context, tx *database.Tx, combatID int64) (*NPCCombat, error) {
	c, err := scanNPCCombat(r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+npcCombatColumns+` FROM combat_states WHERE combat_id = ?`, combatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load npc combat: %w", err)
	}
	return c, nil
}

// InCombat reports whether the user holds any combat record.
func (r *Repository) InCombat(ctx context.Context, tx *database.Tx, userID int64) (bool, error) {
	var n int
	err := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM combat_states WHERE player_id = ?)
		     + (SELECT COUNT(*) FROM pvp_combat_states WHERE attacker_id = ? OR defender_id = ?)`,
		userID, userID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check combat state: %w", err)
	}
	return n > 0, nil
}

// DueNPCActions lists fights whose NPC is ready to strike back.
func (r *Repository) DueNPCActions(ctx context.Context, now time.Time) ([]NPCCombat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+npcCombatColumns+` FROM combat_states WHERE next_npc_action_time <= ? ORDER BY combat_id`,
		timefmt.Format(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due npc actions: %w", err)
	}
	defer rows.Close()

	var out []NPCCombat
	for rows.Next() {
		c, err := scanNPCCombat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan npc combat: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repository) SetPlayerCanAct(ctx context.Context, tx *database.Tx, combatID int64, at time.Time) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE combat_states SET player_can_act_time = ? WHERE combat_id = ?`, timefmt.Format(at), combatID)
	if err != nil {
		return fmt.Errorf("failed to set player cooldown: %w", err)
	}
	return nil
}

func (r *Repository) SetNextNPCAction(ctx context.Context, tx *database.Tx, combatID int64, at time.Time) error {
	_, err := r.getExecutor(tx).ExecContext(ctx,
		`UPDATE combat_states SET next_npc_action_time = ? WHERE combat_id = ?`, timefmt.Format(at), combatID)
	if err != nil {
		return fmt.Errorf("failed to schedule npc action: %w", err)
	}
	return nil
}

// EndNPCCombat deletes the fight. Only the first caller gets true.
func (r *Repository) EndNPCCombat(ctx context.Context, tx *database.Tx, combatID int64) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM combat_states WHERE combat_id = ?`, combatID)
	if err != nil {
		return false, fmt.Errorf("failed to end npc combat: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// PvP

const pvpColumns = `combat_id, attacker_id, defender_id, location_id, combat_type,
	attacker_can_act_time, defender_can_act_time, current_turn, last_action_time, created_at`

func scanPvP(row rowScanner) (*PvPCombat, error) {
	var (
		p                                    PvPCombat
		combatType, turn                     string
		location                             sql.NullInt64
		attackerAt, defenderAt, last, create string
	)
	if err := row.Scan(&p.ID, &p.AttackerID, &p.DefenderID, &location, &combatType,
		&attackerAt, &defenderAt, &turn, &last, &create); err != nil {
		return nil, err
	}
	p.LocationID = nullableID(location)
	p.Type = Type(combatType)
	p.Turn = Side(turn)
	if err := parseTimes(attackerAt, &p.AttackerCanAct, defenderAt, &p.DefenderCanAct,
		last, &p.LastAction, create, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CreatePvP(ctx context.Context, tx *database.Tx, p PvPCombat) (int64, error) {
	id, err := r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO pvp_combat_states (attacker_id, defender_id, location_id, combat_type,
		                               attacker_can_act_time, defender_can_act_time, current_turn,
		                               last_action_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING combat_id`,
		p.AttackerID, p.DefenderID, p.LocationID, string(p.Type),
		timefmt.Format(p.AttackerCanAct), timefmt.Format(p.DefenderCanAct), string(p.Turn),
		timefmt.Format(p.LastAction), timefmt.Format(p.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create pvp combat: %w", err)
	}
	return id, nil
}

// PvPFor returns the fight the user is in on either side, or nil.
func (r *Repository) PvPFor(ctx context.Context, tx *database.Tx, userID int64) (*PvPCombat, error) {
	p, err := scanPvP(r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+pvpColumns+` FROM pvp_combat_states WHERE attacker_id = ? OR defender_id = ?`, userID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pvp combat: %w", err)
	}
	return p, nil
}

// RecordPvPAction puts the actor on cooldown and hands the turn over.
func (r *Repository) RecordPvPAction(ctx context.Context, tx *database.Tx, combatID int64, actor Side, canAct, now time.Time) error {
	column := "attacker_can_act_time"
	if actor == SideDefender {
		column = "defender_can_act_time"
	}
	_, err := r.getExecutor(tx).ExecContext(ctx, fmt.Sprintf(`
		UPDATE pvp_combat_states SET %s = ?, current_turn = ?, last_action_time = ?
		WHERE combat_id = ?`, column),
		timefmt.Format(canAct), string(actor.Other()), timefmt.Format(now), combatID)
	if err != nil {
		return fmt.Errorf("failed to record pvp action: %w", err)
	}
	return nil
}

func (r *Repository) EndPvP(ctx context.Context, tx *database.Tx, combatID int64) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM pvp_combat_states WHERE combat_id = ?`, combatID)
	if err != nil {
		return false, fmt.Errorf("failed to end pvp combat: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// Robberies

const robberyColumns = `robbery_id, robber_id, victim_id, location_id, view_id, message_ref, channel_ref, expires_at`

func scanRobbery(row rowScanner) (*Robbery, error) {
	var (
		rb                 Robbery
		location           sql.NullInt64
		view, msg, channel sql.NullString
		expires            string
	)
	if err := row.Scan(&rb.ID, &rb.RobberID, &rb.VictimID, &location, &view, &msg, &channel, &expires); err != nil {
		return nil, err
	}
	rb.LocationID = nullableID(location)
	rb.ViewID, rb.MessageRef, rb.ChannelRef = view.String, msg.String, channel.String
	if err := parseTimes(expires, &rb.ExpiresAt); err != nil {
		return nil, err
	}
	return &rb, nil
}

// CreateRobbery returns ErrRobberyPending if the pair already has one open.
func (r *Repository) CreateRobbery(ctx context.Context, tx *database.Tx, rb Robbery) (int64, error) {
	id, err := r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO pending_robberies (robber_id, victim_id, location_id, expires_at)
		VALUES (?, ?, ?, ?) RETURNING robbery_id`,
		rb.RobberID, rb.VictimID, rb.LocationID, timefmt.Format(rb.ExpiresAt))
	if database.IsUniqueViolation(err) {
		return 0, ErrRobberyPending
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create robbery: %w", err)
	}
	return id, nil
}

func (r *Repository) AttachRobberyView(ctx context.Context, robberyID int64, viewID, messageRef, channelRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pending_robberies SET view_id = ?, message_ref = ?, channel_ref = ?
		WHERE robbery_id = ?`, viewID, messageRef, channelRef, robberyID)
	if err != nil {
		return fmt.Errorf("failed to attach robbery prompt: %w", err)
	}
	return nil
}

func (r *Repository) GetRobbery(ctx context.Context, tx *database.Tx, robberyID int64) (*Robbery, error) {
	rb, err := scanRobbery(r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+robberyColumns+` FROM pending_robberies WHERE robbery_id = ?`, robberyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load robbery: %w", err)
	}
	return rb, nil
}

// PendingRobberyFor reports whether the user is robber or victim in an open
// robbery.
func (r *Repository) PendingRobberyFor(ctx context.Context, tx *database.Tx, userID int64) (bool, error) {
	var n int
	err := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_robberies WHERE robber_id = ? OR victim_id = ?`, userID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending robberies: %w", err)
	}
	return n > 0, nil
}

// ClaimRobbery deletes the pending row. Only the first caller gets true,
// so a click and the expiry sweep cannot both settle it.
func (r *Repository) ClaimRobbery(ctx context.Context, tx *database.Tx, robberyID int64) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM pending_robberies WHERE robbery_id = ?`, robberyID)
	if err != nil {
		return false, fmt.Errorf("failed to claim robbery: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (r *Repository) ExpiredRobberies(ctx context.Context, now time.Time) ([]Robbery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+robberyColumns+` FROM pending_robberies WHERE expires_at <= ? ORDER BY robbery_id`,
		timefmt.Format(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired robberies: %w", err)
	}
	defer rows.Close()

	var out []Robbery
	for rows.Next() {
		rb, err := scanRobbery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan robbery: %w", err)
		}
		out = append(out, *rb)
	}
	return out, rows.Err()
}

// Cooldowns are keyed on the ordered pair so either side finds them.

func pair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

func (r *Repository) SetCooldown(ctx context.Context, tx *database.Tx, a, b int64, kind CooldownKind, expires time.Time) error {
	p1, p2 := pair(a, b)
	_, err := r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO pvp_cooldowns (player1_id, player2_id, cooldown_type, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (player1_id, player2_id, cooldown_type) DO UPDATE SET expires_at = excluded.expires_at`,
		p1, p2, string(kind), timefmt.Format(expires))
	if err != nil {
		return fmt.Errorf("failed to set %s cooldown: %w", kind, err)
	}
	return nil
}

// CooldownUntil returns when the pair's cooldown lapses, or nil if none is
// running at now.
func (r *Repository) CooldownUntil(ctx context.Context, tx *database.Tx, a, b int64, kind CooldownKind, now time.Time) (*time.Time, error) {
	p1, p2 := pair(a, b)
	var raw string
	err := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT expires_at FROM pvp_cooldowns
		WHERE player1_id = ? AND player2_id = ? AND cooldown_type = ? AND expires_at > ?`,
		p1, p2, string(kind), timefmt.Format(now)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check %s cooldown: %w", kind, err)
	}
	t, err := timefmt.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FleeCooldownActive reports whether the user is still shaking off any
// fight they fled from.
func (r *Repository) FleeCooldownActive(ctx context.Context, tx *database.Tx, userID int64, now time.Time) (bool, error) {
	var n int
	err := r.getExecutor(tx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pvp_cooldowns
		WHERE (player1_id = ? OR player2_id = ?) AND cooldown_type = 'flee' AND expires_at > ?`,
		userID, userID, timefmt.Format(now)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check flee cooldown: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) PurgeCooldowns(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pvp_cooldowns WHERE expires_at <= ?`, timefmt.Format(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge pvp cooldowns: %w", err)
	}
	return result.RowsAffected()
}

// Opt-outs. No row means the character is open to PvP.

func (r *Repository) SetOptOut(ctx context.Context, userID int64, out bool, now time.Time) error {
	var err error
	if out {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO pvp_opt_outs (user_id, opted_out_at) VALUES (?, ?)
			ON CONFLICT (user_id) DO NOTHING`, userID, timefmt.Format(now))
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM pvp_opt_outs WHERE user_id = ?`, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to update pvp opt-out: %w", err)
	}
	return nil
}

func (r *Repository) OptedOut(ctx context.Context, tx *database.Tx, userID int64) (bool, error) {
	var n int
	err := r.getExecutor(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pvp_opt_outs WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pvp opt-out: %w", err)
	}
	return n > 0, nil
}

// Respawns

// Respawn is a queued static NPC revival with the snapshot taken at death.
type Respawn struct {
	ID         int64
	NPCID      int64
	LocationID int64
	DueAt      time.Time
	Snapshot   world.NPC
}

func (r *Repository) QueueRespawn(ctx context.Context, tx *database.Tx, npc world.NPC, due time.Time) error {
	if npc.LocationID == nil {
		return fmt.Errorf("npc %d has no location to respawn at", npc.ID)
	}
	snapshot, err := json.Marshal(npc)
	if err != nil {
		return fmt.Errorf("failed to encode npc snapshot: %w", err)
	}
	_, err = r.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO npc_respawn_queue (original_npc_id, location_id, scheduled_respawn_time, npc_data)
		VALUES (?, ?, ?, ?)`, npc.ID, *npc.LocationID, timefmt.Format(due), string(snapshot))
	if err != nil {
		return fmt.Errorf("failed to queue npc respawn: %w", err)
	}
	return nil
}

func (r *Repository) DueRespawns(ctx context.Context, now time.Time) ([]Respawn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT respawn_id, original_npc_id, location_id, scheduled_respawn_time, npc_data
		FROM npc_respawn_queue WHERE scheduled_respawn_time <= ? ORDER BY respawn_id`, timefmt.Format(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due respawns: %w", err)
	}
	defer rows.Close()

	var out []Respawn
	for rows.Next() {
		var (
			rs        Respawn
			due, data string
		)
		if err := rows.Scan(&rs.ID, &rs.NPCID, &rs.LocationID, &due, &data); err != nil {
			return nil, fmt.Errorf("failed to scan respawn: %w", err)
		}
		if err := parseTimes(due, &rs.DueAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rs.Snapshot); err != nil {
			r.logger.Warn("Unreadable npc snapshot", "component", "combat_repository", "respawn_id", rs.ID, "error", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteRespawn(ctx context.Context, tx *database.Tx, respawnID int64) error {
	_, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM npc_respawn_queue WHERE respawn_id = ?`, respawnID)
	if err != nil {
		return fmt.Errorf("failed to dequeue respawn: %w", err)
	}
	return nil
}

// AdjustNPCCredits moves an NPC's purse by delta, floored at zero, and
// returns the new balance.
func (r *Repository) AdjustNPCCredits(ctx context.Context, tx *database.Tx, kind world.NPCKind, npcID int64, delta int) (int, error) {
	table := "static_npcs"
	if kind == world.NPCDynamic {
		table = "dynamic_npcs"
	}
	exec := r.getExecutor(tx)
	_, err := exec.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET credits = CASE WHEN credits + ? < 0 THEN 0 ELSE credits + ? END WHERE npc_id = ?`, table),
		delta, delta, npcID)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust npc credits: %w", err)
	}
	var left int
	if err := exec.QueryRowContext(ctx, fmt.Sprintf(`SELECT credits FROM %s WHERE npc_id = ?`, table), npcID).Scan(&left); err != nil {
		return 0, fmt.Errorf("failed to read npc credits: %w", err)
	}
	return left, nil
}
