// Package combat runs NPC fights, player duels and the robbery protocol.
// Fight state lives in the database so the counter-attack and cleanup
// loops can pick it up after a restart.
package combat

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"starlane-server/internal/casualty"
	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

// npcMaxHull is the hull a dynamic NPC ship spawns with.
const npcMaxHull = 100

type Service struct {
	repo     *Repository
	world    *world.Repository
	effects  *world.EffectChecker
	clock    *gametime.Service
	channels *gateway.Channels
	views    *gateway.Views
	casualty *casualty.Service
	dice     *dice.Roller
	cfg      config.CombatBalance
	logger   *slog.Logger
}

func NewService(
	repo *Repository,
	worldRepo *world.Repository,
	clock *gametime.Service,
	channels *gateway.Channels,
	views *gateway.Views,
	harm *casualty.Service,
	roller *dice.Roller,
	cfg config.CombatBalance,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		world:    worldRepo,
		effects:  world.NewEffectChecker(worldRepo),
		clock:    clock,
		channels: channels,
		views:    views,
		casualty: harm,
		dice:     roller,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) log(operation string) *slog.Logger {
	return s.logger.With("component", "combat_service", "operation", operation)
}

func (s *Service) Repository() *Repository {
	return s.repo
}

// Engagement is a freshly started NPC fight and its opening round.
type Engagement struct {
	Combat   NPCCombat
	NPC      world.NPC
	RepDelta int
	Round    *RoundResult

	attacker string
}

// Duel is a freshly started PvP fight and the attacker's opening blow.
type Duel struct {
	Combat PvPCombat
	Round  *RoundResult
}

type FleeResult struct {
	Escaped  bool
	Chance   int
	Roll     int
	Cost     int
	Opponent int64
}

// fightingSkill is the combat skill with any stims applied.
func (s *Service) fightingSkill(ctx context.Context, tx *database.Tx, c *world.Character, now time.Time) (int, error) {
	flags, err := s.effects.Character(ctx, tx, c.UserID, now)
	if err != nil {
		return 0, err
	}
	return c.Combat + flags.CombatBoost, nil
}

// readyToFight loads a character and checks it can start something.
func (s *Service) readyToFight(ctx context.Context, tx *database.Tx, userID int64) (*world.Character, error) {
	c, err := s.world.GetCharacter(ctx, tx, userID)
	if errors.Is(err, world.ErrCharacterNotFound) {
		return nil, errors.NotFoundf("You don't have a character.")
	}
	if err != nil {
		return nil, err
	}
	if !c.Alive || !c.LoggedIn {
		return nil, errors.Preconditionf("You are not logged in.")
	}
	if c.CurrentLocation == nil {
		return nil, errors.Preconditionf("You cannot fight while in transit.")
	}
	busy, err := s.repo.InCombat(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if busy || c.Status == world.StatusCombat {
		return nil, errors.Preconditionf("You are already in combat.")
	}
	return c, nil
}

// npcHere resolves the NPC a character can reach from where it stands:
// static NPCs on the ground, dynamic ships in space.
func (s *Service) npcHere(ctx context.Context, tx *database.Tx, c *world.Character, npcID int64) (*world.NPC, Type, error) {
	t := TypeFor(c)
	kind := world.NPCStatic
	if t == Space {
		kind = world.NPCDynamic
	}
	n, err := s.world.GetNPC(ctx, tx, kind, npcID)
	if errors.Is(err, world.ErrNPCNotFound) {
		return nil, t, errors.NotFoundf("There is nobody like that here.")
	}
	if err != nil {
		return nil, t, err
	}
	if !n.Alive || n.LocationID == nil || *n.LocationID != *c.CurrentLocation {
		return nil, t, errors.Preconditionf("%s is not here.", n.Name)
	}
	return n, t, nil
}

func waitSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// AttackNPC opens a fight with an NPC at the character's location and
// swings first.
func (s *Service) AttackNPC(ctx context.Context, userID, npcID int64) (*Engagement, error) {
	logger := s.log("attack_npc").With("user_id", userID, "npc_id", npcID)

	var eng Engagement
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		c, err := s.readyToFight(ctx, tx, userID)
		if err != nil {
			return err
		}
		n, t, err := s.npcHere(ctx, tx, c, npcID)
		if err != nil {
			return err
		}

		now := s.clock.WallNow()
		fight := NPCCombat{
			PlayerID:      userID,
			NPCID:         n.ID,
			NPCKind:       n.Kind,
			Type:          t,
			LocationID:    c.CurrentLocation,
			PlayerCanAct:  now,
			NextNPCAction: now.Add(s.npcDelay()),
			CreatedAt:     now,
		}
		if fight.ID, err = s.repo.CreateNPCCombat(ctx, tx, fight); err != nil {
			return err
		}
		if err := s.world.SetStatus(ctx, tx, userID, world.StatusCombat); err != nil {
			return err
		}
		eng.RepDelta = ReputationDelta(ActionAttack, n.Alignment)
		if _, err := s.world.AdjustReputation(ctx, tx, userID, *c.CurrentLocation, eng.RepDelta); err != nil {
			return err
		}
		eng.Combat, eng.NPC, eng.attacker = fight, *n, c.Name
		return nil
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) && !errors.IsType(err, errors.ErrorTypeNotFound) {
			logger.Error("Failed to start npc combat", "error", err)
		}
		return nil, err
	}

	logger.Info("NPC combat started", "combat_id", eng.Combat.ID, "type", eng.Combat.Type)
	s.channels.Post(ctx, *eng.Combat.LocationID, gateway.Embed{
		Title:       "Combat",
		Description: fmt.Sprintf("**%s** attacks **%s**.", eng.attacker, eng.NPC.Name),
		Color:       gateway.ColorDanger,
	}.WithField("Reputation", formatDelta(eng.RepDelta), true))

	eng.Round, err = s.npcRound(ctx, eng.Combat.ID)
	if err != nil {
		return nil, err
	}
	return &eng, nil
}

func (s *Service) npcDelay() time.Duration {
	return s.dice.Duration(time.Duration(s.cfg.NPCActionMinSeconds)*time.Second,
		time.Duration(s.cfg.NPCActionMaxSeconds)*time.Second)
}

func formatDelta(d int) string {
	if d > 0 {
		return fmt.Sprintf("+%d", d)
	}
	return fmt.Sprintf("%d", d)
}

// Fight takes the character's next swing in whatever fight it is in.
func (s *Service) Fight(ctx context.Context, userID int64) (*RoundResult, error) {
	fight, err := s.repo.NPCCombatFor(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if fight != nil {
		return s.npcRound(ctx, fight.ID)
	}
	duel, err := s.repo.PvPFor(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if duel != nil {
		return s.pvpRound(ctx, userID)
	}
	return nil, errors.Preconditionf("You are not in combat.")
}

func (s *Service) npcRound(ctx context.Context, combatID int64) (*RoundResult, error) {
	logger := s.log("npc_round").With("combat_id", combatID)

	var (
		res   RoundResult
		fight *NPCCombat
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		fight, err = s.repo.GetNPCCombat(ctx, tx, combatID)
		if err != nil {
			return err
		}
		if fight == nil {
			return errors.Preconditionf("You are not in combat.")
		}
		now := s.clock.WallNow()
		if wait := fight.PlayerCanAct.Sub(now); wait > 0 {
			return errors.Preconditionf("You must wait %d more seconds before attacking again.", waitSeconds(wait))
		}

		c, err := s.world.GetCharacter(ctx, tx, fight.PlayerID)
		if err != nil {
			return err
		}
		n, err := s.world.GetNPC(ctx, tx, fight.NPCKind, fight.NPCID)
		if err != nil && !errors.Is(err, world.ErrNPCNotFound) {
			return err
		}
		if n == nil || !n.Alive {
			// Someone else got there first.
			res.Ended = true
			if _, err := s.repo.EndNPCCombat(ctx, tx, fight.ID); err != nil {
				return err
			}
			return s.world.SetStatus(ctx, tx, fight.PlayerID, fight.Type.Status())
		}

		skill, err := s.fightingSkill(ctx, tx, c, now)
		if err != nil {
			return err
		}
		res.Contest = Roll(s.dice, skill, n.Combat)
		res.Resource = fight.Type.Resource()
		res.TargetName = n.Name
		res.TargetLeft, res.TargetMax = n.HP, n.MaxHP
		if fight.Type == Space {
			res.TargetLeft, res.TargetMax = n.Hull, npcMaxHull
		}
		if res.Contest.Hit() {
			res.Damage = PlayerDamage(s.dice, skill)
			if res.TargetLeft, err = s.world.DamageNPC(ctx, tx, n.Kind, n.ID, res.Damage, fight.Type == Space); err != nil {
				return err
			}
		}

		if res.TargetLeft > 0 {
			return s.repo.SetPlayerCanAct(ctx, tx, fight.ID, now.Add(s.cfg.PlayerCooldown()))
		}
		res.Ended, res.Killed, res.Winner = true, true, c.UserID
		return s.npcDefeated(ctx, tx, fight, n, now)
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) {
			logger.Error("Failed to run combat round", "error", err)
		}
		return nil, err
	}

	logger.Debug("Combat round", "hit", res.Contest.Hit(), "damage", res.Damage, "target_left", res.TargetLeft)
	if res.Killed && fight.LocationID != nil {
		s.channels.Post(ctx, *fight.LocationID, gateway.Embed{
			Title:       "Combat victory",
			Description: fmt.Sprintf("**%s** has been defeated.", res.TargetName),
			Color:       gateway.ColorDanger,
		})
	}
	return &res, nil
}

// npcDefeated kills the NPC, closes the fight, applies kill reputation and
// queues a respawn for static NPCs.
func (s *Service) npcDefeated(ctx context.Context, tx *database.Tx, fight *NPCCombat, n *world.NPC, now time.Time) error {
	if err := s.world.KillNPC(ctx, tx, n.Kind, n.ID); err != nil {
		return err
	}
	if _, err := s.repo.EndNPCCombat(ctx, tx, fight.ID); err != nil {
		return err
	}
	if err := s.world.SetStatus(ctx, tx, fight.PlayerID, fight.Type.Status()); err != nil {
		return err
	}
	if fight.LocationID != nil {
		if _, err := s.world.AdjustReputation(ctx, tx, fight.PlayerID, *fight.LocationID,
			ReputationDelta(ActionKill, n.Alignment)); err != nil {
			return err
		}
	}
	if n.Kind != world.NPCStatic {
		return nil
	}
	delay := s.dice.Duration(time.Duration(s.cfg.RespawnMinHours)*time.Hour, time.Duration(s.cfg.RespawnMaxHours)*time.Hour)
	return s.repo.QueueRespawn(ctx, tx, *n, now.Add(delay))
}

// CounterAttacks lets every NPC whose action time has passed strike back.
// Returns how many acted.
func (s *Service) CounterAttacks(ctx context.Context) (int, error) {
	due, err := s.repo.DueNPCActions(ctx, s.clock.WallNow())
	if err != nil {
		return 0, err
	}
	acted := 0
	for _, fight := range due {
		if err := ctx.Err(); err != nil {
			return acted, err
		}
		if _, err := s.counterAttack(ctx, fight.ID); err != nil {
			s.log("counter_attacks").Error("NPC counter-attack failed", "combat_id", fight.ID, "error", err)
			continue
		}
		acted++
	}
	return acted, nil
}

func (s *Service) counterAttack(ctx context.Context, combatID int64) (*RoundResult, error) {
	var (
		res   RoundResult
		fight *NPCCombat
		out   *casualty.Outcome
		name  string
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		fight, err = s.repo.GetNPCCombat(ctx, tx, combatID)
		if err != nil || fight == nil {
			return err
		}
		now := s.clock.WallNow()
		if fight.NextNPCAction.After(now) {
			fight = nil
			return nil
		}

		c, err := s.world.GetCharacter(ctx, tx, fight.PlayerID)
		if err != nil {
			return err
		}
		n, err := s.world.GetNPC(ctx, tx, fight.NPCKind, fight.NPCID)
		if err != nil && !errors.Is(err, world.ErrNPCNotFound) {
			return err
		}
		if !c.Alive || n == nil || !n.Alive {
			res.Ended = true
			if _, err := s.repo.EndNPCCombat(ctx, tx, fight.ID); err != nil {
				return err
			}
			if !c.Alive {
				return nil
			}
			return s.world.SetStatus(ctx, tx, c.UserID, fight.Type.Status())
		}
		name = c.Name

		skill, err := s.fightingSkill(ctx, tx, c, now)
		if err != nil {
			return err
		}
		res.Contest = Roll(s.dice, n.Combat, skill)
		res.Resource = fight.Type.Resource()
		res.TargetName = c.Name
		res.TargetLeft, res.TargetMax = c.HP, c.MaxHP
		if res.Contest.Hit() {
			res.Damage = NPCDamage(s.dice, n.Combat)
			if fight.Type == Space {
				if out, err = s.casualty.HarmTx(ctx, tx, c.UserID, 0, res.Damage); err != nil {
					return err
				}
				res.TargetLeft = out.Hull
			} else {
				if out, err = s.casualty.HarmTx(ctx, tx, c.UserID, res.Damage, 0); err != nil {
					return err
				}
				res.TargetLeft = out.HP
			}
		}

		switch {
		case out != nil && out.Died:
			// Death already cleared the fight.
			res.Ended, res.Killed = true, true
			return nil
		case res.Damage > 0 && res.TargetLeft <= 0:
			// A wrecked hull ends the fight without killing the pilot.
			res.Ended = true
			if _, err := s.repo.EndNPCCombat(ctx, tx, fight.ID); err != nil {
				return err
			}
			return s.world.SetStatus(ctx, tx, c.UserID, fight.Type.Status())
		}
		return s.repo.SetNextNPCAction(ctx, tx, fight.ID, now.Add(s.npcDelay()))
	})
	if err != nil || fight == nil {
		return nil, err
	}

	s.casualty.Settle(ctx, fight.PlayerID, out, fmt.Sprintf("killed in combat with an NPC near %s", name))
	if fight.LocationID != nil && res.Contest.Attack > 0 {
		embed := gateway.Embed{Title: "NPC counter-attack", Color: gateway.ColorWarning}
		if res.Damage > 0 {
			embed.Color = gateway.ColorDanger
			embed = embed.WithField("Hit", fmt.Sprintf("**%s** takes %d %s damage.", name, res.Damage, res.Resource), false)
		} else {
			embed = embed.WithField("Miss", fmt.Sprintf("The attack on **%s** goes wide.", name), false)
		}
		embed = embed.WithField(res.Resource, fmt.Sprintf("%d", max(0, res.TargetLeft)), true)
		s.channels.Post(ctx, *fight.LocationID, embed)
	}
	return &res, nil
}

// Flee tries to break off the current fight. NPC fights are a skill roll;
// PvP costs credits and always works.
func (s *Service) Flee(ctx context.Context, userID int64) (*FleeResult, error) {
	fight, err := s.repo.NPCCombatFor(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if fight != nil {
		return s.fleeNPC(ctx, fight.ID)
	}
	duel, err := s.repo.PvPFor(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if duel != nil {
		return s.fleePvP(ctx, userID)
	}
	return nil, errors.Preconditionf("You are not in combat.")
}

func (s *Service) fleeNPC(ctx context.Context, combatID int64) (*FleeResult, error) {
	var (
		res   FleeResult
		fight *NPCCombat
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		if fight, err = s.repo.GetNPCCombat(ctx, tx, combatID); err != nil {
			return err
		}
		if fight == nil {
			return errors.Preconditionf("You are not in combat.")
		}
		c, err := s.world.GetCharacter(ctx, tx, fight.PlayerID)
		if err != nil {
			return err
		}
		now := s.clock.WallNow()
		res.Chance = FleeChance(FleeSkill(c, fight.Type))
		res.Roll = s.dice.D100()
		res.Escaped = res.Roll < res.Chance
		if !res.Escaped {
			return s.repo.SetPlayerCanAct(ctx, tx, fight.ID, now.Add(s.cfg.PlayerCooldown()))
		}
		if _, err := s.repo.EndNPCCombat(ctx, tx, fight.ID); err != nil {
			return err
		}
		return s.world.SetStatus(ctx, tx, c.UserID, fight.Type.Status())
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) {
			s.log("flee_npc").Error("Failed to flee", "combat_id", combatID, "error", err)
		}
		return nil, err
	}
	s.log("flee_npc").Info("Flee attempt", "user_id", fight.PlayerID, "escaped", res.Escaped, "chance", res.Chance, "roll", res.Roll)
	return &res, nil
}

func (s *Service) fleePvP(ctx context.Context, userID int64) (*FleeResult, error) {
	var (
		res  FleeResult
		duel *PvPCombat
		name string
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		if duel, err = s.repo.PvPFor(ctx, tx, userID); err != nil {
			return err
		}
		if duel == nil {
			return errors.Preconditionf("You are not in combat.")
		}
		c, err := s.world.GetCharacter(ctx, tx, userID)
		if err != nil {
			return err
		}
		name = c.Name
		now := s.clock.WallNow()
		res.Escaped, res.Chance, res.Opponent = true, 100, duel.Opponent(userID)
		res.Cost = PvPFleeCost(c.Money, s.cfg.PvPFleeMinCost)
		if res.Cost > 0 {
			if err := s.world.Spend(ctx, tx, userID, res.Cost); err != nil {
				return err
			}
		}
		if _, err := s.repo.EndPvP(ctx, tx, duel.ID); err != nil {
			return err
		}
		for _, id := range []int64{duel.AttackerID, duel.DefenderID} {
			if err := s.world.SetStatus(ctx, tx, id, duel.Type.Status()); err != nil {
				return err
			}
		}
		return s.repo.SetCooldown(ctx, tx, userID, res.Opponent, CooldownFlee, now.Add(s.cfg.FleeCooldown()))
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) {
			s.log("flee_pvp").Error("Failed to flee duel", "user_id", userID, "error", err)
		}
		return nil, err
	}

	s.log("flee_pvp").Info("Fled duel", "user_id", userID, "opponent", res.Opponent, "cost", res.Cost)
	dm := gateway.Embed{
		Title:       "Opponent fled",
		Description: fmt.Sprintf("**%s** has fled from combat with you.", name),
		Color:       gateway.ColorWarning,
	}
	if err := s.channels.Gateway().DirectMessage(ctx, res.Opponent, dm); err != nil {
		s.log("flee_pvp").Warn("Failed to notify opponent", "user_id", res.Opponent, "error", err)
	}
	return &res, nil
}

// checkDuel holds the symmetric eligibility rules shared by duels and
// robberies.
func (s *Service) checkDuel(ctx context.Context, tx *database.Tx, attackerID, targetID int64, now time.Time) (*world.Character, *world.Character, error) {
	if attackerID == targetID {
		return nil, nil, errors.Preconditionf("You cannot target yourself.")
	}
	a, err := s.readyToFight(ctx, tx, attackerID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.world.GetCharacter(ctx, tx, targetID)
	if errors.Is(err, world.ErrCharacterNotFound) {
		return nil, nil, errors.NotFoundf("That player has no character.")
	}
	if err != nil {
		return nil, nil, err
	}
	if !b.Alive || !b.LoggedIn || b.CurrentLocation == nil || *b.CurrentLocation != *a.CurrentLocation {
		return nil, nil, errors.Preconditionf("%s is not here.", b.Name)
	}
	busy, err := s.repo.InCombat(ctx, tx, targetID)
	if err != nil {
		return nil, nil, err
	}
	if busy || b.Status == world.StatusCombat {
		return nil, nil, errors.Preconditionf("%s is already in combat.", b.Name)
	}
	if a.Docked() != b.Docked() {
		return nil, nil, errors.Preconditionf("You and %s are not in the same place.", b.Name)
	}

	until, err := s.repo.CooldownUntil(ctx, tx, attackerID, targetID, CooldownFlee, now)
	if err != nil {
		return nil, nil, err
	}
	if until != nil {
		return nil, nil, errors.Preconditionf("You cannot engage %s again for %d minutes.", b.Name,
			int(math.Ceil(until.Sub(now).Minutes())))
	}

	aOut, err := s.repo.OptedOut(ctx, tx, attackerID)
	if err != nil {
		return nil, nil, err
	}
	bOut, err := s.repo.OptedOut(ctx, tx, targetID)
	if err != nil {
		return nil, nil, err
	}
	if !Engageable(a.Alignment, b.Alignment, aOut, bOut) {
		if aOut {
			return nil, nil, errors.Preconditionf("You have opted out of PvP.")
		}
		return nil, nil, errors.Preconditionf("%s has opted out of PvP.", b.Name)
	}
	return a, b, nil
}

// AttackPlayer opens a duel. The attacker acts first.
func (s *Service) AttackPlayer(ctx context.Context, attackerID, defenderID int64) (*Duel, error) {
	logger := s.log("attack_player").With("attacker_id", attackerID, "defender_id", defenderID)

	var (
		duel  PvPCombat
		names [2]string
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		now := s.clock.WallNow()
		a, b, err := s.checkDuel(ctx, tx, attackerID, defenderID, now)
		if err != nil {
			return err
		}
		names = [2]string{a.Name, b.Name}
		duel = PvPCombat{
			AttackerID:     attackerID,
			DefenderID:     defenderID,
			LocationID:     a.CurrentLocation,
			Type:           TypeFor(a),
			AttackerCanAct: now,
			DefenderCanAct: now,
			Turn:           SideAttacker,
			LastAction:     now,
			CreatedAt:      now,
		}
		if duel.ID, err = s.repo.CreatePvP(ctx, tx, duel); err != nil {
			return err
		}
		for _, id := range []int64{attackerID, defenderID} {
			if err := s.world.SetStatus(ctx, tx, id, world.StatusCombat); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) && !errors.IsType(err, errors.ErrorTypeNotFound) {
			logger.Error("Failed to start duel", "error", err)
		}
		return nil, err
	}

	logger.Info("Duel started", "combat_id", duel.ID, "type", duel.Type)
	s.channels.Post(ctx, *duel.LocationID, gateway.Embed{
		Title:       "PvP combat",
		Description: fmt.Sprintf("**%s** has attacked **%s**!", names[0], names[1]),
		Color:       gateway.ColorDanger,
		Mentions:    []int64{defenderID},
	})

	round, err := s.pvpRound(ctx, attackerID)
	if err != nil {
		return nil, err
	}
	return &Duel{Combat: duel, Round: round}, nil
}

func (s *Service) pvpRound(ctx context.Context, userID int64) (*RoundResult, error) {
	logger := s.log("pvp_round").With("user_id", userID)

	var (
		res       RoundResult
		duel      *PvPCombat
		out       *casualty.Outcome
		actorName string
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		if duel, err = s.repo.PvPFor(ctx, tx, userID); err != nil {
			return err
		}
		if duel == nil {
			return errors.Preconditionf("You are not in combat.")
		}
		actor, err := s.world.GetCharacter(ctx, tx, userID)
		if err != nil {
			return err
		}
		target, err := s.world.GetCharacter(ctx, tx, duel.Opponent(userID))
		if err != nil {
			return err
		}

		side := duel.SideOf(userID)
		if duel.Turn != side {
			return errors.Preconditionf("It's %s's turn to act.", target.Name)
		}
		now := s.clock.WallNow()
		if wait := duel.CanActAt(side).Sub(now); wait > 0 {
			return errors.Preconditionf("You must wait %d more seconds before attacking again.", waitSeconds(wait))
		}

		as, err := s.fightingSkill(ctx, tx, actor, now)
		if err != nil {
			return err
		}
		ts, err := s.fightingSkill(ctx, tx, target, now)
		if err != nil {
			return err
		}
		actorName = actor.Name
		res.Contest = Roll(s.dice, as, ts)
		res.Resource = duel.Type.Resource()
		res.TargetName = target.Name
		res.TargetLeft, res.TargetMax = target.HP, target.MaxHP
		if duel.Type == Space {
			ship, err := s.world.GetActiveShip(ctx, tx, target.UserID)
			switch {
			case err == nil:
				res.TargetLeft, res.TargetMax = ship.HullIntegrity, ship.MaxHull
			case errors.Is(err, world.ErrNoActiveShip):
				res.TargetLeft, res.TargetMax = 0, 0
			default:
				return err
			}
		}

		if res.Contest.Hit() {
			res.Damage = PlayerDamage(s.dice, as)
			if duel.Type == Space {
				if out, err = s.casualty.HarmTx(ctx, tx, target.UserID, 0, res.Damage); err != nil {
					return err
				}
				res.TargetLeft = out.Hull
			} else {
				if out, err = s.casualty.HarmTx(ctx, tx, target.UserID, res.Damage, 0); err != nil {
					return err
				}
				res.TargetLeft = out.HP
			}
		}

		if res.Damage > 0 && res.TargetLeft <= 0 {
			res.Ended, res.Winner = true, userID
			res.Killed = out != nil && out.Died
			if res.Killed {
				// Death already cleared the duel and restored the winner.
				return nil
			}
			if _, err := s.repo.EndPvP(ctx, tx, duel.ID); err != nil {
				return err
			}
			for _, id := range []int64{duel.AttackerID, duel.DefenderID} {
				if err := s.world.SetStatus(ctx, tx, id, duel.Type.Status()); err != nil {
					return err
				}
			}
			return nil
		}
		return s.repo.RecordPvPAction(ctx, tx, duel.ID, side, now.Add(s.cfg.PlayerCooldown()), now)
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) {
			logger.Error("Failed to run duel round", "error", err)
		}
		return nil, err
	}

	logger.Debug("Duel round", "combat_id", duel.ID, "hit", res.Contest.Hit(), "damage", res.Damage)
	s.casualty.Settle(ctx, duel.Opponent(userID), out, fmt.Sprintf("killed by %s in combat", actorName))
	if res.Ended && duel.LocationID != nil {
		verb := "defeated"
		if res.Killed {
			verb = "killed"
		}
		s.channels.Post(ctx, *duel.LocationID, gateway.Embed{
			Title:       "PvP combat over",
			Description: fmt.Sprintf("**%s** has %s **%s**.", actorName, verb, res.TargetName),
			Color:       gateway.ColorDanger,
		})
	}
	return &res, nil
}

// SetPvPOpt opts a character out of (or back into) consensual PvP.
func (s *Service) SetPvPOpt(ctx context.Context, userID int64, optOut bool) error {
	c, err := s.world.GetCharacter(ctx, nil, userID)
	if errors.Is(err, world.ErrCharacterNotFound) {
		return errors.NotFoundf("You don't have a character.")
	}
	if err != nil {
		return err
	}
	busy, err := s.repo.InCombat(ctx, nil, userID)
	if err != nil {
		return err
	}
	if busy {
		return errors.Preconditionf("You cannot change your PvP status during combat.")
	}
	if err := s.repo.SetOptOut(ctx, userID, optOut, s.clock.WallNow()); err != nil {
		s.log("set_pvp_opt").Error("Failed to update opt-out", "user_id", userID, "error", err)
		return err
	}
	s.log("set_pvp_opt").Info("PvP preference changed", "user_id", userID, "name", c.Name, "opted_out", optOut)
	return nil
}

// PvPOptedOut reports the character's current PvP preference.
func (s *Service) PvPOptedOut(ctx context.Context, userID int64) (bool, error) {
	return s.repo.OptedOut(ctx, nil, userID)
}

// RespawnDue brings back static NPCs whose respawn time has passed.
func (s *Service) RespawnDue(ctx context.Context) (int, error) {
	due, err := s.repo.DueRespawns(ctx, s.clock.WallNow())
	if err != nil {
		return 0, err
	}
	revived := 0
	for _, rs := range due {
		err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
			ok, err := s.world.ReviveNPC(ctx, tx, rs.NPCID)
			if err != nil {
				return err
			}
			if !ok {
				if _, err := s.world.GetNPC(ctx, tx, world.NPCStatic, rs.NPCID); errors.Is(err, world.ErrNPCNotFound) && rs.Snapshot.Name != "" {
					// The original row is gone; rebuild from the snapshot.
					n := rs.Snapshot
					n.LocationID, n.HP = &rs.LocationID, n.MaxHP
					if _, err := s.world.CreateStaticNPC(ctx, tx, n); err != nil {
						return err
					}
					ok = true
				}
			}
			if ok {
				revived++
			}
			return s.repo.DeleteRespawn(ctx, tx, rs.ID)
		})
		if err != nil {
			s.log("respawn_due").Error("Failed to respawn npc", "respawn_id", rs.ID, "npc_id", rs.NPCID, "error", err)
		}
	}
	if revived > 0 {
		s.log("respawn_due").Info("NPCs respawned", "count", revived)
	}
	return revived, nil
}

// CleanupCooldowns drops flee and robbery cooldowns that have lapsed.
func (s *Service) CleanupCooldowns(ctx context.Context) (int64, error) {
	return s.repo.PurgeCooldowns(ctx, s.clock.WallNow())
}
