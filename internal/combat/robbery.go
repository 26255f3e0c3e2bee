package combat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"starlane-server/internal/casualty"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

const (
	choiceSurrender = "surrender"
	choiceFight     = "fight"
)

// RobNPC tries to pick an NPC's purse. A failed attempt starts a fight.
func (s *Service) RobNPC(ctx context.Context, userID, npcID int64) (*NPCRobResult, error) {
	logger := s.log("rob_npc").With("user_id", userID, "npc_id", npcID)

	var (
		res  NPCRobResult
		name string
		npc  *world.NPC
		loc  int64
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		c, err := s.readyToFight(ctx, tx, userID)
		if err != nil {
			return err
		}
		n, t, err := s.npcHere(ctx, tx, c, npcID)
		if err != nil {
			return err
		}
		name, npc, loc = c.Name, n, *c.CurrentLocation
		now := s.clock.WallNow()

		res.Chance = NPCRobChance(c.Combat)
		res.Roll = s.dice.D100()
		res.Success = res.Roll <= res.Chance

		if res.Success {
			res.RepDelta = ReputationDelta(ActionRobSuccess, n.Alignment)
			if n.Credits > 0 {
				res.Stolen = min(n.Credits, s.dice.Between(max(1, n.Credits/10), max(1, n.Credits/3)))
				if _, err := s.repo.AdjustNPCCredits(ctx, tx, n.Kind, n.ID, -res.Stolen); err != nil {
					return err
				}
				if _, err := s.world.AdjustMoney(ctx, tx, userID, res.Stolen); err != nil {
					return err
				}
			}
		} else {
			res.RepDelta = ReputationDelta(ActionRobFail, n.Alignment)
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
			res.Combat = &fight
		}
		_, err = s.world.AdjustReputation(ctx, tx, userID, loc, res.RepDelta)
		return err
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) && !errors.IsType(err, errors.ErrorTypeNotFound) {
			logger.Error("Failed to rob npc", "error", err)
		}
		return nil, err
	}

	logger.Info("NPC robbery", "success", res.Success, "chance", res.Chance, "roll", res.Roll, "stolen", res.Stolen)
	if !res.Success {
		s.channels.Post(ctx, loc, gateway.Embed{
			Title:       "Robbery foiled",
			Description: fmt.Sprintf("**%s** caught **%s** reaching for their credits. A fight breaks out!", npc.Name, name),
			Color:       gateway.ColorDanger,
		})
	}
	return &res, nil
}

// RobPlayer puts a demand to another player. The victim gets a
// Surrender/Fight prompt in the location channel; silence counts as
// surrender once the demand expires.
func (s *Service) RobPlayer(ctx context.Context, robberID, victimID int64) (*Robbery, error) {
	logger := s.log("rob_player").With("robber_id", robberID, "victim_id", victimID)

	var (
		rb    Robbery
		names [2]string
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		now := s.clock.WallNow()
		robber, victim, err := s.checkDuel(ctx, tx, robberID, victimID, now)
		if err != nil {
			return err
		}
		pending, err := s.repo.PendingRobberyFor(ctx, tx, robberID)
		if err != nil {
			return err
		}
		if pending {
			return errors.Preconditionf("You already have a robbery under way.")
		}
		if pending, err = s.repo.PendingRobberyFor(ctx, tx, victimID); err != nil {
			return err
		}
		if pending {
			return errors.Preconditionf("%s is already being robbed.", victim.Name)
		}
		until, err := s.repo.CooldownUntil(ctx, tx, robberID, victimID, CooldownRobbery, now)
		if err != nil {
			return err
		}
		if until != nil {
			return errors.Preconditionf("You robbed %s too recently. Try again in %s.", victim.Name,
				until.Sub(now).Round(time.Minute))
		}

		names = [2]string{robber.Name, victim.Name}
		rb = Robbery{
			RobberID:   robberID,
			VictimID:   victimID,
			LocationID: robber.CurrentLocation,
			ExpiresAt:  now.Add(s.cfg.RobberyExpiry()),
		}
		rb.ID, err = s.repo.CreateRobbery(ctx, tx, rb)
		if errors.Is(err, ErrRobberyPending) {
			return errors.Conflictf("You already have a demand out on %s.", victim.Name)
		}
		return err
	})
	if err != nil {
		if errors.GetType(err) == errors.ErrorTypeInternal {
			logger.Error("Failed to open robbery", "error", err)
		}
		return nil, err
	}

	robberyID := rb.ID
	rb.ViewID = s.views.Open("robbery", []int64{victimID}, s.cfg.RobberyExpiry(), func(ctx context.Context, res gateway.Resolution) error {
		outcome := RobberySurrendered
		switch {
		case res.TimedOut:
			outcome = RobberyAutoSurrendered
		case res.Choice == choiceFight:
			outcome = RobberyRobberWon
		}
		_, err := s.settleRobbery(ctx, robberyID, outcome)
		return err
	})

	channel, err := s.channels.Location(ctx, *rb.LocationID)
	if err != nil {
		logger.Warn("No location channel for robbery prompt", "error", err)
		return &rb, nil
	}
	view := gateway.View{
		ID: rb.ViewID,
		Embed: gateway.Embed{
			Title: "Robbery!",
			Description: fmt.Sprintf("**%s** is robbing **%s**! Hand over your valuables or fight back.",
				names[0], names[1]),
			Color:    gateway.ColorDanger,
			Footer:   fmt.Sprintf("Respond within %s or you surrender automatically.", s.cfg.RobberyExpiry()),
			Mentions: []int64{victimID},
		},
		Buttons: []gateway.Button{
			{Choice: choiceSurrender, Label: "Surrender", Style: gateway.ButtonSecondary},
			{Choice: choiceFight, Label: "Fight back", Style: gateway.ButtonDanger},
		},
		Users: []int64{victimID},
	}
	msg, err := s.channels.Gateway().PresentView(ctx, channel, view)
	if err != nil {
		logger.Warn("Failed to present robbery prompt", "error", err)
		return &rb, nil
	}
	rb.MessageRef, rb.ChannelRef = msg.ID, string(channel)
	if err := s.repo.AttachRobberyView(ctx, rb.ID, rb.ViewID, rb.MessageRef, rb.ChannelRef); err != nil {
		logger.Error("Failed to record robbery prompt", "error", err)
	}

	logger.Info("Robbery opened", "robbery_id", rb.ID, "expires_at", rb.ExpiresAt)
	return &rb, nil
}

// ExpireRobberies settles every demand past its expiry as an automatic
// surrender. The claim in settleRobbery keeps this from racing the prompt
// timeout.
func (s *Service) ExpireRobberies(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpiredRobberies(ctx, s.clock.WallNow())
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, rb := range expired {
		if rb.ViewID != "" {
			s.views.Cancel(rb.ViewID)
		}
		res, err := s.settleRobbery(ctx, rb.ID, RobberyAutoSurrendered)
		if err != nil {
			s.log("expire_robberies").Error("Failed to settle expired robbery", "robbery_id", rb.ID, "error", err)
			continue
		}
		if res != nil {
			settled++
		}
	}
	return settled, nil
}

// settleRobbery resolves a pending robbery once. A fight choice is rolled
// here, so the outcome passed in only distinguishes surrender from fight.
// Returns nil if someone else settled it first.
func (s *Service) settleRobbery(ctx context.Context, robberyID int64, outcome RobberyOutcome) (*RobberyResult, error) {
	logger := s.log("settle_robbery").With("robbery_id", robberyID)

	var (
		res            *RobberyResult
		rb             *Robbery
		out            *casualty.Outcome
		robber, victim *world.Character
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		if rb, err = s.repo.GetRobbery(ctx, tx, robberyID); err != nil || rb == nil {
			return err
		}
		claimed, err := s.repo.ClaimRobbery(ctx, tx, robberyID)
		if err != nil || !claimed {
			return err
		}
		if robber, err = s.world.GetCharacter(ctx, tx, rb.RobberID); err != nil {
			return err
		}
		if victim, err = s.world.GetCharacter(ctx, tx, rb.VictimID); err != nil {
			return err
		}
		now := s.clock.WallNow()

		if outcome == RobberyRobberWon || outcome == RobberyVictimWon {
			res, out, err = s.robberyFight(ctx, tx, robber, victim, now)
		} else {
			res, out, err = s.surrender(ctx, tx, robber, victim)
			if res != nil {
				res.Outcome = outcome
			}
		}
		if err != nil {
			return err
		}
		return s.repo.SetCooldown(ctx, tx, rb.RobberID, rb.VictimID, CooldownRobbery, now.Add(s.cfg.RobberyCooldown()))
	})
	if err != nil {
		logger.Error("Failed to settle robbery", "error", err)
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	logger.Info("Robbery settled", "outcome", res.Outcome, "credits", res.Loot.Credits, "items", len(res.Loot.Items))
	loser := victim
	if res.Outcome == RobberyVictimWon {
		loser = robber
	}
	s.casualty.Settle(ctx, loser.UserID, out, "killed during a robbery")

	embed := robberyEmbed(res, robber.Name, victim.Name)
	if rb.ChannelRef != "" && rb.MessageRef != "" {
		msg := gateway.MessageRef{Channel: gateway.ChannelRef(rb.ChannelRef), ID: rb.MessageRef}
		if err := s.channels.Gateway().Edit(ctx, msg, embed); err != nil {
			logger.Warn("Failed to update robbery prompt", "error", err)
		}
	} else if rb.LocationID != nil {
		s.channels.Post(ctx, *rb.LocationID, embed)
	}
	return res, nil
}

// surrender hands over 20-50% of the victim's credits (at least 100, or
// everything if poorer), up to half of 1-3 random item stacks, and with a
// 10% chance a few HP from rough handling.
func (s *Service) surrender(ctx context.Context, tx *database.Tx, robber, victim *world.Character) (*RobberyResult, *casualty.Outcome, error) {
	res := &RobberyResult{}

	take := victim.Money * s.dice.Between(20, 50) / 100
	take = min(victim.Money, max(take, min(100, victim.Money)))
	if take > 0 {
		if _, err := s.world.AdjustMoney(ctx, tx, victim.UserID, -take); err != nil {
			return nil, nil, err
		}
		if _, err := s.world.AdjustMoney(ctx, tx, robber.UserID, take); err != nil {
			return nil, nil, err
		}
	}
	res.Loot.Credits = take

	items, err := s.world.Inventory(ctx, tx, victim.UserID)
	if err != nil {
		return nil, nil, err
	}
	for n := min(len(items), s.dice.Between(1, 3)); n > 0; n-- {
		i := s.dice.IntN(len(items))
		item := items[i]
		items = append(items[:i], items[i+1:]...)

		qty := s.dice.Between(1, max(1, item.Quantity/2))
		moved, err := s.world.TransferItem(ctx, tx, victim.UserID, robber.UserID, item, qty)
		if err != nil {
			return nil, nil, err
		}
		if moved > 0 {
			item.Quantity = moved
			res.Loot.Items = append(res.Loot.Items, item)
		}
	}

	var out *casualty.Outcome
	if s.dice.Chance(0.1) {
		res.Loot.HPLoss = s.dice.Between(5, 15)
		if out, err = s.casualty.HarmTx(ctx, tx, victim.UserID, res.Loot.HPLoss, 0); err != nil {
			return nil, nil, err
		}
	}
	return res, out, nil
}

// robberyFight rolls a contested d20 + combat. The winner lands one blow
// and the loser forfeits 90% of credits and of every item stack.
func (s *Service) robberyFight(ctx context.Context, tx *database.Tx, robber, victim *world.Character, now time.Time) (*RobberyResult, *casualty.Outcome, error) {
	rs, err := s.fightingSkill(ctx, tx, robber, now)
	if err != nil {
		return nil, nil, err
	}
	vs, err := s.fightingSkill(ctx, tx, victim, now)
	if err != nil {
		return nil, nil, err
	}
	contest := Roll(s.dice, rs, vs)
	res := &RobberyResult{Outcome: RobberyRobberWon, Contest: &contest}
	winner, loser, skill := robber, victim, rs
	if !contest.Hit() {
		res.Outcome = RobberyVictimWon
		winner, loser, skill = victim, robber, vs
	}

	res.Damage = s.dice.Between(10, 20) + skill/2
	hp, hull := res.Damage, 0
	if TypeFor(loser) == Space {
		hp, hull = 0, res.Damage
	}
	out, err := s.casualty.HarmTx(ctx, tx, loser.UserID, hp, hull)
	if err != nil {
		return nil, nil, err
	}

	take := loser.Money * 9 / 10
	if take > 0 {
		if _, err := s.world.AdjustMoney(ctx, tx, loser.UserID, -take); err != nil {
			return nil, nil, err
		}
		if _, err := s.world.AdjustMoney(ctx, tx, winner.UserID, take); err != nil {
			return nil, nil, err
		}
	}
	res.Loot.Credits = take

	items, err := s.world.Inventory(ctx, tx, loser.UserID)
	if err != nil {
		return nil, nil, err
	}
	for _, item := range items {
		qty := item.Quantity * 9 / 10
		if qty == 0 {
			continue
		}
		moved, err := s.world.TransferItem(ctx, tx, loser.UserID, winner.UserID, item, qty)
		if err != nil {
			return nil, nil, err
		}
		item.Quantity = moved
		res.Loot.Items = append(res.Loot.Items, item)
	}
	return res, out, nil
}

func robberyEmbed(res *RobberyResult, robber, victim string) gateway.Embed {
	e := gateway.Embed{Title: "Robbery", Color: gateway.ColorWarning}
	switch res.Outcome {
	case RobberySurrendered:
		e.Description = fmt.Sprintf("**%s** surrendered to **%s**.", victim, robber)
	case RobberyAutoSurrendered:
		e.Description = fmt.Sprintf("**%s** froze and **%s** took what they wanted.", victim, robber)
	case RobberyRobberWon:
		e.Color = gateway.ColorDanger
		e.Description = fmt.Sprintf("**%s** fought back but **%s** overpowered them.", victim, robber)
	case RobberyVictimWon:
		e.Color = gateway.ColorSuccess
		e.Description = fmt.Sprintf("**%s** fought off **%s** and took their valuables.", victim, robber)
	}
	if res.Contest != nil {
		e = e.WithField("Rolls", fmt.Sprintf("%s %d vs %s %d", robber, res.Contest.Attack, victim, res.Contest.Defense), false)
		e = e.WithField("Damage", fmt.Sprintf("%d", res.Damage), true)
	}
	e = e.WithField("Credits", fmt.Sprintf("%d", res.Loot.Credits), true)
	if len(res.Loot.Items) > 0 {
		parts := make([]string, len(res.Loot.Items))
		for i, it := range res.Loot.Items {
			parts[i] = fmt.Sprintf("%dx %s", it.Quantity, it.Name)
		}
		e = e.WithField("Items", strings.Join(parts, ", "), false)
	}
	if res.Loot.HPLoss > 0 {
		e = e.WithField("Injury", fmt.Sprintf("%d HP", res.Loot.HPLoss), true)
	}
	return e
}
