package adapter

import (
	"context"
	"fmt"
	"strconv"

	"starlane-server/internal/combat"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
)

// idArg reads a positive numeric argument. Player targets arrive as user
// ids once the platform has resolved the mention.
func idArg(in gateway.Interaction, name, what string) (int64, error) {
	raw := in.Arg(name)
	if raw == "" {
		return 0, errors.Validationf("Choose a %s.", what)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validationf("%q is not a valid %s.", raw, what)
	}
	return id, nil
}

func roundEmbed(title string, r *combat.RoundResult) gateway.Embed {
	e := gateway.Embed{Title: title, Color: gateway.ColorDanger}
	roll := fmt.Sprintf("%d vs %d", r.Contest.Attack, r.Contest.Defense)
	if !r.Contest.Hit() {
		e.Description = fmt.Sprintf("The attack on **%s** misses.", r.TargetName)
		return e.WithField("Roll", roll, true)
	}

	e.Description = fmt.Sprintf("Hit **%s** for %d %s.", r.TargetName, r.Damage, r.Resource)
	e = e.WithField("Roll", roll, true).
		WithField(r.TargetName, fmt.Sprintf("%d/%d %s", r.TargetLeft, r.TargetMax, r.Resource), true)
	switch {
	case r.Killed:
		e = e.WithField("Result", r.TargetName+" is killed.", false)
	case r.Ended:
		e = e.WithField("Result", "The fight is over.", false)
	}
	return e
}

func (a *Adapter) attackNPC(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	npcID, err := idArg(in, "npc", "target")
	if err != nil {
		return nil, err
	}
	eng, err := a.svc.Combat.AttackNPC(ctx, in.UserID, npcID)
	if err != nil {
		return nil, err
	}
	e := roundEmbed("Combat with "+eng.NPC.Name, eng.Round)
	return embedReply(e, false), nil
}

func (a *Adapter) attackPlayer(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	target, err := idArg(in, "target", "target")
	if err != nil {
		return nil, err
	}
	if target == in.UserID {
		return nil, errors.Validation("You can't attack yourself.")
	}
	duel, err := a.svc.Combat.AttackPlayer(ctx, in.UserID, target)
	if err != nil {
		return nil, err
	}
	return embedReply(roundEmbed("Duel", duel.Round), false), nil
}

func (a *Adapter) attackFight(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	r, err := a.svc.Combat.Fight(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return embedReply(roundEmbed("Combat", r), false), nil
}

func (a *Adapter) attackFlee(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	res, err := a.svc.Combat.Flee(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	e := gateway.Embed{Title: "Flee"}.
		WithField("Roll", fmt.Sprintf("%d (needed %d or less)", res.Roll, res.Chance), true)
	if res.Cost > 0 {
		e = e.WithField("Cost", fmt.Sprintf("%d credits", res.Cost), true)
	}
	if res.Escaped {
		e.Description, e.Color = "You break away.", gateway.ColorSuccess
	} else {
		e.Description, e.Color = "You can't get clear.", gateway.ColorDanger
	}
	return embedReply(e, false), nil
}

func (a *Adapter) robNPC(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	npcID, err := idArg(in, "npc", "target")
	if err != nil {
		return nil, err
	}
	res, err := a.svc.Combat.RobNPC(ctx, in.UserID, npcID)
	if err != nil {
		return nil, err
	}

	e := gateway.Embed{Title: "Robbery"}.
		WithField("Roll", fmt.Sprintf("%d (needed %d or less)", res.Roll, res.Chance), true).
		WithField("Reputation", fmt.Sprintf("%+d", res.RepDelta), true)
	if res.Success {
		e.Description, e.Color = fmt.Sprintf("You make off with %d credits.", res.Stolen), gateway.ColorSuccess
	} else {
		e.Description, e.Color = "You're caught in the act.", gateway.ColorDanger
		if res.Combat != nil {
			e = e.WithField("Result", "They fight back.", false)
		}
	}
	return embedReply(e, false), nil
}

func (a *Adapter) robPlayer(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	target, err := idArg(in, "target", "target")
	if err != nil {
		return nil, err
	}
	if target == in.UserID {
		return nil, errors.Validation("You can't rob yourself.")
	}
	rb, err := a.svc.Combat.RobPlayer(ctx, in.UserID, target)
	if err != nil {
		return nil, err
	}
	remaining := rb.ExpiresAt.Sub(a.svc.Clock.WallNow())
	return ephemeral(fmt.Sprintf("Your demand is out. They have %s to answer.", formatDuration(remaining))), nil
}

func (a *Adapter) pvpOut(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	if err := a.svc.Combat.SetPvPOpt(ctx, in.UserID, true); err != nil {
		return nil, err
	}
	return ephemeral("You are now opted out of PvP. Opposed alignments can still attack you."), nil
}

func (a *Adapter) pvpIn(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	if err := a.svc.Combat.SetPvPOpt(ctx, in.UserID, false); err != nil {
		return nil, err
	}
	return ephemeral("You are now open to PvP."), nil
}

func (a *Adapter) pvpStatus(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	out, err := a.svc.Combat.PvPOptedOut(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if out {
		return ephemeral("You are opted out of PvP."), nil
	}
	return ephemeral("You are open to PvP."), nil
}
