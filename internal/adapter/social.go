package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

func (a *Adapter) radioSend(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	b, err := a.svc.Radio.Send(ctx, in.UserID, in.Arg("message"))
	if err != nil {
		return nil, err
	}
	if len(b.Receptions) == 0 {
		return ephemeral("You transmit, but nobody is in range to hear it."), nil
	}

	heard := make([]string, len(b.Receptions))
	for i, r := range b.Receptions {
		heard[i] = fmt.Sprintf("%s (%d%%)", r.Location, r.Signal)
	}
	return ephemeral("Transmission received at " + strings.Join(heard, ", ") + "."), nil
}

func (a *Adapter) contacts(ctx context.Context, _ gateway.Interaction) (*gateway.Reply, error) {
	list, err := a.svc.Travel.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return ephemeral("Nobody is online."), nil
	}

	lines := make([]string, len(list))
	for i, c := range list {
		name := c.Name
		if c.Callsign != "" {
			name = fmt.Sprintf("%s [%s]", c.Name, c.Callsign)
		}
		where := c.Location
		if c.InTransit {
			where = fmt.Sprintf("in transit via %s (%.0f%%)", c.Corridor, c.Progress*100)
		}
		lines[i] = fmt.Sprintf("**%s**: %s", name, where)
	}
	e := gateway.Embed{
		Title:       "Contacts",
		Description: strings.Join(lines, "\n"),
		Color:       gateway.ColorInfo,
		Footer:      fmt.Sprintf("%d online", len(list)),
	}
	return embedReply(e, true), nil
}

// roll is a d100 check. Naming a skill adds the character's value in it.
func (a *Adapter) roll(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	natural := a.dice.D100()
	bonus := 0
	label := "d100"

	if raw := strings.ToLower(strings.TrimSpace(in.Arg("skill"))); raw != "" {
		skill := world.Skill(raw)
		known := false
		for _, s := range world.Skills {
			known = known || s == skill
		}
		if !known {
			return nil, errors.Validationf("Unknown skill %q.", raw)
		}
		c, err := a.svc.World.GetCharacter(ctx, nil, in.UserID)
		if err != nil {
			return nil, err
		}
		bonus = c.Skill(skill)
		label = fmt.Sprintf("d100 + %s (%d)", skill, bonus)
	}

	e := gateway.Embed{
		Title:       "Roll",
		Description: fmt.Sprintf("**%d**", natural+bonus),
		Color:       gateway.ColorInfo,
	}.WithField("Dice", label, true).
		WithField("Natural", strconv.Itoa(natural), true)
	switch natural {
	case 100:
		e.Color = gateway.ColorSuccess
		e = e.WithField("Result", "Critical success!", false)
	case 1:
		e.Color = gateway.ColorDanger
		e = e.WithField("Result", "Critical failure!", false)
	}
	return embedReply(e, false), nil
}

func (a *Adapter) login(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	c, err := a.svc.Tracker.Login(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return ephemeral(fmt.Sprintf("Welcome aboard, %s.", c.Name)), nil
}

func (a *Adapter) logout(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	if err := a.svc.Tracker.Logout(ctx, in.UserID); err != nil {
		return nil, err
	}
	return ephemeral("You are logged out. Safe travels."), nil
}
