package adapter

import (
	"context"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
)

// resolveView delivers a button click to the prompt that owns it. Second
// clicks and stale prompts get a short explanation and change nothing.
func (a *Adapter) resolveView(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	if in.ViewID == "" {
		return nil, errors.Validation("That button isn't attached to anything.")
	}

	err := a.svc.Views.Resolve(ctx, in.ViewID, in.UserID, in.Choice)
	switch {
	case errors.Is(err, gateway.ErrAlreadyResolved):
		return ephemeral("That has already been decided."), nil
	case errors.Is(err, gateway.ErrUnknownView):
		return ephemeral("That prompt has expired."), nil
	case errors.Is(err, gateway.ErrNotYourView):
		return ephemeral("That choice isn't yours to make."), nil
	}

	followup, ok := a.followups.LoadAndDelete(in.ViewID)
	if err != nil {
		return nil, err
	}
	if ok {
		return followup.(*gateway.Reply), nil
	}
	return ephemeral("Got it."), nil
}
