package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
)

const galaxyDateLayout = "2006-01-02 15:04"

// galaxyTime shows the in-game date and shift.
func (a *Adapter) galaxyTime(ctx context.Context, _ gateway.Interaction) (*gateway.Reply, error) {
	state, err := a.svc.Clock.State(ctx)
	if err != nil {
		return nil, err
	}
	now, err := a.svc.Clock.Now(ctx)
	if err != nil {
		return nil, err
	}
	shift, err := a.svc.Clock.CurrentShift(ctx)
	if err != nil {
		return nil, err
	}

	embed := gateway.Embed{
		Title:       state.GalaxyName + " Standard Time",
		Description: now.Format(galaxyDateLayout),
		Color:       gateway.ColorInfo,
	}.WithField("Shift", strings.ToUpper(string(shift[:1]))+string(shift[1:]), true).
		WithField("Scale", strconv.FormatFloat(state.Scale, 'g', -1, 64)+"x", true)
	if state.Paused {
		embed = embed.WithField("Status", "Paused", true)
	}
	return embedReply(embed, true), nil
}

func (a *Adapter) adminTimePause(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	if err := a.svc.Clock.Pause(ctx, true); err != nil {
		return nil, err
	}
	a.logger.Info("Galaxy clock paused by administrator", "operation", "admin_time_pause", "user_id", in.UserID)
	return ephemeral("Galaxy clock paused. Inactivity timers are on hold until it resumes."), nil
}

func (a *Adapter) adminTimeResume(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	if err := a.svc.Clock.Resume(ctx, true); err != nil {
		return nil, err
	}
	a.logger.Info("Galaxy clock resumed by administrator", "operation", "admin_time_resume", "user_id", in.UserID)
	return ephemeral("Galaxy clock resumed."), nil
}

func (a *Adapter) adminTimeScale(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	raw := strings.TrimSpace(in.Arg("scale"))
	scale, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.Validationf("%q is not a time scale.", raw)
	}
	if err := a.svc.Clock.SetScale(ctx, scale); err != nil {
		return nil, err
	}
	a.logger.Info("Time scale changed", "operation", "admin_time_scale", "user_id", in.UserID, "scale", scale)
	return ephemeral(fmt.Sprintf("One real hour is now %s in-game hours.", strconv.FormatFloat(scale, 'g', -1, 64))), nil
}
