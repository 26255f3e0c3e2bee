package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"starlane-server/internal/ambient"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
)

func (a *Adapter) adminAmbient(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	locID, err := idArg(in, "location", "location")
	if err != nil {
		return nil, err
	}
	ev, err := a.svc.Ambient.TriggerAt(ctx, locID)
	if err != nil {
		return nil, err
	}
	return ephemeral(fmt.Sprintf("Ambient event at %s: %s", ev.Location, ev.Message)), nil
}

func (a *Adapter) adminAmbientToggle(_ context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	switch strings.ToLower(in.Arg("state")) {
	case "on":
		a.svc.Ambient.SetEnabled(true)
	case "off":
		a.svc.Ambient.SetEnabled(false)
	case "":
		a.svc.Ambient.SetEnabled(!a.svc.Ambient.Enabled())
	default:
		return nil, errors.Validation("State must be on or off.")
	}

	state := "disabled"
	if a.svc.Ambient.Enabled() {
		state = "enabled"
	}
	a.logger.Info("Ambient events toggled", "operation", "admin_ambient_toggle", "user_id", in.UserID, "state", state)
	return ephemeral("Ambient events " + state + "."), nil
}

// adminNews queues a bulletin, optionally delayed by a number of minutes.
func (a *Adapter) adminNews(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	title, body := strings.TrimSpace(in.Arg("title")), strings.TrimSpace(in.Arg("body"))
	if title == "" || body == "" {
		return nil, errors.Validation("A bulletin needs a title and a body.")
	}

	n := ambient.News{Type: in.Arg("type"), Title: title, Body: body}
	if raw := in.Arg("delay"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 0 {
			return nil, errors.Validationf("%q is not a number of minutes.", raw)
		}
		n.DeliverAt = a.svc.Clock.WallNow().Add(time.Duration(minutes) * time.Minute)
	}

	id, err := a.svc.Ambient.QueueNews(ctx, n)
	if err != nil {
		return nil, err
	}
	return ephemeral(fmt.Sprintf("Bulletin #%d queued.", id)), nil
}

func (a *Adapter) adminNewsChannel(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	channel := in.Arg("channel")
	if channel == "" {
		channel = string(in.Channel)
	}
	if channel == "" {
		return nil, errors.Validation("Which channel should carry the news?")
	}
	if err := a.svc.Clock.SetNewsChannel(ctx, channel); err != nil {
		return nil, err
	}
	return ephemeral("News will be posted to this channel."), nil
}
