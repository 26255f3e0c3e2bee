package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/travel"
)

const (
	jobGuardTimeout = 2 * time.Minute
	exitTimeout     = time.Minute
)

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func (a *Adapter) travelStatus(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	sess, corridor, err := a.svc.Travel.Status(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return ephemeral("You are not traveling."), nil
	}

	now := a.svc.Clock.WallNow()
	e := gateway.Embed{
		Title:       "Travel status",
		Description: fmt.Sprintf("En route through **%s**.", corridor.Name),
		Color:       gateway.ColorInfo,
	}.
		WithField("Progress", fmt.Sprintf("%.0f%%", sess.Progress(now)*100), true).
		WithField("Remaining", formatDuration(sess.Remaining(now)), true).
		WithField("Corridor", string(corridor.Type), true)
	return embedReply(e, true), nil
}

func (a *Adapter) travelRoutes(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	routes, err := a.svc.Travel.Routes(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return ephemeral("No corridors lead out of here."), nil
	}
	return embedReply(routesEmbed("Available routes", routes), true), nil
}

func (a *Adapter) travelFuelEstimate(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	routes, ship, err := a.svc.Travel.FuelEstimate(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	e := routesEmbed("Fuel estimate", routes)
	e.Footer = fmt.Sprintf("%s: %d/%d fuel", ship.Name, ship.CurrentFuel, ship.FuelCapacity)
	return embedReply(e, true), nil
}

func routesEmbed(title string, routes []travel.Route) gateway.Embed {
	e := gateway.Embed{Title: title, Color: gateway.ColorInfo}
	for _, r := range routes {
		mark := ""
		if !r.Affordable {
			mark = " (not enough fuel)"
		}
		e = e.WithField(
			fmt.Sprintf("#%d %s", r.Corridor.ID, r.Destination.Name),
			fmt.Sprintf("%s via %s, %s, %d fuel%s", r.Corridor.Name, r.Corridor.Type, formatDuration(r.Time), r.FuelCost, mark),
			false,
		)
	}
	return e
}

func (a *Adapter) travelPlot(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	dest := strings.TrimSpace(in.Arg("destination"))
	if dest == "" {
		return nil, errors.Validation("Where to? Give a destination.")
	}
	plot, err := a.svc.Travel.PlotRoute(ctx, in.UserID, dest)
	if err != nil {
		return nil, err
	}

	stops := make([]string, len(plot.Stops))
	for i, s := range plot.Stops {
		stops[i] = fmt.Sprintf("%d. %s (%s)", i+1, s.Name, plot.Hops[i].Name)
	}
	e := gateway.Embed{
		Title:       "Route to " + plot.Stops[len(plot.Stops)-1].Name,
		Description: strings.Join(stops, "\n"),
		Color:       gateway.ColorInfo,
	}.
		WithField("Jumps", strconv.Itoa(len(plot.Hops)), true).
		WithField("Total time", formatDuration(plot.TotalTime), true).
		WithField("Total fuel", strconv.Itoa(plot.TotalFuel), true)
	return embedReply(e, true), nil
}

// corridorArg resolves the corridor a player asked for, either by id or by
// the name of the location it leads to.
func (a *Adapter) corridorArg(ctx context.Context, in gateway.Interaction) (int64, error) {
	if raw := in.Arg("corridor"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, errors.Validationf("%q is not a corridor number.", raw)
		}
		return id, nil
	}

	dest := strings.TrimSpace(in.Arg("destination"))
	if dest == "" {
		return 0, errors.Validation("Pick a corridor or a destination.")
	}
	routes, _, err := a.svc.Travel.FuelEstimate(ctx, in.UserID)
	if err != nil {
		return 0, err
	}
	for _, r := range routes {
		if strings.EqualFold(r.Destination.Name, dest) {
			return r.Corridor.ID, nil
		}
	}
	return 0, errors.NotFoundf("No corridor from here leads to %s.", dest)
}

func (a *Adapter) travelGo(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	corridorID, err := a.corridorArg(ctx, in)
	if err != nil {
		return nil, err
	}

	dep, err := a.svc.Travel.Depart(ctx, in.UserID, corridorID)
	var conflict *travel.JobConflictError
	if errors.As(err, &conflict) {
		return a.jobGuard(ctx, in, corridorID, conflict)
	}
	if err != nil {
		return nil, err
	}
	return embedReply(departureEmbed(dep), false), nil
}

func departureEmbed(dep *travel.Departure) gateway.Embed {
	return gateway.Embed{
		Title:       "Departure",
		Description: fmt.Sprintf("Entering **%s**.", dep.Corridor.Name),
		Color:       gateway.ColorSuccess,
	}.
		WithField("Travel time", formatDuration(dep.Session.EndTime.Sub(dep.Session.StartTime)), true).
		WithField("Fuel left", strconv.Itoa(dep.FuelLeft), true)
}

// jobGuard asks whether to abandon stationary jobs before leaving.
func (a *Adapter) jobGuard(ctx context.Context, in gateway.Interaction, corridorID int64, conflict *travel.JobConflictError) (*gateway.Reply, error) {
	titles := make([]string, len(conflict.Jobs))
	for i, j := range conflict.Jobs {
		titles[i] = "• " + j.Title
	}

	id := a.svc.Views.Open("job_guard", []int64{in.UserID}, jobGuardTimeout, func(ctx context.Context, res gateway.Resolution) error {
		if res.TimedOut {
			return nil
		}
		if res.Choice != "abandon" {
			a.followups.Store(res.ViewID, ephemeral("You stay put. Your jobs are still active."))
			return nil
		}
		if _, err := a.svc.Travel.AbandonJobs(ctx, in.UserID); err != nil {
			return err
		}
		dep, err := a.svc.Travel.Depart(ctx, in.UserID, corridorID)
		if err != nil {
			return err
		}
		a.followups.Store(res.ViewID, embedReply(departureEmbed(dep), false))
		return nil
	})

	view := gateway.View{
		ID: id,
		Embed: gateway.Embed{
			Title:       "Active jobs",
			Description: "Leaving now abandons these jobs and forfeits their rewards:\n" + strings.Join(titles, "\n"),
			Color:       gateway.ColorWarning,
		},
		Buttons: []gateway.Button{
			{Choice: "abandon", Label: "Abandon and depart", Style: gateway.ButtonDanger},
			{Choice: "stay", Label: "Stay", Style: gateway.ButtonSecondary},
		},
		Users: []int64{in.UserID},
	}
	if _, err := a.gw.PresentView(ctx, in.Channel, view); err != nil {
		a.svc.Views.Cancel(id)
		return nil, errors.WrapExternal("Could not show the departure prompt.", err)
	}
	return ephemeral("You have active jobs here. Choose below."), nil
}

// travelEmergencyExit shows the survival odds and waits for confirmation.
func (a *Adapter) travelEmergencyExit(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
	chance, corridor, err := a.svc.Travel.ExitPreview(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	id := a.svc.Views.Open("emergency_exit", []int64{in.UserID}, exitTimeout, func(ctx context.Context, res gateway.Resolution) error {
		if res.TimedOut {
			return nil
		}
		if res.Choice != "exit" {
			a.followups.Store(res.ViewID, ephemeral("You hold your course."))
			return nil
		}
		out, err := a.svc.Travel.EmergencyExit(ctx, in.UserID)
		if err != nil {
			return err
		}
		a.followups.Store(res.ViewID, embedReply(exitEmbed(out), false))
		return nil
	})

	view := gateway.View{
		ID: id,
		Embed: gateway.Embed{
			Title:       "Emergency exit",
			Description: fmt.Sprintf("Tearing out of **%s** early. You have a %d%% chance of surviving.", corridor.Name, chance),
			Color:       gateway.ColorDanger,
		},
		Buttons: []gateway.Button{
			{Choice: "exit", Label: "Exit now", Style: gateway.ButtonDanger},
			{Choice: "cancel", Label: "Hold course", Style: gateway.ButtonSecondary},
		},
		Users: []int64{in.UserID},
	}
	if _, err := a.gw.PresentView(ctx, in.Channel, view); err != nil {
		a.svc.Views.Cancel(id)
		return nil, errors.WrapExternal("Could not show the exit prompt.", err)
	}
	return ephemeral(fmt.Sprintf("Survival chance: %d%%. Confirm below.", chance)), nil
}

func exitEmbed(out *travel.ExitResult) gateway.Embed {
	if !out.Survived {
		return gateway.Embed{
			Title:       "Emergency exit",
			Description: fmt.Sprintf("The ship breaks apart on the way out. (rolled %d, needed %d or less)", out.Roll, out.Chance),
			Color:       gateway.ColorDanger,
		}
	}
	return gateway.Embed{
		Title:       "Emergency exit",
		Description: fmt.Sprintf("You tumble out near **%s**.", out.Location),
		Color:       gateway.ColorWarning,
	}.
		WithField("HP lost", strconv.Itoa(out.HPLost), true).
		WithField("Hull lost", strconv.Itoa(out.HullLost), true)
}
