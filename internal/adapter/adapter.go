// Package adapter turns chat interactions into engine calls and engine
// results into chat replies. It is the only place engine errors become
// user-facing text.
package adapter

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"starlane-server/internal/activity"
	"starlane-server/internal/ambient"
	"starlane-server/internal/combat"
	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/radio"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
)

const (
	slowDown    = "You're doing that too fast. Try again in a moment."
	welcomeBack = "Welcome back, your inactivity warning has been cleared."
)

// Services are the engines the adapter drives.
type Services struct {
	Tracker *activity.Tracker
	Travel  *travel.Service
	Combat  *combat.Service
	Radio   *radio.Service
	Ambient *ambient.Service
	Clock   *gametime.Service
	World   *world.Repository
	Views   *gateway.Views
}

type route func(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error)

type Adapter struct {
	svc     Services
	gw      gateway.Gateway
	limiter *userLimiter
	dice    *dice.Roller
	admins  map[int64]bool
	routes  map[string]route
	logger  *slog.Logger

	// followups holds what a view handler wants said to the clicker.
	followups sync.Map
}

func New(svc Services, gw gateway.Gateway, roller *dice.Roller, cfg *config.Config, logger *slog.Logger) *Adapter {
	a := &Adapter{
		svc:     svc,
		gw:      gw,
		limiter: newUserLimiter(cfg.RateLimit.InteractionsPerSecond, cfg.RateLimit.InteractionBurst),
		dice:    roller,
		admins:  make(map[int64]bool),
		logger:  logger.With("component", "interaction_adapter"),
	}
	for _, id := range cfg.Gateway.Admins {
		a.admins[id] = true
	}

	a.routes = map[string]route{
		"travel.status":         a.travelStatus,
		"travel.go":             a.travelGo,
		"travel.routes":         a.travelRoutes,
		"travel.plotroute":      a.travelPlot,
		"travel.emergency_exit": a.travelEmergencyExit,
		"travel.fuel_estimate":  a.travelFuelEstimate,
		"attack.npc":            a.attackNPC,
		"attack.player":         a.attackPlayer,
		"attack.fight":          a.attackFight,
		"attack.flee":           a.attackFlee,
		"rob.npc":               a.robNPC,
		"rob.player":            a.robPlayer,
		"pvp_opt.out":           a.pvpOut,
		"pvp_opt.in":            a.pvpIn,
		"pvp_opt.status":        a.pvpStatus,
		"radio.send":            a.radioSend,
		"contacts":              a.contacts,
		"roll":                  a.roll,
		"time":                  a.galaxyTime,
		"view.resolve":          a.resolveView,
		"character.login":       a.login,
		"character.logout":      a.logout,
		"admin.ambient":         a.admin(a.adminAmbient),
		"admin.ambient_toggle":  a.admin(a.adminAmbientToggle),
		"admin.news":            a.admin(a.adminNews),
		"admin.news_channel":    a.admin(a.adminNewsChannel),
		"admin.time_pause":      a.admin(a.adminTimePause),
		"admin.time_resume":     a.admin(a.adminTimeResume),
		"admin.time_scale":      a.admin(a.adminTimeScale),
	}
	return a
}

// Run keeps the per-user limiter table small until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	return a.limiter.Run(ctx)
}

func routeKey(in gateway.Interaction) string {
	if in.Action == "" {
		return in.Group
	}
	return in.Group + "." + in.Action
}

// Handle processes one interaction and sends the reply back through the
// gateway. The reply is also returned for callers that deliver it
// themselves.
func (a *Adapter) Handle(ctx context.Context, in gateway.Interaction) gateway.Reply {
	logger := a.logger.With("operation", "handle", "user_id", in.UserID, "route", routeKey(in))

	reply := a.dispatch(ctx, in, logger)
	if err := a.gw.Reply(ctx, in.Ref(), reply); err != nil {
		logger.Warn("Failed to deliver reply", "error", err)
	}
	return reply
}

// Respond processes one interaction without delivering the reply. The HTTP
// interaction endpoint answers in its response body instead.
func (a *Adapter) Respond(ctx context.Context, in gateway.Interaction) gateway.Reply {
	logger := a.logger.With("operation", "respond", "user_id", in.UserID, "route", routeKey(in))
	return a.dispatch(ctx, in, logger)
}

// Dispatch adapts Handle to the bridge's dispatcher signature.
func (a *Adapter) Dispatch(ctx context.Context, in gateway.Interaction) {
	a.Handle(ctx, in)
}

func (a *Adapter) dispatch(ctx context.Context, in gateway.Interaction, logger *slog.Logger) gateway.Reply {
	resumed, err := a.svc.Tracker.Touch(ctx, in.UserID)
	if err != nil {
		logger.Warn("Failed to record activity", "error", err)
	}

	if !a.limiter.Allow(in.UserID) {
		return a.fail(logger, errors.RateLimited(slowDown))
	}

	handler, ok := a.routes[routeKey(in)]
	if !ok {
		return a.fail(logger, errors.Validationf("Unknown command %q.", routeKey(in)))
	}

	logger.Debug("Handling interaction")
	reply, err := handler(ctx, in)
	if err != nil {
		return a.fail(logger, err)
	}
	if reply == nil {
		reply = &gateway.Reply{Content: "Done.", Ephemeral: true}
	}
	if resumed {
		reply.Content = strings.TrimSpace(welcomeBack + "\n" + reply.Content)
	}
	return *reply
}

// fail logs an engine error at the level its type deserves and turns it
// into an ephemeral reply.
func (a *Adapter) fail(logger *slog.Logger, err error) gateway.Reply {
	switch {
	case errors.Is(err, world.ErrCharacterNotFound):
		err = errors.PreconditionFrom(err, "You don't have a character yet.")
	case errors.Is(err, world.ErrNoActiveShip):
		err = errors.PreconditionFrom(err, "You have no active ship.")
	}

	errorType := errors.GetType(err)
	logCtx := logger.With("error_type", errorType)
	switch errorType {
	case errors.ErrorTypeNotFound, errors.ErrorTypeValidation, errors.ErrorTypePrecondition:
		logCtx.Debug("Interaction rejected", "error", err)
	case errors.ErrorTypeUnauthorized, errors.ErrorTypeForbidden:
		logCtx.Warn("Interaction not permitted", "error", err)
	case errors.ErrorTypeConflict:
		logCtx.Info("Interaction conflict", "error", err)
	case errors.ErrorTypeRateLimited:
		logCtx.Warn("Interaction rate limit exceeded")
	case errors.ErrorTypeExternal:
		logCtx.Error("Chat delivery failed", "error", err)
	default:
		logCtx.Error("Interaction failed", "error", err)
	}

	return gateway.Reply{Content: errors.UserMessage(err), Ephemeral: true}
}

// admin wraps a route so only configured administrators may use it.
func (a *Adapter) admin(next route) route {
	return func(ctx context.Context, in gateway.Interaction) (*gateway.Reply, error) {
		if !a.admins[in.UserID] {
			return nil, errors.Forbidden("That command is for administrators.")
		}
		return next(ctx, in)
	}
}

func ephemeral(content string) *gateway.Reply {
	return &gateway.Reply{Content: content, Ephemeral: true}
}

func embedReply(e gateway.Embed, private bool) *gateway.Reply {
	return &gateway.Reply{Embed: &e, Ephemeral: private}
}
