package ambient

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

// nameAttempts bounds how many lines are drawn looking for one that can be
// rendered without a name.
const nameAttempts = 5

// periodShare is the fraction of events drawn from the time-of-day pool.
const periodShare = 0.2

// Service runs the location flavor, income and news loops.
type Service struct {
	repo     *Repository
	clock    *gametime.Service
	channels *gateway.Channels
	dice     *dice.Roller
	ambient  config.AmbientBalance
	income   config.IncomeBalance
	logger   *slog.Logger

	enabled atomic.Bool
}

func NewService(
	repo *Repository,
	clock *gametime.Service,
	channels *gateway.Channels,
	roller *dice.Roller,
	balance *config.Balance,
	logger *slog.Logger,
) *Service {
	s := &Service{
		repo:     repo,
		clock:    clock,
		channels: channels,
		dice:     roller,
		ambient:  balance.Ambient,
		income:   balance.Income,
		logger:   logger,
	}
	s.enabled.Store(balance.Ambient.Enabled)
	return s
}

func (s *Service) log(operation string) *slog.Logger {
	return s.logger.With("component", "ambient_service", "operation", operation)
}

func (s *Service) SetEnabled(on bool) {
	s.enabled.Store(on)
	s.log("set_enabled").Info("Ambient events toggled", "enabled", on)
}

func (s *Service) Enabled() bool { return s.enabled.Load() }

// paused reports whether the galaxy clock is stopped. Lookup failures are
// treated as running.
func (s *Service) paused(ctx context.Context, operation string) bool {
	p, err := s.clock.IsPaused(ctx)
	if err != nil {
		s.log(operation).Warn("Failed to read clock state", "error", err)
		return false
	}
	return p
}

// Flavor is one pass of the ambient loop. Returns the events posted.
func (s *Service) Flavor(ctx context.Context) ([]Event, error) {
	logger := s.log("flavor")
	if !s.Enabled() || s.paused(ctx, "flavor") {
		return nil, nil
	}

	locations, err := s.repo.ActiveLocations(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.WallNow()
	var events []Event
	for _, loc := range locations {
		if !Spaced(loc.LastEvent, now, s.ambient.MinSpacing()) {
			continue
		}
		if !s.dice.Chance(Chance(s.ambient, loc)) {
			continue
		}
		ev, err := s.fire(ctx, loc)
		if err != nil {
			logger.Error("Ambient event failed", "location_id", loc.ID, "error", err)
			continue
		}
		events = append(events, *ev)
	}

	logger.Debug("Ambient pass complete", "active_locations", len(locations), "events", len(events))
	return events, nil
}

// TriggerAt fires an event at a location immediately, ignoring chance and
// spacing. Used by administrators.
func (s *Service) TriggerAt(ctx context.Context, locationID int64) (*Event, error) {
	loc, err := s.repo.GetActiveLocation(ctx, locationID)
	if errors.Is(err, world.ErrLocationNotFound) {
		return nil, errors.NotFoundf("No location with id %d.", locationID)
	}
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, *loc)
}

func (s *Service) fire(ctx context.Context, loc ActiveLocation) (*Event, error) {
	now := s.clock.WallNow()
	period := PeriodAt(now)

	names, err := s.repo.NamesAt(ctx, loc.ID)
	if err != nil {
		return nil, err
	}

	msg := s.pick(loc.Type, period, names)
	embed := gateway.Embed{
		Description: "*" + msg + "*",
		Color:       gateway.ColorAmbient,
		Footer:      fmt.Sprintf("%s · %s", loc.Name, period),
	}
	s.channels.Post(ctx, loc.ID, embed)

	if err := s.repo.RecordEvent(ctx, loc.ID, now); err != nil {
		return nil, err
	}
	s.log("fire").Info("Ambient event", "location_id", loc.ID, "period", period)
	return &Event{LocationID: loc.ID, Location: loc.Name, Message: msg, Period: period, At: now}, nil
}

func (s *Service) pick(kind world.LocationType, period Period, names []string) string {
	pool := linesFor(kind)
	if s.dice.Chance(periodShare) {
		pool = periodLines[period]
	}

	name := ""
	if len(names) > 0 {
		name = names[s.dice.IntN(len(names))]
	}
	for range nameAttempts {
		if msg, ok := Render(pool[s.dice.IntN(len(pool))], name); ok {
			return msg
		}
	}
	return genericLines[s.dice.IntN(len(genericLines))]
}

// LocationIncome adds one interval of income to every owned location.
// Returns the total credited.
func (s *Service) LocationIncome(ctx context.Context) (int, error) {
	logger := s.log("location_income")
	if s.paused(ctx, "location_income") {
		return 0, nil
	}

	owned, err := s.repo.OwnedLocations(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	err = s.repo.db.WithTx(ctx, func(tx *database.Tx) error {
		total = 0
		for _, l := range owned {
			amount := LocationIncome(l)
			if amount <= 0 {
				continue
			}
			if err := s.repo.AddGeneratedIncome(ctx, tx, l.ID, amount); err != nil {
				return err
			}
			total += amount
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to credit location income", "error", err)
		return 0, err
	}

	logger.Debug("Location income credited", "locations", len(owned), "total", total)
	return total, nil
}

// HomeIncome accrues upgrade income on every home since its last
// calculation. While the clock is paused the ledgers are restamped without
// accruing so the pause is not paid out later.
func (s *Service) HomeIncome(ctx context.Context) (int, error) {
	logger := s.log("home_income")
	paused := s.paused(ctx, "home_income")

	ledgers, err := s.repo.HomeLedgers(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.WallNow()
	updated := 0
	for _, h := range ledgers {
		if h.LastCalculated == nil || paused {
			if err := s.repo.SaveHomeIncome(ctx, h.HomeID, h.Accumulated, now); err != nil {
				logger.Error("Failed to stamp home income", "home_id", h.HomeID, "error", err)
			}
			continue
		}

		next := h.Accrue(now.Sub(*h.LastCalculated), s.income.HomeCapDays)
		if next == h.Accumulated {
			// Keep the old stamp so fractional days carry over.
			continue
		}
		if err := s.repo.SaveHomeIncome(ctx, h.HomeID, next, now); err != nil {
			logger.Error("Failed to save home income", "home_id", h.HomeID, "error", err)
			continue
		}
		updated++
	}

	logger.Debug("Home income accrued", "homes", len(ledgers), "updated", updated)
	return updated, nil
}

// QueueNews schedules a bulletin for the news channel.
func (s *Service) QueueNews(ctx context.Context, n News) (int64, error) {
	now := s.clock.WallNow()
	if n.DeliverAt.IsZero() {
		n.DeliverAt = now
	}
	if n.Type == "" {
		n.Type = "general"
	}
	return s.repo.QueueNews(ctx, n, now)
}

// DeliverNews posts every due bulletin. Without a news channel nothing is
// delivered and the queue is kept.
func (s *Service) DeliverNews(ctx context.Context) (int, error) {
	logger := s.log("deliver_news")

	state, err := s.clock.State(ctx)
	if err != nil {
		return 0, err
	}
	if state.NewsChannel == "" {
		return 0, nil
	}

	due, err := s.repo.DueNews(ctx, s.clock.WallNow())
	if err != nil {
		return 0, err
	}

	gw := s.channels.Gateway()
	delivered := 0
	for _, n := range due {
		color, ok := newsColors[n.Type]
		if !ok {
			color = newsColors["general"]
		}
		embed := gateway.Embed{
			Title:       n.Title,
			Description: n.Body,
			Color:       color,
			Footer:      state.GalaxyName + " News Network",
		}
		if _, err := gw.Post(ctx, gateway.ChannelRef(state.NewsChannel), embed); err != nil {
			logger.Warn("Failed to post news, will retry", "news_id", n.ID, "error", err)
			break
		}
		if err := s.repo.MarkDelivered(ctx, n.ID); err != nil {
			logger.Error("Failed to mark news delivered", "news_id", n.ID, "error", err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		logger.Info("News delivered", "count", delivered)
	}
	return delivered, nil
}
