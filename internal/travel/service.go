package travel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/mapfeed"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

// Listener hears about sessions starting and ending. The corridor event
// pipeline hooks in here.
type Listener interface {
	Departed(ctx context.Context, s Session, c world.Corridor)
	Ended(ctx context.Context, s Session)
}

type Service struct {
	repo     *Repository
	world    *world.Repository
	effects  *world.EffectChecker
	clock    *gametime.Service
	channels *gateway.Channels
	views    *gateway.Views
	notifier *mapfeed.Notifier
	dice     *dice.Roller
	cfg      config.TravelBalance
	logger   *slog.Logger

	mu        sync.Mutex
	base      context.Context
	timers    map[int64]*time.Timer
	trackers  map[int64]context.CancelFunc
	awaiting  map[int64]string
	torndown  map[string]bool
	listeners []Listener
}

func NewService(
	repo *Repository,
	worldRepo *world.Repository,
	clock *gametime.Service,
	channels *gateway.Channels,
	views *gateway.Views,
	notifier *mapfeed.Notifier,
	roller *dice.Roller,
	cfg config.TravelBalance,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		world:    worldRepo,
		effects:  world.NewEffectChecker(worldRepo),
		clock:    clock,
		channels: channels,
		views:    views,
		notifier: notifier,
		dice:     roller,
		cfg:      cfg,
		logger:   logger,
		base:     context.Background(),
		timers:   make(map[int64]*time.Timer),
		trackers: make(map[int64]context.CancelFunc),
		awaiting: make(map[int64]string),
		torndown: make(map[string]bool),
	}
}

func (s *Service) log(operation string) *slog.Logger {
	return s.logger.With("component", "travel_service", "operation", operation)
}

func (s *Service) Repository() *Repository {
	return s.repo
}

func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) snapshotListeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Listener(nil), s.listeners...)
}

// Start re-arms completion timers for sessions that survived a restart.
// Sessions already past their end time complete immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	sessions, err := s.repo.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	now := s.clock.WallNow()
	for _, sess := range sessions {
		if !sess.EndTime.After(now) {
			if _, err := s.Complete(ctx, sess.ID); err != nil {
				s.log("start").Error("Failed to complete overdue session", "session_id", sess.ID, "error", err)
			}
			continue
		}
		s.schedule(sess)
		if sess.TransitChannel != "" {
			s.startProgress(sess, gateway.ChannelRef(sess.TransitChannel))
		}
	}

	s.log("start").Info("Travel sessions resumed", "count", len(sessions))
	return nil
}

// Stop cancels every timer and progress loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for id, cancel := range s.trackers {
		cancel()
		delete(s.trackers, id)
	}
}

// Status returns the user's active session and its corridor, or nils.
func (s *Service) Status(ctx context.Context, userID int64) (*Session, *world.Corridor, error) {
	sess, err := s.repo.ActiveSession(ctx, nil, userID)
	if err != nil || sess == nil {
		return nil, nil, err
	}
	corridor, err := s.world.GetCorridor(ctx, nil, sess.CorridorID)
	if err != nil {
		return nil, nil, err
	}
	return sess, corridor, nil
}

// checkCanDepart is shared by route listing and departure.
func (s *Service) checkCanDepart(ctx context.Context, tx *database.Tx, c *world.Character) error {
	if !c.LoggedIn {
		return errors.Preconditionf("You are not logged in.")
	}
	if c.CurrentLocation == nil {
		return errors.Preconditionf("You are already in transit.")
	}
	if c.CurrentHomeID != nil {
		return errors.Preconditionf("You are inside your home. Leave it before traveling.")
	}
	if c.CurrentShipID != nil {
		return errors.Preconditionf("You are aboard your ship's interior. Return to the bridge before traveling.")
	}
	inCombat, err := s.repo.InCombat(ctx, tx, c.UserID)
	if err != nil {
		return err
	}
	if inCombat || c.Status == world.StatusCombat {
		return errors.Preconditionf("You cannot travel while in combat.")
	}
	if c.ActiveShipID == nil {
		return errors.Preconditionf("You have no active ship.")
	}

	jobs, err := s.world.StationaryJobsAt(ctx, tx, c.UserID, *c.CurrentLocation)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		return &JobConflictError{Jobs: jobs}
	}
	return nil
}

// AbandonJobs clears the job guard. Rewards are forfeited.
func (s *Service) AbandonJobs(ctx context.Context, userID int64) (int64, error) {
	n, err := s.world.CancelJobs(ctx, nil, userID)
	if err != nil {
		return 0, err
	}
	s.log("abandon_jobs").Info("Jobs abandoned to travel", "user_id", userID, "count", n)
	return n, nil
}

// Routes lists the outbound corridors a character can take now.
func (s *Service) Routes(ctx context.Context, userID int64) ([]Route, error) {
	c, err := s.world.GetCharacter(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCanDepart(ctx, nil, c); err != nil {
		return nil, err
	}
	mods, err := s.effects.Travel(ctx, nil, *c.CurrentLocation, s.clock.WallNow())
	if err != nil {
		return nil, err
	}
	if mods.Banned {
		return nil, errors.Preconditionf("Departures from this location are currently banned.")
	}
	return s.routesFrom(ctx, c)
}

// FuelEstimate lists every outbound corridor with its cost for the active
// ship. Unlike Routes it ignores jobs and combat.
func (s *Service) FuelEstimate(ctx context.Context, userID int64) ([]Route, *world.Ship, error) {
	c, err := s.world.GetCharacter(ctx, nil, userID)
	if err != nil {
		return nil, nil, err
	}
	if c.CurrentLocation == nil {
		return nil, nil, errors.Preconditionf("You are in transit and cannot calculate fuel estimates.")
	}
	ship, err := s.world.GetActiveShip(ctx, nil, userID)
	if errors.Is(err, world.ErrNoActiveShip) {
		return nil, nil, errors.Preconditionf("You have no active ship.")
	}
	if err != nil {
		return nil, nil, err
	}
	routes, err := s.routesFrom(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return routes, ship, nil
}

func (s *Service) routesFrom(ctx context.Context, c *world.Character) ([]Route, error) {
	origin := *c.CurrentLocation
	ship, err := s.world.GetActiveShip(ctx, nil, c.UserID)
	if err != nil {
		return nil, err
	}
	mods, err := s.effects.Travel(ctx, nil, origin, s.clock.WallNow())
	if err != nil {
		return nil, err
	}
	corridors, err := s.world.Outbound(ctx, nil, origin)
	if err != nil {
		return nil, err
	}
	locations, err := s.locationIndex(ctx)
	if err != nil {
		return nil, err
	}

	routes := make([]Route, 0, len(corridors))
	for _, cor := range corridors {
		dest, ok := locations[cor.Destination]
		if !ok {
			continue
		}
		fuel := mods.FuelCost(cor.FuelCost)
		routes = append(routes, Route{
			Corridor:    cor,
			Destination: dest,
			Time:        EffectiveTime(s.cfg, cor.TravelTime, ship.FuelEfficiency, mods),
			FuelCost:    fuel,
			Affordable:  ship.CurrentFuel >= fuel,
		})
	}
	return routes, nil
}

func (s *Service) locationIndex(ctx context.Context) (map[int64]world.Location, error) {
	locations, err := s.world.ListLocations(ctx, nil)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]world.Location, len(locations))
	for _, l := range locations {
		index[l.ID] = l
	}
	return index, nil
}

// Depart starts a trip: fuel, position and the session row change in one
// transaction, then the transit channel and timers are set up.
func (s *Service) Depart(ctx context.Context, userID, corridorID int64) (*Departure, error) {
	logger := s.log("depart").With("user_id", userID, "corridor_id", corridorID)
	now := s.clock.WallNow()

	var (
		dep   Departure
		name  string
		dest  *world.Location
		orig  *world.Location
		mods  world.TravelModifiers
		delay time.Duration
	)
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		c, err := s.world.GetCharacter(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := s.checkCanDepart(ctx, tx, c); err != nil {
			return err
		}
		name = c.Name

		cor, err := s.world.GetCorridor(ctx, tx, corridorID)
		if errors.Is(err, world.ErrCorridorNotFound) {
			return errors.Preconditionf("That route does not exist.")
		}
		if err != nil {
			return err
		}
		if !cor.Active || cor.Origin != *c.CurrentLocation {
			return errors.Preconditionf("That route is not available from here.")
		}

		mods, err = s.effects.Travel(ctx, tx, cor.Origin, now)
		if err != nil {
			return err
		}
		if mods.Banned {
			return errors.Preconditionf("Departures from this location are currently banned.")
		}

		ship, err := s.world.GetActiveShip(ctx, tx, userID)
		if err != nil {
			return err
		}
		fuel := mods.FuelCost(cor.FuelCost)
		if err := s.world.BurnFuel(ctx, tx, ship.ID, fuel); err != nil {
			if errors.Is(err, world.ErrInsufficientFuel) {
				return errors.PreconditionFrom(err,
					fmt.Sprintf("Insufficient fuel: the route needs %d, you have %d.", fuel, ship.CurrentFuel))
			}
			return err
		}
		if err := s.world.SetPosition(ctx, tx, userID, nil, world.StatusTraveling); err != nil {
			return err
		}
		if err := s.world.SetDocked(ctx, tx, ship.ID, nil); err != nil {
			return err
		}

		delay = EffectiveTime(s.cfg, cor.TravelTime, ship.FuelEfficiency, mods)
		sess := Session{
			UserID:      userID,
			CorridorID:  cor.ID,
			Origin:      cor.Origin,
			Destination: cor.Destination,
			StartTime:   now,
			EndTime:     now.Add(delay),
			Status:      StatusTraveling,
		}
		sess.ID, err = s.repo.CreateSession(ctx, tx, sess)
		if database.IsUniqueViolation(err) {
			return errors.Conflictf("You are already traveling.")
		}
		if err != nil {
			return err
		}

		if orig, err = s.world.GetLocation(ctx, tx, cor.Origin); err != nil {
			return err
		}
		if dest, err = s.world.GetLocation(ctx, tx, cor.Destination); err != nil {
			return err
		}

		dep = Departure{Session: sess, Corridor: *cor, FuelLeft: ship.CurrentFuel - fuel}
		return nil
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) && !errors.IsType(err, errors.ErrorTypeConflict) {
			logger.Error("Departure failed", "error", err)
		}
		return nil, err
	}

	logger.Info("Departed", "session_id", dep.Session.ID, "travel_time", delay, "fuel_left", dep.FuelLeft)

	s.channels.Revoke(ctx, orig.ID, userID)
	s.channels.Post(ctx, orig.ID, gateway.Embed{
		Description: fmt.Sprintf("%s departed via %s.", name, dep.Corridor.Name),
		Color:       gateway.ColorInfo,
	})
	dep.Channel = s.openTransit(ctx, &dep.Session, name, dep.Corridor, dest)

	s.schedule(dep.Session)
	for _, l := range s.snapshotListeners() {
		l.Departed(ctx, dep.Session, dep.Corridor)
	}
	s.notifier.Publish(ctx, mapfeed.TravelStarted, dep.Session.ID)
	return &dep, nil
}

// openTransit creates the per-session channel. On failure the trip goes on
// without one and the traveler is told by direct message.
func (s *Service) openTransit(ctx context.Context, sess *Session, name string, cor world.Corridor, dest *world.Location) string {
	logger := s.log("open_transit").With("session_id", sess.ID)
	gw := s.channels.Gateway()

	ref, err := gw.CreateChannel(ctx, gateway.TransitCategory, gateway.Slug(fmt.Sprintf("%s %s", name, cor.Name)))
	if err == nil {
		err = gw.SetAccess(ctx, ref, sess.UserID, true)
	}
	if err == nil {
		err = s.repo.SetTransitChannel(ctx, sess.ID, string(ref))
	}
	if err != nil {
		logger.Warn("Transit channel unavailable", "error", err)
		notice := gateway.Embed{
			Title:       "In transit",
			Description: fmt.Sprintf("You are traveling through %s to %s. Arrival in %s.", cor.Name, dest.Name, formatDuration(sess.Remaining(s.clock.WallNow()))),
			Color:       gateway.ColorInfo,
		}
		if dmErr := gw.DirectMessage(ctx, sess.UserID, notice); dmErr != nil {
			logger.Warn("Failed to send transit notice", "error", dmErr)
		}
		return ""
	}

	sess.TransitChannel = string(ref)
	welcome := gateway.Embed{
		Title:       fmt.Sprintf("Entering %s", cor.Name),
		Description: fmt.Sprintf("Destination: %s. Danger level %d/5.", dest.Name, cor.Danger),
		Color:       gateway.ColorInfo,
	}.WithField("Corridor type", string(cor.Type), true)
	if _, err := gw.Post(ctx, ref, welcome); err != nil {
		logger.Warn("Failed to post transit welcome", "error", err)
	}
	s.startProgress(*sess, ref)
	return string(ref)
}

func (s *Service) schedule(sess Session) {
	delay := max(0, sess.EndTime.Sub(s.clock.WallNow()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[sess.ID]; ok {
		old.Stop()
	}
	s.timers[sess.ID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		ctx := s.base
		delete(s.timers, sess.ID)
		s.mu.Unlock()

		if _, err := s.Complete(ctx, sess.ID); err != nil {
			s.log("complete").Error("Travel completion failed", "session_id", sess.ID, "error", err)
		}
	})
}

func (s *Service) stopSession(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
	if cancel, ok := s.trackers[sessionID]; ok {
		cancel()
		delete(s.trackers, sessionID)
	}
}

// startProgress refreshes a progress embed until arrival or until the
// channel stops accepting edits.
func (s *Service) startProgress(sess Session, channel gateway.ChannelRef) {
	gw := s.channels.Gateway()

	s.mu.Lock()
	ctx, cancel := context.WithCancel(s.base)
	if old, ok := s.trackers[sess.ID]; ok {
		old()
	}
	s.trackers[sess.ID] = cancel
	s.mu.Unlock()

	msg, err := gw.Post(ctx, channel, s.progressEmbed(sess))
	if err != nil {
		s.log("progress").Warn("Failed to post progress", "session_id", sess.ID, "error", err)
		cancel()
		return
	}

	go func() {
		defer cancel()
		ticker := time.NewTicker(s.cfg.ProgressInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := gw.Edit(ctx, msg, s.progressEmbed(sess)); err != nil {
					s.log("progress").Debug("Progress updates stopped", "session_id", sess.ID, "error", err)
					return
				}
				if !s.clock.WallNow().Before(sess.EndTime) {
					return
				}
			}
		}
	}()
}

func (s *Service) progressEmbed(sess Session) gateway.Embed {
	now := s.clock.WallNow()
	pct := sess.Progress(now)
	const width = 20
	filled := int(pct * width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return gateway.Embed{
		Title:       "Travel progress",
		Description: fmt.Sprintf("%s %d%%", bar, int(pct*100)),
		Color:       gateway.ColorInfo,
	}.WithField("Time remaining", formatDuration(sess.Remaining(now)), true)
}

// Complete ends a trip whose time is up and runs arrival gating. Calling
// it again for a finished session is a no-op.
func (s *Service) Complete(ctx context.Context, sessionID int64) (*Arrival, error) {
	logger := s.log("complete").With("session_id", sessionID)

	sess, err := s.repo.GetSession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusTraveling {
		return &Arrival{SessionID: sessionID, Outcome: OutcomeAbandoned}, nil
	}

	s.mu.Lock()
	_, pending := s.awaiting[sessionID]
	s.mu.Unlock()
	if pending {
		return &Arrival{SessionID: sessionID, Outcome: OutcomePending}, nil
	}
	s.stopSession(sessionID)

	decision, err := s.decide(ctx, sess)
	if err != nil {
		logger.Error("Arrival gating failed", "error", err)
		return nil, err
	}
	logger.Debug("Arrival gated", "outcome", decision.Outcome, "fee", decision.Fee)

	if decision.Outcome == OutcomeFee {
		return s.promptFee(ctx, sess, decision)
	}
	return s.finalize(ctx, sess, decision)
}

func (s *Service) decide(ctx context.Context, sess *Session) (Decision, error) {
	now := s.clock.WallNow()

	flags, err := s.effects.Character(ctx, nil, sess.UserID, now)
	if err != nil {
		return Decision{}, err
	}
	dest, err := s.world.GetLocation(ctx, nil, sess.Destination)
	if err != nil {
		return Decision{}, err
	}
	ownership, err := s.world.GetOwnership(ctx, nil, dest.ID)
	if err != nil {
		return Decision{}, err
	}
	member, err := s.world.FactionOf(ctx, nil, sess.UserID)
	if err != nil {
		return Decision{}, err
	}
	rep, err := s.world.Reputation(ctx, nil, sess.UserID, dest.ID)
	if err != nil {
		return Decision{}, err
	}

	return Gate(GateInput{
		Flags:       flags,
		Destination: dest,
		Ownership:   ownership,
		MemberOf:    member,
		Reputation:  rep,
	}), nil
}

// promptFee asks the traveler to pay or leave. No answer within the
// docking window counts as leaving.
func (s *Service) promptFee(ctx context.Context, sess *Session, decision Decision) (*Arrival, error) {
	leave := Decision{Outcome: OutcomeRetreat, Message: "You refused to pay the docking fee and returned to your previous location."}

	if sess.TransitChannel == "" {
		leave.Message = "Docking clearance could not be negotiated. You returned to your previous location."
		return s.finalize(ctx, sess, leave)
	}

	id := s.views.Open("docking_fee", []int64{sess.UserID}, s.cfg.DockingPrompt(), func(ctx context.Context, res gateway.Resolution) error {
		s.mu.Lock()
		delete(s.awaiting, sess.ID)
		s.mu.Unlock()

		choice := leave
		if !res.TimedOut && res.Choice == "pay" {
			choice = decision
		}
		_, err := s.finalize(ctx, sess, choice)
		return err
	})

	s.mu.Lock()
	s.awaiting[sess.ID] = id
	s.mu.Unlock()

	view := gateway.View{
		ID: id,
		Embed: gateway.Embed{
			Title:       "Docking fee",
			Description: decision.Message,
			Color:       gateway.ColorWarning,
			Footer:      fmt.Sprintf("Decide within %s or you will turn back.", formatDuration(s.cfg.DockingPrompt())),
		},
		Buttons: []gateway.Button{
			{Choice: "pay", Label: fmt.Sprintf("Pay %d credits", decision.Fee), Style: gateway.ButtonSuccess},
			{Choice: "leave", Label: "Leave", Style: gateway.ButtonDanger},
		},
		Users: []int64{sess.UserID},
	}
	if _, err := s.channels.Gateway().PresentView(ctx, gateway.ChannelRef(sess.TransitChannel), view); err != nil {
		s.log("prompt_fee").Warn("Failed to present docking fee prompt", "session_id", sess.ID, "error", err)
		if s.views.Cancel(id) {
			s.mu.Lock()
			delete(s.awaiting, sess.ID)
			s.mu.Unlock()
			return s.finalize(ctx, sess, leave)
		}
	}

	return &Arrival{SessionID: sess.ID, Outcome: OutcomePending, Fee: decision.Fee, Message: decision.Message}, nil
}

// finalize closes the session and places the character. The status change
// is conditional, so a trip cancelled meanwhile is left alone.
func (s *Service) finalize(ctx context.Context, sess *Session, decision Decision) (*Arrival, error) {
	logger := s.log("finalize").With("session_id", sess.ID, "user_id", sess.UserID)

	arrival := &Arrival{SessionID: sess.ID, Outcome: decision.Outcome, Message: decision.Message}
	var name string
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		arrival.Outcome, arrival.Message, arrival.Fee = decision.Outcome, decision.Message, 0

		ok, err := s.repo.Finish(ctx, tx, sess.ID, StatusArrived)
		if err != nil {
			return err
		}
		if !ok {
			arrival.Outcome = OutcomeAbandoned
			return nil
		}

		c, err := s.world.GetCharacter(ctx, tx, sess.UserID)
		if err != nil {
			return err
		}
		name = c.Name

		if arrival.Outcome == OutcomeFee {
			err := s.world.Spend(ctx, tx, sess.UserID, decision.Fee)
			switch {
			case errors.Is(err, world.ErrInsufficientFunds):
				arrival.Outcome = OutcomeRetreat
				arrival.Message = fmt.Sprintf("You cannot afford the %d credit docking fee and turn back.", decision.Fee)
			case err != nil:
				return err
			default:
				arrival.Fee = decision.Fee
				if decision.FactionID != nil {
					if err := s.world.CreditFaction(ctx, tx, *decision.FactionID, decision.Fee); err != nil {
						return err
					}
				}
			}
		}

		target := sess.Destination
		if arrival.Outcome == OutcomeRetreat {
			target = sess.Origin
		}
		arrival.LocationID = target

		if err := s.world.SetPosition(ctx, tx, sess.UserID, &target, world.StatusDocked); err != nil {
			return err
		}
		ship, err := s.world.GetActiveShip(ctx, tx, sess.UserID)
		if errors.Is(err, world.ErrNoActiveShip) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.world.SetDocked(ctx, tx, ship.ID, &target); err != nil {
			return err
		}
		if arrival.Outcome == OutcomeRetreat && decision.Hostile && s.cfg.RetreatHullDamage > 0 {
			if _, err := s.world.AdjustHull(ctx, tx, ship.ID, -s.cfg.RetreatHullDamage); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to finalize arrival", "error", err)
		return nil, err
	}
	if arrival.Outcome == OutcomeAbandoned {
		logger.Debug("Session ended elsewhere")
		return arrival, nil
	}

	logger.Info("Trip finished", "outcome", arrival.Outcome, "location_id", arrival.LocationID, "fee", arrival.Fee)
	s.afterArrival(ctx, sess, name, arrival)
	return arrival, nil
}

// afterArrival is the best-effort chat side of an arrival or retreat.
func (s *Service) afterArrival(ctx context.Context, sess *Session, name string, arrival *Arrival) {
	gw := s.channels.Gateway()
	color := gateway.ColorSuccess
	if arrival.Outcome == OutcomeRetreat {
		color = gateway.ColorDanger
	}
	notice := gateway.Embed{Title: "Arrival", Description: arrival.Message, Color: color}

	s.channels.Grant(ctx, arrival.LocationID, sess.UserID)
	if arrival.Outcome == OutcomeRetreat {
		s.channels.Post(ctx, arrival.LocationID, gateway.Embed{
			Description: fmt.Sprintf("%s was turned back and has returned.", name),
			Color:       gateway.ColorWarning,
		})
	} else {
		s.channels.Post(ctx, arrival.LocationID, gateway.Embed{
			Description: fmt.Sprintf("%s has arrived.", name),
			Color:       gateway.ColorInfo,
		})
	}

	if sess.TransitChannel != "" {
		if _, err := gw.Post(ctx, gateway.ChannelRef(sess.TransitChannel), notice); err != nil {
			s.log("arrival").Warn("Failed to post arrival notice", "session_id", sess.ID, "error", err)
		}
		s.teardown(sess.TransitChannel, s.cfg.TransitTeardown())
	} else if err := gw.DirectMessage(ctx, sess.UserID, notice); err != nil {
		s.log("arrival").Warn("Failed to send arrival notice", "session_id", sess.ID, "error", err)
	}

	s.ended(ctx, *sess)
}

func (s *Service) ended(ctx context.Context, sess Session) {
	s.stopSession(sess.ID)
	for _, l := range s.snapshotListeners() {
		l.Ended(ctx, sess)
	}
	s.notifier.Publish(ctx, mapfeed.TravelCompleted, sess.ID)
}

// teardown deletes a transit channel once, after delay.
func (s *Service) teardown(channel string, delay time.Duration) {
	s.mu.Lock()
	if s.torndown[channel] {
		s.mu.Unlock()
		return
	}
	s.torndown[channel] = true
	ctx := s.base
	s.mu.Unlock()

	remove := func() {
		if err := s.channels.Gateway().DeleteChannel(ctx, gateway.ChannelRef(channel)); err != nil {
			s.log("teardown").Warn("Failed to delete transit channel", "channel", channel, "error", err)
		}
	}
	if delay <= 0 {
		remove()
		return
	}
	time.AfterFunc(delay, remove)
}

// ExitPreview returns the survival chance for the user's current trip
// without rolling.
func (s *Service) ExitPreview(ctx context.Context, userID int64) (int, *world.Corridor, error) {
	sess, cor, err := s.Status(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	if sess == nil {
		return 0, nil, errors.Preconditionf("You are not currently traveling.")
	}
	if cor.Type == world.CorridorLocal {
		return 0, nil, errors.Preconditionf("You cannot perform an emergency exit in local space.")
	}
	return SurvivalChance(cor.Danger), cor, nil
}

// EmergencyExit tears the ship out of the corridor. Survivors take heavy
// damage and land somewhere random; the rest die.
func (s *Service) EmergencyExit(ctx context.Context, userID int64) (*ExitResult, error) {
	logger := s.log("emergency_exit").With("user_id", userID)

	chance, _, err := s.ExitPreview(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.ActiveSession(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.Preconditionf("You are not currently traveling.")
	}

	res := &ExitResult{Chance: chance, Roll: s.dice.D100()}
	res.Survived = res.Roll <= chance
	if res.Survived {
		res.HPLost = s.dice.Between(s.cfg.EmergencyMinDamage, s.cfg.EmergencyMaxDamage)
		res.HullLost = s.dice.Between(s.cfg.EmergencyMinDamage+10, s.cfg.EmergencyMaxDamage+10)
	}

	candidates, err := s.exitCandidates(ctx)
	if err != nil {
		return nil, err
	}

	var released *world.Released
	err = s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		released = nil
		ok, err := s.repo.Finish(ctx, tx, sess.ID, StatusEmergencyExit)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Preconditionf("Your trip has already ended.")
		}

		if !res.Survived {
			released, err = s.world.Kill(ctx, tx, userID, s.clock.WallNow())
			return err
		}

		c, err := s.world.GetCharacter(ctx, tx, userID)
		if err != nil {
			return err
		}
		// Surviving the roll means surviving the trauma.
		res.HPLost = min(res.HPLost, c.HP-1)
		if _, err := s.world.AdjustHP(ctx, tx, userID, -res.HPLost); err != nil {
			return err
		}

		target := sess.Origin
		res.Location = ""
		if len(candidates) > 0 {
			pick := candidates[s.dice.IntN(len(candidates))]
			target, res.Location = pick.ID, pick.Name
		}
		res.LocationID = &target
		if err := s.world.SetPosition(ctx, tx, userID, &target, world.StatusDocked); err != nil {
			return err
		}

		ship, err := s.world.GetActiveShip(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, err := s.world.AdjustHull(ctx, tx, ship.ID, -res.HullLost); err != nil {
			return err
		}
		return s.world.SetDocked(ctx, tx, ship.ID, &target)
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypePrecondition) {
			logger.Error("Emergency exit failed", "error", err)
		}
		return nil, err
	}

	logger.Info("Emergency exit", "survived", res.Survived, "roll", res.Roll, "chance", chance)
	s.afterExit(ctx, sess, res, released)
	return res, nil
}

func (s *Service) exitCandidates(ctx context.Context) ([]world.Location, error) {
	locations, err := s.world.ListLocations(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := locations[:0]
	for _, l := range locations {
		if l.Type != world.LocationGate && !l.Derelict {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Service) afterExit(ctx context.Context, sess *Session, res *ExitResult, released *world.Released) {
	gw := s.channels.Gateway()

	var embed gateway.Embed
	if res.Survived {
		embed = gateway.Embed{
			Title:       "Emergency exit survived",
			Description: fmt.Sprintf("You are thrown violently out of the corridor and wake near %s.", res.Location),
			Color:       gateway.ColorWarning,
		}.
			WithField("Survival roll", fmt.Sprintf("%d/%d", res.Roll, res.Chance), true).
			WithField("Health lost", fmt.Sprintf("%d HP", res.HPLost), true).
			WithField("Hull damage", fmt.Sprintf("%d", res.HullLost), true)
		s.channels.Grant(ctx, *res.LocationID, sess.UserID)
	} else {
		embed = gateway.Embed{
			Title:       "Emergency exit failed",
			Description: "The ship was torn apart by the corridor's unstable energies.",
			Color:       gateway.ColorDanger,
		}.WithField("Survival roll", fmt.Sprintf("%d/%d", res.Roll, res.Chance), true)
		if released != nil {
			for _, r := range released.Robberies {
				if r.ViewID != "" {
					s.views.Cancel(r.ViewID)
				}
			}
		}
	}

	if err := gw.DirectMessage(ctx, sess.UserID, embed); err != nil {
		s.log("emergency_exit").Warn("Failed to deliver exit result", "user_id", sess.UserID, "error", err)
	}
	if sess.TransitChannel != "" {
		s.teardown(sess.TransitChannel, 0)
	}
	s.ended(ctx, *sess)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m, sec := int(d/time.Minute), int(d%time.Minute/time.Second)
	if m == 0 {
		return fmt.Sprintf("%ds", sec)
	}
	return fmt.Sprintf("%dm %02ds", m, sec)
}

// Release finishes the chat side of engagements cleared elsewhere (logout,
// death): pending robbery prompts close and an aborted trip loses its
// timers and transit channel.
func (s *Service) Release(ctx context.Context, released *world.Released) {
	if released == nil {
		return
	}
	for _, r := range released.Robberies {
		if r.ViewID != "" {
			s.views.Cancel(r.ViewID)
		}
	}

	a := released.Travel
	if a == nil {
		return
	}
	sess, err := s.repo.GetSession(ctx, nil, a.SessionID)
	if err != nil {
		s.log("release").Warn("Failed to load aborted session", "session_id", a.SessionID, "error", err)
		sess = &Session{ID: a.SessionID, Origin: a.Origin, TransitChannel: a.TransitChannel, Status: StatusCancelled}
	}

	s.mu.Lock()
	if id, ok := s.awaiting[sess.ID]; ok {
		s.views.Cancel(id)
		delete(s.awaiting, sess.ID)
	}
	s.mu.Unlock()

	if a.TransitChannel != "" {
		s.teardown(a.TransitChannel, 0)
	}
	s.ended(ctx, *sess)
}
