// Package corridor runs the events that happen to ships in transit: rare
// danger-scaled hazards that every traveler in a channel must answer, and
// frequent per-traveler skill drills.
package corridor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"starlane-server/internal/analytics"
	"starlane-server/internal/casualty"
	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
)

const minHazardWindow = 30 * time.Second

// hazardRound tracks one open hazard until every traveler has answered or
// the window closes.
type hazardRound struct {
	hazard    Hazard
	corridor  string
	travelers []int64
	views     map[int64]string
	answered  map[int64]bool
	timer     *time.Timer
}

type Service struct {
	repo     *Repository
	travel   *travel.Repository
	world    *world.Repository
	clock    *gametime.Service
	channels *gateway.Channels
	views    *gateway.Views
	casualty *casualty.Service
	dice     *dice.Roller
	archive  *analytics.Archive
	hazards  config.HazardBalance
	micro    config.MicroBalance
	logger   *slog.Logger

	mu       sync.Mutex
	base     context.Context
	pending  map[int64][]*time.Timer
	rounds   map[int64]*hazardRound
	drilling map[string]bool
}

func NewService(
	repo *Repository,
	travelRepo *travel.Repository,
	worldRepo *world.Repository,
	clock *gametime.Service,
	channels *gateway.Channels,
	views *gateway.Views,
	harm *casualty.Service,
	roller *dice.Roller,
	archive *analytics.Archive,
	hazards config.HazardBalance,
	micro config.MicroBalance,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		travel:   travelRepo,
		world:    worldRepo,
		clock:    clock,
		channels: channels,
		views:    views,
		casualty: harm,
		dice:     roller,
		archive:  archive,
		hazards:  hazards,
		micro:    micro,
		logger:   logger,
		base:     context.Background(),
		pending:  make(map[int64][]*time.Timer),
		rounds:   make(map[int64]*hazardRound),
		drilling: make(map[string]bool),
	}
}

func (s *Service) log(operation string) *slog.Logger {
	return s.logger.With("component", "corridor_service", "operation", operation)
}

func (s *Service) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Start closes hazards orphaned by a restart, sets the context timers run
// under and re-arms hazards for trips still in flight.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if _, err := s.CloseStale(ctx); err != nil {
		return err
	}

	sessions, err := s.travel.ActiveSessions(ctx)
	if err != nil {
		return err
	}
	now := s.clock.WallNow()
	armed := 0
	for _, sess := range sessions {
		if !sess.EndTime.After(now) {
			continue
		}
		c, err := s.world.GetCorridor(ctx, nil, sess.CorridorID)
		if err != nil {
			s.log("start").Warn("Failed to load corridor for resumed trip", "session_id", sess.ID, "error", err)
			continue
		}
		armed += s.arm(sess, *c, now)
	}
	s.log("start").Info("Corridor hazards re-armed", "sessions", len(sessions), "hazards", armed)
	return nil
}

// CloseStale closes hazards whose response window ended without a round
// timer to resolve them. Returns how many were closed.
func (s *Service) CloseStale(ctx context.Context) (int, error) {
	stale, err := s.repo.StaleHazards(ctx, s.clock.WallNow())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, h := range stale {
		s.mu.Lock()
		_, live := s.rounds[h.ID]
		s.mu.Unlock()
		if live {
			continue
		}
		if _, err := s.repo.CloseHazard(ctx, h.ID); err != nil {
			s.log("close_stale").Warn("Failed to close stale hazard", "event_id", h.ID, "error", err)
			continue
		}
		closed++
	}
	if closed > 0 {
		s.log("close_stale").Info("Closed stale hazards", "count", closed)
	}
	return closed, nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timers := range s.pending {
		for _, t := range timers {
			t.Stop()
		}
		delete(s.pending, id)
	}
	for _, r := range s.rounds {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
}

// Departed rolls the session's hazards up front and schedules each one at
// a random point of the trip.
func (s *Service) Departed(_ context.Context, sess travel.Session, c world.Corridor) {
	s.arm(sess, c, sess.StartTime)
}

// arm rolls hazard points over the first 70% of the trip and schedules the
// ones still ahead of now. Returns how many were scheduled.
func (s *Service) arm(sess travel.Session, c world.Corridor, now time.Time) int {
	if sess.TransitChannel == "" || c.Type == world.CorridorLocal || c.Danger <= 0 {
		return 0
	}
	latest := time.Duration(float64(sess.EndTime.Sub(sess.StartTime)) * 0.7)
	if latest <= minHazardWindow {
		return 0
	}
	elapsed := now.Sub(sess.StartTime)

	chance := float64(c.Danger) * s.hazards.ChancePerDanger
	var timers []*time.Timer
	for range s.hazards.MaxPerSession {
		if !s.dice.Chance(chance) {
			continue
		}
		at := s.dice.Duration(minHazardWindow, latest)
		if at <= elapsed {
			continue
		}
		timers = append(timers, s.hazardTimer(sess.ID, at-elapsed))
	}
	if len(timers) == 0 {
		return 0
	}

	s.mu.Lock()
	s.pending[sess.ID] = append(s.pending[sess.ID], timers...)
	s.mu.Unlock()
	s.log("arm").Debug("Hazards scheduled", "session_id", sess.ID, "count", len(timers))
	return len(timers)
}

func (s *Service) hazardTimer(sessionID int64, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() {
		_, err := s.TriggerHazard(s.baseContext(), sessionID)
		switch {
		case err == nil:
		case errors.IsType(err, errors.ErrorTypePrecondition):
			s.log("trigger_hazard").Debug("Hazard skipped", "session_id", sessionID, "reason", err)
		default:
			s.log("trigger_hazard").Error("Hazard failed", "session_id", sessionID, "error", err)
		}
	})
}

// Ended drops hazards that have not fired yet.
func (s *Service) Ended(_ context.Context, sess travel.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.pending[sess.ID] {
		t.Stop()
	}
	delete(s.pending, sess.ID)
}

var responseButtons = []gateway.Button{
	{Choice: string(ResponseEmergency), Label: "Emergency protocols", Style: gateway.ButtonDanger},
	{Choice: string(ResponseStandard), Label: "Standard procedure", Style: gateway.ButtonPrimary},
	{Choice: string(ResponseBasic), Label: "Basic precautions", Style: gateway.ButtonSecondary},
	{Choice: string(ResponseNone), Label: "Ride it out", Style: gateway.ButtonSecondary},
}

// TriggerHazard opens a hazard on the session's transit channel. Everyone
// traveling on that channel gets their own response prompt.
func (s *Service) TriggerHazard(ctx context.Context, sessionID int64) (*Hazard, error) {
	logger := s.log("trigger_hazard").With("session_id", sessionID)

	sess, err := s.travel.GetSession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != travel.StatusTraveling || sess.TransitChannel == "" {
		return nil, errors.Preconditionf("session %d is not in an open corridor", sessionID)
	}
	active, err := s.repo.ActiveHazard(ctx, sess.TransitChannel)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.Preconditionf("a hazard is already active on %s", sess.TransitChannel)
	}

	now := s.clock.WallNow()
	window := s.dice.Duration(time.Duration(s.hazards.MinWindowSeconds)*time.Second, time.Duration(s.hazards.MaxWindowSeconds)*time.Second)
	window = min(window, time.Duration(float64(sess.Remaining(now))*0.7))
	if window < minHazardWindow {
		return nil, errors.Preconditionf("session %d is too close to arrival", sessionID)
	}

	cor, err := s.world.GetCorridor(ctx, nil, sess.CorridorID)
	if err != nil {
		return nil, err
	}
	travelers, err := s.travel.ActiveOnChannel(ctx, sess.TransitChannel)
	if err != nil {
		return nil, err
	}

	h := Hazard{
		Channel:     sess.TransitChannel,
		CorridorID:  cor.ID,
		Kind:        HazardKinds[s.dice.IntN(len(HazardKinds))],
		Severity:    Severity(s.dice, cor.Danger),
		TriggeredAt: now,
		ExpiresAt:   now.Add(window),
	}
	if h.ID, err = s.repo.CreateHazard(ctx, h); err != nil {
		return nil, err
	}

	round := &hazardRound{
		hazard:   h,
		corridor: cor.Name,
		views:    make(map[int64]string),
		answered: make(map[int64]bool),
	}
	for _, t := range travelers {
		round.travelers = append(round.travelers, t.UserID)
	}

	s.mu.Lock()
	s.rounds[h.ID] = round
	for _, uid := range round.travelers {
		round.views[uid] = s.views.Open("hazard", []int64{uid}, 0, s.hazardHandler(h.ID))
	}
	round.timer = time.AfterFunc(window, func() {
		if err := s.ResolveHazard(s.baseContext(), h.ID); err != nil {
			s.log("resolve_hazard").Error("Hazard resolution failed", "event_id", h.ID, "error", err)
		}
	})
	views := make(map[int64]string, len(round.views))
	for uid, id := range round.views {
		views[uid] = id
	}
	s.mu.Unlock()

	gw := s.channels.Gateway()
	channel := gateway.ChannelRef(h.Channel)
	alert := gateway.Embed{
		Title:       fmt.Sprintf("⚠️ %s", h.Kind.Title()),
		Description: profiles[h.Kind].Description,
		Color:       gateway.ColorDanger,
	}.WithField("Severity", fmt.Sprintf("%d/5", h.Severity), true).
		WithField("Respond within", formatWindow(window), true)
	if _, err := gw.Post(ctx, channel, alert); err != nil {
		logger.Warn("Failed to post hazard alert", "error", err)
	}
	for _, uid := range round.travelers {
		prompt := gateway.View{
			ID: views[uid],
			Embed: gateway.Embed{
				Title:       "Choose your response",
				Description: "Stronger responses cut more of the damage.",
				Color:       gateway.ColorWarning,
				Mentions:    []int64{uid},
			},
			Buttons: responseButtons,
			Users:   []int64{uid},
		}
		if _, err := gw.PresentView(ctx, channel, prompt); err != nil {
			logger.Warn("Failed to present hazard prompt", "user_id", uid, "error", err)
		}
	}

	logger.Info("Hazard triggered", "event_id", h.ID, "kind", h.Kind, "severity", h.Severity,
		"travelers", len(round.travelers), "window", window)
	return &h, nil
}

func (s *Service) hazardHandler(eventID int64) gateway.Handler {
	return func(ctx context.Context, res gateway.Resolution) error {
		if res.TimedOut {
			return nil
		}
		resp, ok := ParseResponse(res.Choice)
		if !ok {
			resp = ResponseNone
		}
		return s.Respond(ctx, eventID, res.UserID, resp)
	}
}

// Respond records a traveler's answer and resolves the hazard once the
// last traveler is in.
func (s *Service) Respond(ctx context.Context, eventID, userID int64, resp Response) error {
	recorded, err := s.repo.RecordResponse(ctx, eventID, userID, resp, s.clock.WallNow())
	if err != nil {
		return err
	}
	if !recorded {
		return errors.Conflictf("you have already responded to this hazard")
	}

	s.mu.Lock()
	round, ok := s.rounds[eventID]
	done := false
	if ok {
		round.answered[userID] = true
		done = len(round.answered) >= len(round.travelers)
	}
	s.mu.Unlock()

	if done {
		return s.ResolveHazard(ctx, eventID)
	}
	return nil
}

// ResolveHazard applies damage to everyone still on the channel. Only the
// first call for an event does anything.
func (s *Service) ResolveHazard(ctx context.Context, eventID int64) error {
	logger := s.log("resolve_hazard").With("event_id", eventID)

	closed, err := s.repo.CloseHazard(ctx, eventID)
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}

	s.mu.Lock()
	round, ok := s.rounds[eventID]
	delete(s.rounds, eventID)
	s.mu.Unlock()
	if !ok {
		logger.Warn("Hazard closed without a live round")
		return nil
	}
	if round.timer != nil {
		round.timer.Stop()
	}
	for _, id := range round.views {
		s.views.Cancel(id)
	}

	h := round.hazard
	responses, err := s.repo.Responses(ctx, eventID)
	if err != nil {
		return err
	}
	still, err := s.travel.ActiveOnChannel(ctx, h.Channel)
	if err != nil {
		return err
	}
	present := make(map[int64]bool, len(still))
	for _, sess := range still {
		present[sess.UserID] = true
	}

	result := gateway.Embed{
		Title: fmt.Sprintf("%s has passed", h.Kind.Title()),
		Color: gateway.ColorWarning,
	}
	var silent []string
	cause := fmt.Sprintf("%s in %s", strings.ToLower(h.Kind.Title()), round.corridor)
	now := s.clock.WallNow()

	for _, uid := range round.travelers {
		if !present[uid] {
			continue
		}
		resp, answered := responses[uid]
		dmg := UnansweredDamage(s.hazards, h.Kind, h.Severity)
		if answered {
			dmg = HazardDamage(s.hazards, h.Kind, h.Severity, resp)
		}

		out, err := s.casualty.Harm(ctx, uid, dmg.HP, dmg.Hull, cause)
		if err != nil {
			logger.Error("Failed to apply hazard damage", "user_id", uid, "error", err)
			continue
		}

		c, err := s.world.GetCharacter(ctx, nil, uid)
		name := fmt.Sprintf("Traveler %d", uid)
		if err == nil {
			name = c.Name
		}
		line := fmt.Sprintf("-%d HP, -%d hull", out.HPLost, out.HullLost)
		if out.Died {
			line += " (killed)"
		}
		if !answered {
			silent = append(silent, name)
			resp = ResponseNone
			line += " (no response)"
		}
		result = result.WithField(name, line, true)

		s.archive.Record(analytics.Event{
			At:      now,
			Kind:    "corridor_hazard",
			UserID:  uid,
			Channel: h.Channel,
			Outcome: string(resp),
			Data: map[string]any{
				"event_id":  eventID,
				"hazard":    string(h.Kind),
				"severity":  h.Severity,
				"hp_lost":   out.HPLost,
				"hull_lost": out.HullLost,
				"answered":  answered,
				"died":      out.Died,
			},
		})
	}

	gw := s.channels.Gateway()
	channel := gateway.ChannelRef(h.Channel)
	if _, err := gw.Post(ctx, channel, result); err != nil {
		logger.Warn("Failed to post hazard result", "error", err)
	}
	if len(silent) > 0 {
		notice := gateway.Embed{
			Title:       "Failure to respond",
			Description: fmt.Sprintf("%s took the full force of the hazard unprepared.", strings.Join(silent, ", ")),
			Color:       gateway.ColorDanger,
		}
		if _, err := gw.Post(ctx, channel, notice); err != nil {
			logger.Warn("Failed to post non-response notice", "error", err)
		}
	}

	logger.Info("Hazard resolved", "responses", len(responses), "unanswered", len(silent))
	return nil
}

// CheckMicro is one pass of the micro event loop. Returns how many events
// fired.
func (s *Service) CheckMicro(ctx context.Context) (int, error) {
	candidates, err := s.repo.MicroCandidates(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.WallNow()
	quietStart := time.Duration(s.micro.QuietStartSeconds) * time.Second
	quietEnd := time.Duration(s.micro.QuietEndSeconds) * time.Second
	fired := 0
	for _, c := range candidates {
		elapsed := now.Sub(c.Start)
		if elapsed < quietStart || c.End.Sub(now) < quietEnd {
			continue
		}
		s.mu.Lock()
		busy := s.drilling[c.Channel]
		s.mu.Unlock()
		if busy {
			continue
		}

		last := c.Start
		if c.LastEvent != nil {
			last = *c.LastEvent
		}
		if !s.dice.Chance(MicroChance(s.micro, c.Danger, elapsed, now.Sub(last))) {
			continue
		}
		if _, err := s.TriggerMicro(ctx, c); err != nil {
			s.log("check_micro").Warn("Micro event failed", "session_id", c.SessionID, "error", err)
			continue
		}
		fired++
	}
	return fired, nil
}

// TriggerMicro starts a skill drill for one traveler.
func (s *Service) TriggerMicro(ctx context.Context, c microCandidate) (*MicroEvent, error) {
	logger := s.log("trigger_micro").With("session_id", c.SessionID, "user_id", c.UserID)

	s.mu.Lock()
	if s.drilling[c.Channel] {
		s.mu.Unlock()
		return nil, errors.Preconditionf("a micro event is already running on %s", c.Channel)
	}
	s.drilling[c.Channel] = true
	s.mu.Unlock()
	release := func() {
		s.mu.Lock()
		delete(s.drilling, c.Channel)
		s.mu.Unlock()
	}

	char, err := s.world.GetCharacter(ctx, nil, c.UserID)
	if err != nil {
		release()
		return nil, err
	}

	templates := TemplatesFor(c.Danger)
	tpl := templates[s.dice.IntN(len(templates))]
	ev := MicroEvent{
		SessionID:   c.SessionID,
		Channel:     c.Channel,
		UserID:      c.UserID,
		Template:    tpl,
		Description: fmt.Sprintf(tpl.Description, c.CorridorName),
		Expected:    ExpectedSkill(s.dice, c.Danger),
	}
	ev.SuccessRate = SuccessRate(char.Skill(tpl.Skill), ev.Expected)
	ev.XP, ev.Damage = MicroStakes(s.dice, c.Danger)

	if ev.ID, err = s.repo.CreateMicro(ctx, ev, s.clock.WallNow()); err != nil {
		release()
		return nil, err
	}

	viewID := s.views.Open("micro_event", []int64{c.UserID}, s.micro.ResponseTimeout(),
		func(ctx context.Context, res gateway.Resolution) error {
			defer release()
			outcome := MicroIgnored
			switch {
			case res.TimedOut:
				outcome = MicroTimeout
			case res.Choice == "respond":
				outcome = MicroFailure
				if s.dice.D100() <= ev.SuccessRate {
					outcome = MicroSuccess
				}
			}
			return s.resolveMicro(ctx, ev, outcome)
		})

	prompt := gateway.View{
		ID: viewID,
		Embed: gateway.Embed{
			Title:       tpl.Title,
			Description: ev.Description,
			Color:       gateway.ColorWarning,
			Mentions:    []int64{c.UserID},
		}.WithField("Skill", fmt.Sprintf("%s (%d%% chance)", tpl.Skill, ev.SuccessRate), true).
			WithField("Stakes", fmt.Sprintf("+%d XP or -%d %s", ev.XP, ev.Damage, tpl.Damage), true),
		Buttons: []gateway.Button{
			{Choice: "respond", Label: "Respond", Style: gateway.ButtonPrimary},
			{Choice: "ignore", Label: "Ignore", Style: gateway.ButtonSecondary},
		},
		Users: []int64{c.UserID},
	}
	if _, err := s.channels.Gateway().PresentView(ctx, gateway.ChannelRef(c.Channel), prompt); err != nil {
		logger.Warn("Failed to present micro event", "error", err)
		if s.views.Cancel(viewID) {
			release()
		}
		return nil, err
	}

	logger.Debug("Micro event started", "micro_event_id", ev.ID, "title", tpl.Title, "rate", ev.SuccessRate)
	return &ev, nil
}

func (s *Service) resolveMicro(ctx context.Context, ev MicroEvent, outcome MicroOutcome) error {
	logger := s.log("resolve_micro").With("micro_event_id", ev.ID, "user_id", ev.UserID)

	var (
		xp, damage int
		harm       *casualty.Outcome
	)
	if outcome == MicroSuccess {
		xp = ev.XP
	} else {
		damage = ev.Damage
	}

	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		if xp > 0 {
			if err := s.world.AddExperience(ctx, tx, ev.UserID, xp); err != nil {
				return err
			}
		}
		if damage > 0 {
			var err error
			switch ev.Template.Damage {
			case DamageHP:
				harm, err = s.casualty.HarmTx(ctx, tx, ev.UserID, damage, 0)
			case DamageHull:
				harm, err = s.casualty.HarmTx(ctx, tx, ev.UserID, 0, damage)
			case DamageFuel:
				var ship *world.Ship
				ship, err = s.world.GetActiveShip(ctx, tx, ev.UserID)
				if err == nil {
					_, err = s.world.AdjustFuel(ctx, tx, ship.ID, -damage)
				}
			}
			if err != nil {
				return err
			}
		}
		return s.repo.ResolveMicro(ctx, tx, ev.ID, outcome == MicroSuccess || outcome == MicroFailure,
			outcome == MicroSuccess, xp, damage)
	})
	if err != nil {
		logger.Error("Failed to resolve micro event", "error", err)
		return err
	}
	s.casualty.Settle(ctx, ev.UserID, harm, strings.ToLower(ev.Template.Title))

	result := gateway.Embed{Title: ev.Template.Title}
	switch outcome {
	case MicroSuccess:
		result.Description = fmt.Sprintf("Handled cleanly. +%d XP.", xp)
		result.Color = gateway.ColorSuccess
	case MicroFailure:
		result.Description = fmt.Sprintf("The fix didn't hold. -%d %s.", damage, ev.Template.Damage)
		result.Color = gateway.ColorDanger
	case MicroIgnored:
		result.Description = fmt.Sprintf("Left alone, it got worse. -%d %s.", damage, ev.Template.Damage)
		result.Color = gateway.ColorDanger
	case MicroTimeout:
		result.Description = fmt.Sprintf("Nobody answered in time. -%d %s.", damage, ev.Template.Damage)
		result.Color = gateway.ColorDanger
	}
	if _, err := s.channels.Gateway().Post(ctx, gateway.ChannelRef(ev.Channel), result); err != nil {
		logger.Warn("Failed to post micro event result", "error", err)
	}

	s.archive.Record(analytics.Event{
		At:        s.clock.WallNow(),
		Kind:      "micro_event",
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		Channel:   ev.Channel,
		Outcome:   string(outcome),
		Data: map[string]any{
			"title":        ev.Template.Title,
			"skill":        string(ev.Template.Skill),
			"expected":     ev.Expected,
			"success_rate": ev.SuccessRate,
			"xp":           xp,
			"damage":       damage,
			"damage_type":  string(ev.Template.Damage),
		},
	})
	return nil
}

func formatWindow(d time.Duration) string {
	m, sec := int(d/time.Minute), int(d%time.Minute/time.Second)
	if m == 0 {
		return fmt.Sprintf("%ds", sec)
	}
	return fmt.Sprintf("%dm %02ds", m, sec)
}
