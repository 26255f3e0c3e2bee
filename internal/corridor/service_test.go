package corridor

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"starlane-server/internal/casualty"
	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
	"starlane-server/internal/world/worldtest"
)

type harness struct {
	f       *worldtest.Fixture
	clock   *gametime.ManualClock
	rec     *gateway.Recorder
	views   *gateway.Views
	travel  *travel.Service
	svc     *Service
	session travel.Session
}

// newHarness puts character 1 in transit on a danger-2 corridor with its
// own transit channel.
func newHarness(t *testing.T, script *dice.Script) *harness {
	t.Helper()
	ctx := context.Background()

	f := worldtest.New(t)
	clock := gametime.NewManualClock(worldtest.Start)
	gt := gametime.NewService(f.DB, clock, slog.Default())
	if err := gt.Init(ctx, "Test", worldtest.Start, 4); err != nil {
		t.Fatalf("Init: %v", err)
	}

	balance := config.DefaultBalance()
	rec := gateway.NewRecorder()
	views := gateway.NewViews(slog.Default())
	channels := gateway.NewChannels(rec, f.Repo, slog.Default())
	travelSvc := travel.NewService(travel.NewRepository(f.DB, slog.Default()), f.Repo, gt, channels, views, nil,
		dice.Seeded(1), balance.Travel, slog.Default())
	t.Cleanup(travelSvc.Stop)

	harm := casualty.NewService(f.Repo, gt, channels, travelSvc, slog.Default())
	svc := NewService(NewRepository(f.DB, slog.Default()), travelSvc.Repository(), f.Repo, gt, channels, views, harm,
		dice.New(script), nil, balance.Hazards, balance.Micro, slog.Default())
	t.Cleanup(svc.Stop)

	from := f.Location(t, "Hale", world.LocationColony, "Vega")
	to := f.Location(t, "Dorn", world.LocationColony, "Sol")
	route := f.Corridor(t, "Hale-Dorn Run", from.ID, to.ID, 300, 20, 2)
	f.Character(t, 1, "Ada", from.ID, 150)

	dep, err := travelSvc.Depart(ctx, 1, route.ID)
	if err != nil {
		t.Fatalf("Depart: %v", err)
	}
	if dep.Channel == "" {
		t.Fatal("expected a transit channel")
	}
	return &harness{f: f, clock: clock, rec: rec, views: views, travel: travelSvc, svc: svc, session: dep.Session}
}

func (h *harness) hp(t *testing.T) int {
	return h.f.Int(t, `SELECT hp FROM characters WHERE user_id = 1`)
}

func (h *harness) hull(t *testing.T) int {
	return h.f.Int(t, `SELECT hull_integrity FROM ships WHERE owner_id = 1`)
}

func TestHazardResolvesWhenEveryoneResponds(t *testing.T) {
	// Window 180s, radiation, severity 2.
	h := newHarness(t, &dice.Script{Ints: []int{0, 0, 1}})
	ctx := context.Background()

	hz, err := h.svc.TriggerHazard(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("TriggerHazard: %v", err)
	}
	if hz.Kind != Radiation || hz.Severity != 2 {
		t.Fatalf("hazard = %s/%d", hz.Kind, hz.Severity)
	}
	if _, err := h.svc.TriggerHazard(ctx, h.session.ID); !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Fatalf("second hazard err = %v, want precondition", err)
	}

	view := h.rec.LastView()
	if view == nil || len(view.Buttons) != 4 {
		t.Fatalf("view = %+v", view)
	}
	if err := h.views.Resolve(ctx, view.ID, 1, string(ResponseStandard)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := h.hp(t); got != 85 {
		t.Errorf("hp = %d, want 85", got)
	}
	if got := h.hull(t); got != 91 {
		t.Errorf("hull = %d, want 91", got)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM corridor_events WHERE is_active = 1`); n != 0 {
		t.Errorf("active hazards = %d, want 0", n)
	}

	// A late timeout finds the event already closed.
	if err := h.svc.ResolveHazard(ctx, hz.ID); err != nil {
		t.Fatalf("ResolveHazard: %v", err)
	}
	if got := h.hp(t); got != 85 {
		t.Errorf("hp after repeat resolve = %d, want 85", got)
	}
}

func TestHazardTimeoutPunishesSilence(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{0, 0, 1}})
	ctx := context.Background()

	hz, err := h.svc.TriggerHazard(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("TriggerHazard: %v", err)
	}
	if err := h.svc.ResolveHazard(ctx, hz.ID); err != nil {
		t.Fatalf("ResolveHazard: %v", err)
	}

	if got := h.hp(t); got != 63 {
		t.Errorf("hp = %d, want 63", got)
	}
	if got := h.hull(t); got != 77 {
		t.Errorf("hull = %d, want 77", got)
	}

	notice := false
	for _, p := range h.rec.Ops("post") {
		if p.Embed.Title == "Failure to respond" && strings.Contains(p.Embed.Description, "Ada") {
			notice = true
		}
	}
	if !notice {
		t.Error("missing failure-to-respond notice")
	}

	view := h.rec.LastView()
	if err := h.views.Resolve(ctx, view.ID, 1, string(ResponseEmergency)); err != gateway.ErrAlreadyResolved {
		t.Errorf("late click err = %v, want ErrAlreadyResolved", err)
	}
}

func TestHazardSkipsTravelersWhoLeft(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{0, 0, 1}})
	ctx := context.Background()

	hz, err := h.svc.TriggerHazard(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("TriggerHazard: %v", err)
	}
	h.f.Exec(t, `UPDATE travel_sessions SET status = 'arrived' WHERE session_id = ?`, h.session.ID)

	if err := h.svc.ResolveHazard(ctx, hz.ID); err != nil {
		t.Fatalf("ResolveHazard: %v", err)
	}
	if got := h.hp(t); got != 100 {
		t.Errorf("hp = %d, want 100", got)
	}
}

func candidate(t *testing.T, h *harness) microCandidate {
	t.Helper()
	cands, err := h.svc.repo.MicroCandidates(context.Background())
	if err != nil {
		t.Fatalf("MicroCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	return cands[0]
}

func TestMicroEventIgnoredTakesDamage(t *testing.T) {
	// Low-tier template 0 (hull), expected skill 8, damage 3.
	h := newHarness(t, &dice.Script{Ints: []int{0}})
	ctx := context.Background()

	c := candidate(t, h)
	if c.Danger != 2 || c.LastEvent != nil {
		t.Fatalf("candidate = %+v", c)
	}
	ev, err := h.svc.TriggerMicro(ctx, c)
	if err != nil {
		t.Fatalf("TriggerMicro: %v", err)
	}
	if ev.Template.Damage != DamageHull || ev.Damage != 3 || ev.XP != 5 {
		t.Fatalf("event = %+v", ev)
	}
	if _, err := h.svc.TriggerMicro(ctx, c); !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Fatalf("second micro err = %v, want precondition", err)
	}

	if err := h.views.Resolve(ctx, h.rec.LastView().ID, 1, "ignore"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := h.hull(t); got != 97 {
		t.Errorf("hull = %d, want 97", got)
	}
	if n := h.f.Int(t, `SELECT damage_taken FROM travel_micro_events WHERE micro_event_id = ?`, ev.ID); n != 3 {
		t.Errorf("damage_taken = %d, want 3", n)
	}
	if n := h.f.Int(t, `SELECT responded FROM travel_micro_events WHERE micro_event_id = ?`, ev.ID); n != 0 {
		t.Errorf("responded = %d, want 0", n)
	}

	if c := candidate(t, h); c.LastEvent == nil {
		t.Error("last event time not derived from the log")
	}
	if _, err := h.svc.TriggerMicro(ctx, c); err != nil {
		t.Errorf("channel should be free again: %v", err)
	}
}

func TestMicroEventSuccessAwardsXP(t *testing.T) {
	// The d100 roll comes out as 1.
	h := newHarness(t, &dice.Script{Ints: []int{0}})
	ctx := context.Background()

	if _, err := h.svc.TriggerMicro(ctx, candidate(t, h)); err != nil {
		t.Fatalf("TriggerMicro: %v", err)
	}
	if err := h.views.Resolve(ctx, h.rec.LastView().ID, 1, "respond"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if n := h.f.Int(t, `SELECT experience FROM characters WHERE user_id = 1`); n != 5 {
		t.Errorf("experience = %d, want 5", n)
	}
	if got := h.hull(t); got != 100 {
		t.Errorf("hull = %d, want 100", got)
	}
	if n := h.f.Int(t, `SELECT success FROM travel_micro_events`); n != 1 {
		t.Errorf("success = %d, want 1", n)
	}
}

func TestCheckMicroHonorsQuietStart(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{0}, Floats: []float64{0}})

	fired, err := h.svc.CheckMicro(context.Background())
	if err != nil {
		t.Fatalf("CheckMicro: %v", err)
	}
	if fired != 0 {
		t.Errorf("fired = %d during the quiet start", fired)
	}
}

func TestStartRearmsHazardsForTripsInFlight(t *testing.T) {
	// Every slot fires; hazard points at 130s, 40s and 180s into the trip.
	h := newHarness(t, &dice.Script{Ints: []int{100, 10, 150}})
	ctx := context.Background()

	h.clock.Advance(60 * time.Second)
	if err := h.svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.svc.mu.Lock()
	armed := len(h.svc.pending[h.session.ID])
	h.svc.mu.Unlock()
	if armed != 2 {
		t.Fatalf("armed hazards = %d, want 2 still ahead of the clock", armed)
	}

	h.svc.Ended(ctx, h.session)
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	if _, ok := h.svc.pending[h.session.ID]; ok {
		t.Error("hazards still pending after the trip ended")
	}
}

func TestStartSkipsFinishedTrips(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{100}})
	ctx := context.Background()

	h.clock.Advance(time.Hour)
	if err := h.svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	if n := len(h.svc.pending); n != 0 {
		t.Errorf("pending sessions = %d, want 0", n)
	}
}

func TestMicroEventStampsSession(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{0}})
	ctx := context.Background()

	if c := candidate(t, h); c.LastEvent != nil {
		t.Fatalf("fresh trip has last event %v", c.LastEvent)
	}

	h.clock.Advance(90 * time.Second)
	if _, err := h.svc.TriggerMicro(ctx, candidate(t, h)); err != nil {
		t.Fatalf("TriggerMicro: %v", err)
	}

	c := candidate(t, h)
	want := worldtest.Start.Add(90 * time.Second)
	if c.LastEvent == nil || !c.LastEvent.Equal(want) {
		t.Errorf("last event = %v, want %v", c.LastEvent, want)
	}
}
