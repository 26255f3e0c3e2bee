package travel

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
	"starlane-server/internal/world/worldtest"
)

type harness struct {
	f     *worldtest.Fixture
	clock *gametime.ManualClock
	rec   *gateway.Recorder
	views *gateway.Views
	svc   *Service
	l1    *world.Location
	l2    *world.Location
	route *world.Corridor
}

func newHarness(t *testing.T, roller *dice.Roller, destOpts ...func(*world.Location)) *harness {
	t.Helper()
	ctx := context.Background()

	f := worldtest.New(t)
	clock := gametime.NewManualClock(worldtest.Start)
	gt := gametime.NewService(f.DB, clock, slog.Default())
	if err := gt.Init(ctx, "Test", worldtest.Start, 4); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if roller == nil {
		roller = dice.Seeded(1)
	}
	rec := gateway.NewRecorder()
	views := gateway.NewViews(slog.Default())
	channels := gateway.NewChannels(rec, f.Repo, slog.Default())
	svc := NewService(NewRepository(f.DB, slog.Default()), f.Repo, gt, channels, views, nil, roller,
		config.DefaultBalance().Travel, slog.Default())
	t.Cleanup(svc.Stop)

	l1 := f.Location(t, "Hale", world.LocationColony, "Vega")
	l2 := f.Location(t, "Dorn", world.LocationColony, "Sol", destOpts...)
	route := f.Corridor(t, "Hale-Dorn Run", l1.ID, l2.ID, 300, 20, 2)
	f.Character(t, 1, "Ada", l1.ID, 150)

	return &harness{f: f, clock: clock, rec: rec, views: views, svc: svc, l1: l1, l2: l2, route: route}
}

func (h *harness) character(t *testing.T) *world.Character {
	t.Helper()
	c, err := h.f.Repo.GetCharacter(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	return c
}

func (h *harness) depart(t *testing.T) *Departure {
	t.Helper()
	dep, err := h.svc.Depart(context.Background(), 1, h.route.ID)
	if err != nil {
		t.Fatalf("Depart: %v", err)
	}
	return dep
}

func TestDepartAndArrive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	dep := h.depart(t)
	if got := dep.Session.EndTime.Sub(dep.Session.StartTime); got != 360*time.Second {
		t.Fatalf("travel time = %v, want 6m", got)
	}
	if dep.FuelLeft != 80 {
		t.Fatalf("fuel left = %d, want 80", dep.FuelLeft)
	}
	if dep.Channel == "" {
		t.Fatal("no transit channel created")
	}

	c := h.character(t)
	if c.CurrentLocation != nil || c.Status != world.StatusTraveling {
		t.Fatalf("in transit: location = %v, status = %s", c.CurrentLocation, c.Status)
	}
	if n := h.f.Int(t, `SELECT current_fuel FROM ships WHERE owner_id = 1`); n != 80 {
		t.Fatalf("stored fuel = %d, want 80", n)
	}

	if _, err := h.svc.Depart(ctx, 1, h.route.ID); !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Fatalf("second departure error = %v, want precondition", err)
	}

	h.clock.Advance(360 * time.Second)
	arrival, err := h.svc.Complete(ctx, dep.Session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if arrival.Outcome != OutcomeGranted || arrival.LocationID != h.l2.ID {
		t.Fatalf("arrival = %+v", arrival)
	}

	c = h.character(t)
	if c.CurrentLocation == nil || *c.CurrentLocation != h.l2.ID || c.Status != world.StatusDocked {
		t.Fatalf("after arrival: location = %v, status = %s", c.CurrentLocation, c.Status)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM travel_sessions WHERE status = 'arrived'`); n != 1 {
		t.Fatalf("arrived sessions = %d, want 1", n)
	}

	again, err := h.svc.Complete(ctx, dep.Session.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if again.Outcome != OutcomeAbandoned {
		t.Fatalf("second Complete outcome = %s, want abandoned", again.Outcome)
	}
}

func TestDepartWithoutFuel(t *testing.T) {
	h := newHarness(t, nil)
	h.f.Exec(t, `UPDATE ships SET current_fuel = 5 WHERE owner_id = 1`)

	_, err := h.svc.Depart(context.Background(), 1, h.route.ID)
	if !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Fatalf("Depart error = %v, want precondition", err)
	}
	if c := h.character(t); c.CurrentLocation == nil || *c.CurrentLocation != h.l1.ID {
		t.Fatal("character left despite the refusal")
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM travel_sessions`); n != 0 {
		t.Fatalf("sessions = %d, want 0", n)
	}
}

func TestDepartSurvivesChannelFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Fail("create_channel")

	dep := h.depart(t)
	if dep.Channel != "" {
		t.Fatalf("channel = %q, want none", dep.Channel)
	}
	if dms := h.rec.Ops("dm"); len(dms) != 1 {
		t.Fatalf("direct messages = %d, want 1", len(dms))
	}
}

func declineOrTimeout(t *testing.T, timeout bool) {
	h := newHarness(t, nil, worldtest.Faction(world.FactionGovernment))
	ctx := context.Background()

	dep := h.depart(t)
	h.clock.Advance(360 * time.Second)

	arrival, err := h.svc.Complete(ctx, dep.Session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if arrival.Outcome != OutcomePending || arrival.Fee != 500 {
		t.Fatalf("arrival = %+v, want pending 500 fee", arrival)
	}

	view := h.rec.LastView()
	if view == nil || len(view.Buttons) != 2 {
		t.Fatalf("docking prompt = %+v", view)
	}

	if timeout {
		err = h.views.Expire(view.ID)
	} else {
		err = h.views.Resolve(ctx, view.ID, 1, "leave")
	}
	if err != nil {
		t.Fatalf("resolving prompt: %v", err)
	}

	c := h.character(t)
	if c.CurrentLocation == nil || *c.CurrentLocation != h.l1.ID {
		t.Fatalf("location = %v, want origin %d", c.CurrentLocation, h.l1.ID)
	}
	if c.Money != 150 {
		t.Fatalf("money = %d, want 150", c.Money)
	}
	if n := h.f.Int(t, `SELECT hull_integrity FROM ships WHERE owner_id = 1`); n != 100 {
		t.Fatalf("hull = %d, want untouched", n)
	}
}

func TestDockingFeeDeclined(t *testing.T) { declineOrTimeout(t, false) }
func TestDockingFeeTimeout(t *testing.T)  { declineOrTimeout(t, true) }

func TestDockingFeePaid(t *testing.T) {
	h := newHarness(t, nil, worldtest.Faction(world.FactionGovernment))
	ctx := context.Background()
	h.f.Exec(t, `UPDATE characters SET money = 600 WHERE user_id = 1`)

	dep := h.depart(t)
	h.clock.Advance(360 * time.Second)
	if _, err := h.svc.Complete(ctx, dep.Session.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := h.views.Resolve(ctx, h.rec.LastView().ID, 1, "pay"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	c := h.character(t)
	if c.CurrentLocation == nil || *c.CurrentLocation != h.l2.ID {
		t.Fatalf("location = %v, want destination", c.CurrentLocation)
	}
	if c.Money != 100 {
		t.Fatalf("money = %d, want 100", c.Money)
	}
}

func TestHostileRetreatDamagesHull(t *testing.T) {
	h := newHarness(t, nil, worldtest.Faction(world.FactionBandit))
	ctx := context.Background()
	h.f.Exec(t, `INSERT INTO character_reputation (user_id, location_id, reputation) VALUES (1, ?, 80)`, h.l2.ID)

	dep := h.depart(t)
	h.clock.Advance(360 * time.Second)
	arrival, err := h.svc.Complete(ctx, dep.Session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if arrival.Outcome != OutcomeRetreat || arrival.LocationID != h.l1.ID {
		t.Fatalf("arrival = %+v, want retreat to origin", arrival)
	}
	if n := h.f.Int(t, `SELECT hull_integrity FROM ships WHERE owner_id = 1`); n != 90 {
		t.Fatalf("hull = %d, want 90", n)
	}
}

func TestStationaryJobsBlockDeparture(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	jobID, err := h.f.Repo.CreateJob(ctx, nil, world.Job{LocationID: h.l1.ID, Title: "Scrub reactor vents", Reward: 40})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if ok, err := h.f.Repo.TakeJob(ctx, nil, jobID, 1, worldtest.Start); err != nil || !ok {
		t.Fatalf("TakeJob = %v, %v", ok, err)
	}

	_, err = h.svc.Routes(ctx, 1)
	var conflict *JobConflictError
	if !errors.As(err, &conflict) || len(conflict.Jobs) != 1 {
		t.Fatalf("Routes error = %v, want job conflict", err)
	}

	if _, err := h.svc.AbandonJobs(ctx, 1); err != nil {
		t.Fatalf("AbandonJobs: %v", err)
	}
	routes, err := h.svc.Routes(ctx, 1)
	if err != nil {
		t.Fatalf("Routes after abandoning: %v", err)
	}
	if len(routes) != 1 || routes[0].Time != 360*time.Second || !routes[0].Affordable {
		t.Fatalf("routes = %+v", routes)
	}
}

func TestEmergencyExitSurvived(t *testing.T) {
	// Roll 30 against a 30% chance, minimum damage, first candidate.
	h := newHarness(t, dice.New(&dice.Script{Ints: []int{29, 0, 0, 0}}))
	ctx := context.Background()
	dep := h.depart(t)

	chance, _, err := h.svc.ExitPreview(ctx, 1)
	if err != nil {
		t.Fatalf("ExitPreview: %v", err)
	}
	if chance != 30 {
		t.Fatalf("chance = %d, want 30", chance)
	}

	res, err := h.svc.EmergencyExit(ctx, 1)
	if err != nil {
		t.Fatalf("EmergencyExit: %v", err)
	}
	if !res.Survived || res.HPLost != 40 || res.HullLost != 50 || res.LocationID == nil {
		t.Fatalf("result = %+v", res)
	}

	c := h.character(t)
	if c.HP != c.MaxHP-40 || !c.Alive || c.CurrentLocation == nil {
		t.Fatalf("character after exit: hp = %d, alive = %v, location = %v", c.HP, c.Alive, c.CurrentLocation)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM travel_sessions WHERE session_id = ? AND status = 'emergency_exit'`, dep.Session.ID); n != 1 {
		t.Fatal("session not marked emergency_exit")
	}
	if dels := h.rec.Ops("delete_channel"); len(dels) != 1 {
		t.Fatalf("deleted channels = %d, want 1", len(dels))
	}

	if _, err := h.svc.Complete(ctx, dep.Session.ID); err != nil {
		t.Fatalf("Complete after exit: %v", err)
	}
	if c := h.character(t); *c.CurrentLocation != *res.LocationID {
		t.Fatal("late completion moved the character")
	}
}

func TestEmergencyExitFatal(t *testing.T) {
	h := newHarness(t, dice.New(&dice.Script{Ints: []int{89}}))
	h.depart(t)

	res, err := h.svc.EmergencyExit(context.Background(), 1)
	if err != nil {
		t.Fatalf("EmergencyExit: %v", err)
	}
	if res.Survived {
		t.Fatalf("survived with roll %d against %d", res.Roll, res.Chance)
	}
	if c := h.character(t); c.Alive {
		t.Fatal("character still alive")
	}
}

func TestEmergencyExitRefusedInLocalSpace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	approach := h.f.Corridor(t, "Hale Approach", h.l1.ID, h.l2.ID, 120, 5, 1)

	if _, err := h.svc.EmergencyExit(ctx, 1); !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Fatalf("exit while docked = %v, want precondition", err)
	}

	if _, err := h.svc.Depart(ctx, 1, approach.ID); err != nil {
		t.Fatalf("Depart: %v", err)
	}
	if _, err := h.svc.EmergencyExit(ctx, 1); !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Fatalf("exit in local space = %v, want precondition", err)
	}
}

func TestPlotRoute(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	far := h.f.Location(t, "Kess", world.LocationOutpost, "Sol")
	h.f.Corridor(t, "Dorn-Kess Run", h.l2.ID, far.ID, 200, 10, 1)
	h.f.Corridor(t, "Hale-Kess Longhaul", h.l1.ID, far.ID, 900, 50, 4)

	plot, err := h.svc.PlotRoute(ctx, 1, "kess")
	if err != nil {
		t.Fatalf("PlotRoute: %v", err)
	}
	if len(plot.Hops) != 2 || plot.Stops[1].ID != far.ID {
		t.Fatalf("plot = %+v, want two hops via Dorn", plot)
	}
	if plot.TotalFuel != 30 || plot.TotalTime != 600*time.Second {
		t.Fatalf("totals = %v / %d fuel", plot.TotalTime, plot.TotalFuel)
	}

	if _, err := h.svc.PlotRoute(ctx, 1, "Nowhere"); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Fatalf("unknown destination error = %v", err)
	}
}

func TestStartCompletesOverdueSessions(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.depart(t)

	h.clock.Advance(time.Hour)
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM travel_sessions WHERE session_id = ? AND status = 'arrived'`, dep.Session.ID); n != 1 {
		t.Fatal("overdue session was not completed")
	}
}
