package activity

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/timefmt"
	"starlane-server/internal/world"
	"starlane-server/internal/world/worldtest"
)

type harness struct {
	f       *worldtest.Fixture
	clock   *gametime.ManualClock
	rec     *gateway.Recorder
	tracker *Tracker
	home    *world.Location
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	f := worldtest.New(t)
	clock := gametime.NewManualClock(worldtest.Start)
	svc := gametime.NewService(f.DB, clock, slog.Default())
	if err := svc.Init(ctx, "Test", worldtest.Start, 4); err != nil {
		t.Fatalf("Init: %v", err)
	}

	rec := gateway.NewRecorder()
	views := gateway.NewViews(slog.Default())
	channels := gateway.NewChannels(rec, f.Repo, slog.Default())
	tracker := NewTracker(NewRepository(f.DB, slog.Default()), f.Repo, svc, channels, views,
		config.DefaultBalance().Activity, slog.Default())
	t.Cleanup(tracker.Stop)

	home := f.Location(t, "Hale", world.LocationColony, "Vega")
	f.Character(t, 1, "Ada", home.ID, 100)

	return &harness{f: f, clock: clock, rec: rec, tracker: tracker, home: home}
}

func (h *harness) activeWarnings(t *testing.T) int {
	return h.f.Int(t, `SELECT COUNT(*) FROM afk_warnings WHERE is_active = 1`)
}

func TestActivityCancelsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.clock.Advance(59 * time.Minute)
	if err := h.tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n := h.activeWarnings(t); n != 0 {
		t.Fatalf("warned after 59 minutes (%d warnings)", n)
	}

	h.clock.Advance(2 * time.Minute)
	if err := h.tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n := h.activeWarnings(t); n != 1 {
		t.Fatalf("active warnings = %d, want 1", n)
	}
	if dms := h.rec.Ops("dm"); len(dms) != 1 {
		t.Fatalf("direct messages = %d, want 1", len(dms))
	}

	if err := h.tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM afk_warnings`); n != 1 {
		t.Fatalf("second check created another warning (%d rows)", n)
	}

	h.clock.Advance(4 * time.Minute)
	cancelled, err := h.tracker.Touch(ctx, 1)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !cancelled {
		t.Fatal("Touch did not report the cancelled warning")
	}
	if n := h.activeWarnings(t); n != 0 {
		t.Fatalf("active warnings after touch = %d", n)
	}

	h.clock.Advance(10 * time.Minute)
	if err := h.tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if n := h.f.Int(t, `SELECT is_logged_in FROM characters WHERE user_id = 1`); n != 1 {
		t.Fatal("character was logged out after cancelling the warning")
	}
}

func TestSilentUserLoggedOutOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	away := h.f.Location(t, "Brink", world.LocationOutpost, "Vega")
	lane := h.f.Corridor(t, "Hale-Brink", h.home.ID, away.ID, 300, 20, 3)
	jobID, err := h.f.Repo.CreateJob(ctx, nil, world.Job{LocationID: h.home.ID, Title: "Scrub hulls", Reward: 50})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := h.f.Repo.TakeJob(ctx, nil, jobID, 1, worldtest.Start); err != nil {
		t.Fatalf("TakeJob: %v", err)
	}
	stamp := timefmt.Format(worldtest.Start)
	h.f.Exec(t, `UPDATE characters SET current_location = NULL, location_status = 'traveling' WHERE user_id = 1`)
	h.f.Exec(t, `INSERT INTO travel_sessions (user_id, corridor_id, origin_location, destination_location, start_time, end_time, transit_channel)
		VALUES (1, ?, ?, ?, ?, ?, 'transit-1')`, lane.ID, h.home.ID, away.ID, stamp, stamp)

	h.clock.Advance(61 * time.Minute)
	if err := h.tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	warnings, err := h.tracker.repo.ActiveWarnings(ctx)
	if err != nil || len(warnings) != 1 {
		t.Fatalf("ActiveWarnings = %v, %v", warnings, err)
	}

	h.clock.Advance(10 * time.Minute)
	if err := h.tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := h.tracker.Expire(ctx, warnings[0]); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	c, err := h.f.Repo.GetCharacter(ctx, nil, 1)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if c.LoggedIn {
		t.Fatal("character still logged in")
	}
	if c.CurrentLocation == nil || *c.CurrentLocation != h.home.ID {
		t.Errorf("character location = %v, want origin %d", c.CurrentLocation, h.home.ID)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM jobs WHERE taken_by = 1`); n != 0 {
		t.Errorf("jobs still held = %d", n)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM travel_sessions WHERE status = 'cancelled'`); n != 1 {
		t.Errorf("cancelled sessions = %d, want 1", n)
	}
	if deleted := h.rec.Ops("delete_channel"); len(deleted) != 1 || deleted[0].Channel != "transit-1" {
		t.Errorf("deleted channels = %+v", deleted)
	}

	logoutDMs := 0
	for _, dm := range h.rec.Ops("dm") {
		if dm.Embed.Title == "Logged out" {
			logoutDMs++
		}
	}
	if logoutDMs != 1 {
		t.Errorf("logout notices = %d, want 1", logoutDMs)
	}

	paused, err := h.tracker.clock.IsPaused(ctx)
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if !paused {
		t.Error("clock not auto-paused after the last player left")
	}
}

func TestLoginResumesClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.tracker.Logout(ctx, 1); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if paused, _ := h.tracker.clock.IsPaused(ctx); !paused {
		t.Fatal("clock not paused after logout")
	}

	if _, err := h.tracker.Login(ctx, 1); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if paused, _ := h.tracker.clock.IsPaused(ctx); paused {
		t.Error("clock still paused after login")
	}
}

func TestPausedClockHoldsInactivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clock := h.tracker.clock

	h.clock.Advance(61 * time.Minute)
	if err := clock.Pause(ctx, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n := h.activeWarnings(t); n != 0 {
		t.Fatalf("warnings while paused = %d, want 0", n)
	}

	if err := clock.Resume(ctx, true); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := h.tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	warnings, err := h.tracker.repo.ActiveWarnings(ctx)
	if err != nil || len(warnings) != 1 {
		t.Fatalf("ActiveWarnings = %v, %v", warnings, err)
	}

	h.clock.Advance(11 * time.Minute)
	if err := clock.Pause(ctx, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.tracker.Expire(ctx, warnings[0]); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	c, err := h.f.Repo.GetCharacter(ctx, nil, 1)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if !c.LoggedIn || h.activeWarnings(t) != 1 {
		t.Fatalf("logged in = %v, warnings = %d; want logout held while paused", c.LoggedIn, h.activeWarnings(t))
	}

	if err := clock.Resume(ctx, true); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := h.tracker.Expire(ctx, warnings[0]); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if c, _ := h.f.Repo.GetCharacter(ctx, nil, 1); c.LoggedIn {
		t.Error("character still logged in after the clock resumed")
	}
}
