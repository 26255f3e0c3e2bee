package adapter

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"starlane-server/internal/activity"
	"starlane-server/internal/ambient"
	"starlane-server/internal/casualty"
	"starlane-server/internal/combat"
	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/radio"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
	"starlane-server/internal/world/worldtest"
)

const adminID = 9

type harness struct {
	f       *worldtest.Fixture
	clock   *gametime.ManualClock
	rec     *gateway.Recorder
	svc     Services
	adapter *Adapter
	hale    *world.Location
	dorn    *world.Location
	lane    *world.Corridor
}

// newHarness docks Ada (1) at Hale with a corridor to Dorn. The adapter
// rolls with the given ints; nil means a seeded roller.
func newHarness(t *testing.T, ints []int, rl config.RateLimitConfig) *harness {
	t.Helper()
	ctx := context.Background()

	f := worldtest.New(t)
	clock := gametime.NewManualClock(worldtest.Start)
	gt := gametime.NewService(f.DB, clock, slog.Default())
	if err := gt.Init(ctx, "Test Galaxy", worldtest.Start, 4); err != nil {
		t.Fatalf("Init: %v", err)
	}

	rec := gateway.NewRecorder()
	views := gateway.NewViews(slog.Default())
	channels := gateway.NewChannels(rec, f.Repo, slog.Default())
	balance := config.DefaultBalance()
	roller := dice.Seeded(7)

	travelRepo := travel.NewRepository(f.DB, slog.Default())
	travelSvc := travel.NewService(travelRepo, f.Repo, gt, channels, views, nil, roller, balance.Travel, slog.Default())
	t.Cleanup(travelSvc.Stop)
	tracker := activity.NewTracker(activity.NewRepository(f.DB, slog.Default()), f.Repo, gt, channels, views,
		balance.Activity, slog.Default())
	tracker.SetReleaser(travelSvc)
	t.Cleanup(tracker.Stop)
	harm := casualty.NewService(f.Repo, gt, channels, travelSvc, slog.Default())

	svc := Services{
		Tracker: tracker,
		Travel:  travelSvc,
		Combat: combat.NewService(combat.NewRepository(f.DB, slog.Default()), f.Repo, gt, channels, views, harm,
			roller, balance.Combat, slog.Default()),
		Radio: radio.NewService(radio.NewRepository(f.DB, slog.Default()), f.Repo, travelRepo, channels,
			roller, balance.Radio, slog.Default()),
		Ambient: ambient.NewService(ambient.NewRepository(f.DB, slog.Default()), gt, channels, roller, balance, slog.Default()),
		Clock:   gt,
		World:   f.Repo,
		Views:   views,
	}

	adapterDice := roller
	if ints != nil {
		adapterDice = dice.New(&dice.Script{Ints: ints})
	}
	cfg := &config.Config{RateLimit: rl, Gateway: config.GatewayConfig{Admins: []int64{adminID}}}
	a := New(svc, rec, adapterDice, cfg, slog.Default())

	hale := f.Location(t, "Hale", world.LocationColony, "Vega")
	dorn := f.Location(t, "Dorn", world.LocationColony, "Sol")
	lane := f.Corridor(t, "Hale-Dorn Run", hale.ID, dorn.ID, 300, 20, 2)
	f.Character(t, 1, "Ada", hale.ID, 150)

	return &harness{f: f, clock: clock, rec: rec, svc: svc, adapter: a, hale: hale, dorn: dorn, lane: lane}
}

func (h *harness) handle(userID int64, group, action string, args map[string]string) gateway.Reply {
	return h.adapter.Handle(context.Background(), gateway.Interaction{
		ID:      "int-1",
		UserID:  userID,
		Channel: "chan-hale",
		Group:   group,
		Action:  action,
		Args:    args,
	})
}

func (h *harness) click(userID int64, viewID, choice string) gateway.Reply {
	return h.adapter.Handle(context.Background(), gateway.Interaction{
		ID:     "click-1",
		UserID: userID,
		Group:  "view",
		Action: "resolve",
		ViewID: viewID,
		Choice: choice,
	})
}

func unlimited() config.RateLimitConfig {
	return config.RateLimitConfig{}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, nil, unlimited())

	reply := h.handle(1, "warp", "engage", nil)
	if !reply.Ephemeral || !strings.Contains(reply.Content, `Unknown command "warp.engage"`) {
		t.Fatalf("reply = %+v", reply)
	}
	if replies := h.rec.Ops("reply"); len(replies) != 1 || replies[0].Reply.Content != reply.Content {
		t.Fatalf("gateway replies = %+v", replies)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	h := newHarness(t, []int{49}, config.RateLimitConfig{InteractionsPerSecond: 0.001, InteractionBurst: 2})

	for i := 0; i < 2; i++ {
		if reply := h.handle(1, "roll", "", nil); reply.Embed == nil {
			t.Fatalf("roll %d = %+v, want a result", i+1, reply)
		}
	}
	if reply := h.handle(1, "roll", "", nil); reply.Content != slowDown {
		t.Fatalf("third roll = %+v, want throttled", reply)
	}
	if reply := h.handle(2, "roll", "", nil); reply.Embed == nil {
		t.Fatal("another user was throttled by Ada's bucket")
	}

	if h.adapter.limiter.size() != 2 {
		t.Fatalf("limiter tracks %d users, want 2", h.adapter.limiter.size())
	}
	h.adapter.limiter.sweep(time.Now().Add(time.Hour))
	if h.adapter.limiter.size() != 0 {
		t.Fatal("idle buckets were not dropped")
	}
}

func TestRoll(t *testing.T) {
	tests := []struct {
		name    string
		ints    []int
		total   string
		outcome string
	}{
		{"critical", []int{99}, "**100**", "Critical success!"},
		{"fumble", []int{0}, "**1**", "Critical failure!"},
		{"plain", []int{41}, "**42**", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.ints, unlimited())
			reply := h.handle(1, "roll", "", nil)
			if reply.Embed == nil || reply.Embed.Description != tt.total {
				t.Fatalf("reply = %+v", reply)
			}
			var outcome string
			for _, f := range reply.Embed.Fields {
				if f.Name == "Result" {
					outcome = f.Value
				}
			}
			if outcome != tt.outcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.outcome)
			}
		})
	}
}

func TestRollAddsSkill(t *testing.T) {
	h := newHarness(t, []int{9}, unlimited())
	h.f.Exec(t, `UPDATE characters SET navigation = 7 WHERE user_id = 1`)

	reply := h.handle(1, "roll", "", map[string]string{"skill": "Navigation"})
	if reply.Embed == nil || reply.Embed.Description != "**17**" {
		t.Fatalf("reply = %+v, want 10 + 7", reply)
	}
	if reply := h.handle(1, "roll", "", map[string]string{"skill": "cooking"}); !strings.Contains(reply.Content, "Unknown skill") {
		t.Fatalf("unknown skill reply = %+v", reply)
	}
}

func TestTravelGoByDestination(t *testing.T) {
	h := newHarness(t, nil, unlimited())

	reply := h.handle(1, "travel", "go", map[string]string{"destination": "dorn"})
	if reply.Embed == nil || reply.Embed.Title != "Departure" {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Ephemeral {
		t.Error("departure announced privately")
	}

	status := h.handle(1, "travel", "status", nil)
	if status.Embed == nil || status.Embed.Description != "En route through **Hale-Dorn Run**." {
		t.Fatalf("status = %+v", status)
	}

	again := h.handle(1, "travel", "go", map[string]string{"destination": "dorn"})
	if !again.Ephemeral || again.Embed != nil {
		t.Fatalf("second departure = %+v, want an ephemeral refusal", again)
	}
}

func TestJobGuardPrompt(t *testing.T) {
	h := newHarness(t, nil, unlimited())
	ctx := context.Background()

	jobID, err := h.f.Repo.CreateJob(ctx, nil, world.Job{LocationID: h.hale.ID, Title: "Scrub hulls", Reward: 50})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if ok, err := h.f.Repo.TakeJob(ctx, nil, jobID, 1, worldtest.Start); err != nil || !ok {
		t.Fatalf("TakeJob = %v, %v", ok, err)
	}

	reply := h.handle(1, "travel", "go", map[string]string{"destination": "Dorn"})
	if reply.Content != "You have active jobs here. Choose below." {
		t.Fatalf("reply = %+v", reply)
	}
	view := h.rec.LastView()
	if view == nil || len(view.Buttons) != 2 || !strings.Contains(view.Embed.Description, "Scrub hulls") {
		t.Fatalf("view = %+v", view)
	}

	if r := h.click(2, view.ID, "abandon"); r.Content != "That choice isn't yours to make." {
		t.Fatalf("stranger click = %+v", r)
	}
	if r := h.click(1, view.ID, "abandon"); r.Embed == nil || r.Embed.Title != "Departure" {
		t.Fatalf("abandon click = %+v", r)
	}
	if r := h.click(1, view.ID, "stay"); r.Content != "That has already been decided." {
		t.Fatalf("second click = %+v", r)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM jobs WHERE taken_by = 1`); n != 0 {
		t.Errorf("jobs still held = %d", n)
	}
	if r := h.click(1, "no-such-view", "stay"); r.Content != "That prompt has expired." {
		t.Errorf("stale click = %+v", r)
	}
}

func TestContactsShowsTransitProgress(t *testing.T) {
	h := newHarness(t, nil, unlimited())
	ctx := context.Background()

	h.f.Character(t, 2, "Bo", h.hale.ID, 100)
	if err := h.f.Repo.SetPosition(ctx, nil, 2, nil, world.StatusTraveling); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	_, err := h.svc.Travel.Repository().CreateSession(ctx, nil, travel.Session{
		UserID:      2,
		CorridorID:  h.lane.ID,
		Origin:      h.hale.ID,
		Destination: h.dorn.ID,
		StartTime:   worldtest.Start,
		EndTime:     worldtest.Start.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	h.clock.Advance(5 * time.Minute)

	reply := h.handle(1, "contacts", "", nil)
	if reply.Embed == nil {
		t.Fatalf("reply = %+v", reply)
	}
	want := "**Ada**: Hale\n**Bo**: in transit via Hale-Dorn Run (50%)"
	if reply.Embed.Description != want {
		t.Errorf("contacts = %q, want %q", reply.Embed.Description, want)
	}
}

func TestEngineErrorsBecomeEphemeral(t *testing.T) {
	h := newHarness(t, nil, unlimited())

	if r := h.handle(1, "radio", "send", map[string]string{"message": "  "}); r.Content != "Say something first." || !r.Ephemeral {
		t.Errorf("empty radio = %+v", r)
	}
	if r := h.handle(1, "attack", "npc", map[string]string{"npc": "abc"}); !strings.Contains(r.Content, "is not a valid target") {
		t.Errorf("bad npc id = %+v", r)
	}
	if r := h.handle(1, "attack", "player", map[string]string{"target": "1"}); r.Content != "You can't attack yourself." {
		t.Errorf("self attack = %+v", r)
	}
	if r := h.handle(1, "travel", "plotroute", nil); r.Content != "Where to? Give a destination." {
		t.Errorf("plotroute without destination = %+v", r)
	}
}

func TestAdminCommandsAreGated(t *testing.T) {
	h := newHarness(t, nil, unlimited())

	if r := h.handle(1, "admin", "ambient_toggle", map[string]string{"state": "off"}); r.Content != "That command is for administrators." {
		t.Fatalf("non-admin = %+v", r)
	}
	if !h.svc.Ambient.Enabled() {
		t.Fatal("non-admin toggled ambient events")
	}

	if r := h.handle(adminID, "admin", "ambient_toggle", map[string]string{"state": "off"}); r.Content != "Ambient events disabled." {
		t.Fatalf("admin toggle = %+v", r)
	}
	if h.svc.Ambient.Enabled() {
		t.Fatal("ambient events still enabled")
	}

	if r := h.handle(adminID, "admin", "news", map[string]string{"title": "Gate closed", "body": "Vega gate is down."}); !strings.HasPrefix(r.Content, "Bulletin #") {
		t.Fatalf("queue news = %+v", r)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM news_queue`); n != 1 {
		t.Errorf("queued news = %d, want 1", n)
	}
}

func TestActivityClearsWarning(t *testing.T) {
	h := newHarness(t, []int{49}, unlimited())
	ctx := context.Background()

	h.clock.Advance(61 * time.Minute)
	if err := h.svc.Tracker.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}

	reply := h.handle(1, "roll", "", nil)
	if !strings.HasPrefix(reply.Content, welcomeBack) {
		t.Fatalf("reply = %+v, want the warning cleared", reply)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM afk_warnings WHERE is_active = 1`); n != 0 {
		t.Errorf("active warnings = %d", n)
	}
}

func TestAdminTimeControls(t *testing.T) {
	h := newHarness(t, nil, unlimited())
	ctx := context.Background()

	if r := h.handle(1, "admin", "time_pause", nil); r.Content != "That command is for administrators." {
		t.Fatalf("non-admin pause = %+v", r)
	}
	if r := h.handle(adminID, "admin", "time_pause", nil); !strings.HasPrefix(r.Content, "Galaxy clock paused.") {
		t.Fatalf("pause = %+v", r)
	}
	if r := h.handle(adminID, "admin", "time_pause", nil); r.Content != "the galaxy clock is already paused" {
		t.Errorf("second pause = %+v", r)
	}
	if paused, err := h.svc.Clock.IsPaused(ctx); err != nil || !paused {
		t.Fatalf("IsPaused = %v, %v", paused, err)
	}

	r := h.handle(1, "time", "", nil)
	if r.Embed == nil || r.Embed.Title != "Test Galaxy Standard Time" {
		t.Fatalf("time = %+v", r)
	}
	if last := r.Embed.Fields[len(r.Embed.Fields)-1]; last.Value != "Paused" {
		t.Errorf("status field = %+v", last)
	}

	if r := h.handle(adminID, "admin", "time_scale", map[string]string{"scale": "fast"}); r.Content != `"fast" is not a time scale.` {
		t.Errorf("bad scale = %+v", r)
	}
	if r := h.handle(adminID, "admin", "time_scale", map[string]string{"scale": "0"}); !strings.Contains(r.Content, "must be positive") {
		t.Errorf("zero scale = %+v", r)
	}
	if r := h.handle(adminID, "admin", "time_scale", map[string]string{"scale": "8"}); r.Content != "One real hour is now 8 in-game hours." {
		t.Errorf("scale = %+v", r)
	}
	if state, err := h.svc.Clock.State(ctx); err != nil || state.Scale != 8 {
		t.Fatalf("State = %+v, %v", state, err)
	}

	if r := h.handle(adminID, "admin", "time_resume", nil); r.Content != "Galaxy clock resumed." {
		t.Errorf("resume = %+v", r)
	}
	if paused, _ := h.svc.Clock.IsPaused(ctx); paused {
		t.Error("clock still paused")
	}
}
