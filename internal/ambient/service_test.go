package ambient

import (
	"context"
	"log/slog"
	"math"
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
	gt    *gametime.Service
	rec   *gateway.Recorder
	svc   *Service
	loc   *world.Location
}

// newHarness puts Ada (1) in a colony at midday.
func newHarness(t *testing.T, script *dice.Script) *harness {
	t.Helper()

	f := worldtest.New(t)
	clock := gametime.NewManualClock(worldtest.Start)
	gt := gametime.NewService(f.DB, clock, slog.Default())
	if err := gt.Init(context.Background(), "Test Galaxy", worldtest.Start, 1); err != nil {
		t.Fatalf("Init: %v", err)
	}

	rec := gateway.NewRecorder()
	channels := gateway.NewChannels(rec, f.Repo, slog.Default())
	svc := NewService(NewRepository(f.DB, slog.Default()), gt, channels, dice.New(script),
		config.DefaultBalance(), slog.Default())

	loc := f.Location(t, "Hale", world.LocationColony, "Vega")
	f.Character(t, 1, "Ada", loc.ID, 1000)
	return &harness{f: f, clock: clock, gt: gt, rec: rec, svc: svc, loc: loc}
}

func TestFlavorRespectsSpacing(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{0}, Floats: []float64{0}})
	ctx := context.Background()
	h.f.Location(t, "Empty Rock", world.LocationOutpost, "Vega")

	events, err := h.svc.Flavor(ctx)
	if err != nil {
		t.Fatalf("Flavor: %v", err)
	}
	if len(events) != 1 || events[0].LocationID != h.loc.ID {
		t.Fatalf("events = %+v, want one at Hale", events)
	}
	if events[0].Period != PeriodDay || events[0].Message != periodLines[PeriodDay][0] {
		t.Errorf("event = %+v", events[0])
	}
	if posts := h.rec.Ops("post"); len(posts) != 1 || posts[0].Embed.Color != gateway.ColorAmbient {
		t.Fatalf("posts = %+v", posts)
	}

	h.clock.Advance(20 * time.Minute)
	if events, _ := h.svc.Flavor(ctx); len(events) != 0 {
		t.Fatalf("fired again after 20 minutes: %+v", events)
	}

	h.clock.Advance(10 * time.Minute)
	if events, _ := h.svc.Flavor(ctx); len(events) != 1 {
		t.Fatalf("events after 30 minutes = %d, want 1", len(events))
	}
	if n := h.f.Int(t, `SELECT total_events_generated FROM ambient_event_tracking WHERE location_id = ?`, h.loc.ID); n != 2 {
		t.Errorf("tracked events = %d, want 2", n)
	}
}

func TestFlavorMissesChance(t *testing.T) {
	h := newHarness(t, &dice.Script{Floats: []float64{0.99}})

	events, err := h.svc.Flavor(context.Background())
	if err != nil {
		t.Fatalf("Flavor: %v", err)
	}
	if len(events) != 0 || len(h.rec.Ops("post")) != 0 {
		t.Fatalf("events = %+v, want none above the 25%% cap", events)
	}
}

func TestFlavorDisabledOrPaused(t *testing.T) {
	h := newHarness(t, &dice.Script{Floats: []float64{0}})
	ctx := context.Background()

	h.svc.SetEnabled(false)
	if events, _ := h.svc.Flavor(ctx); len(events) != 0 {
		t.Fatalf("disabled loop fired: %+v", events)
	}

	h.svc.SetEnabled(true)
	if err := h.gt.Pause(ctx, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if events, _ := h.svc.Flavor(ctx); len(events) != 0 {
		t.Fatalf("paused loop fired: %+v", events)
	}
}

func TestTriggerAtNamesPlayer(t *testing.T) {
	h := newHarness(t, &dice.Script{Ints: []int{7}, Floats: []float64{0.5}})
	ctx := context.Background()

	ev, err := h.svc.TriggerAt(ctx, h.loc.ID)
	if err != nil {
		t.Fatalf("TriggerAt: %v", err)
	}
	if want := "Ada steps aside as a courier kid sprints past with a sealed parcel."; ev.Message != want {
		t.Errorf("message = %q, want %q", ev.Message, want)
	}

	// Nobody to name: the placeholder line is rejected and a generic one used.
	empty := h.f.Location(t, "Empty Rock", world.LocationOutpost, "Vega")
	ev, err = h.svc.TriggerAt(ctx, empty.ID)
	if err != nil {
		t.Fatalf("TriggerAt(empty): %v", err)
	}
	if ev.Message != genericLines[len(genericLines)-1] {
		t.Errorf("fallback message = %q", ev.Message)
	}

	if _, err := h.svc.TriggerAt(ctx, 999); !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Errorf("TriggerAt(999) = %v, want not found", err)
	}
}

func TestChance(t *testing.T) {
	cfg := config.DefaultBalance().Ambient
	tests := []struct {
		name string
		loc  ActiveLocation
		want float64
	}{
		{"colony", ActiveLocation{Type: world.LocationColony, Players: 1, Wealth: 5, Population: 1000}, 0.18 * 1.2 * 1.03 * 1.1 * (1 + 1000/1e7*0.05)},
		{"gate", ActiveLocation{Type: world.LocationGate, Players: 1}, 0.16 * 0.8 * 1.03},
		{"unknown type", ActiveLocation{Type: "derelict"}, 0.17},
		{"capped", ActiveLocation{Type: world.LocationStation, Players: 10, Wealth: 10}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Chance(cfg, tt.loc); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Chance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeriodAt(t *testing.T) {
	tests := []struct {
		hour int
		want Period
	}{
		{5, PeriodNight},
		{6, PeriodMorning},
		{12, PeriodDay},
		{18, PeriodEvening},
		{22, PeriodNight},
	}
	for _, tt := range tests {
		if got := PeriodAt(time.Date(2025, 1, 1, tt.hour, 30, 0, 0, time.UTC)); got != tt.want {
			t.Errorf("PeriodAt(%d) = %s, want %s", tt.hour, got, tt.want)
		}
	}
}

func TestLocationIncome(t *testing.T) {
	h := newHarness(t, &dice.Script{})
	ctx := context.Background()

	unowned := h.f.Location(t, "Drift", world.LocationOutpost, "Vega")
	h.f.Exec(t, `INSERT INTO location_ownership (location_id, owner_id, income_multiplier) VALUES (?, 1, 1.5)`, h.loc.ID)
	h.f.Exec(t, `INSERT INTO location_ownership (location_id) VALUES (?)`, unowned.ID)

	for i := range 2 {
		total, err := h.svc.LocationIncome(ctx)
		if err != nil {
			t.Fatalf("LocationIncome: %v", err)
		}
		if total != 90 {
			t.Fatalf("pass %d credited %d, want (5*10 + 1000/100) * 1.5 = 90", i, total)
		}
	}
	if n := h.f.Int(t, `SELECT generated_income FROM locations WHERE location_id = ?`, h.loc.ID); n != 180 {
		t.Errorf("generated income = %d, want 180", n)
	}
	if n := h.f.Int(t, `SELECT generated_income FROM locations WHERE location_id = ?`, unowned.ID); n != 0 {
		t.Errorf("unowned income = %d", n)
	}
}

func TestHomeIncomeAccruesAndCaps(t *testing.T) {
	h := newHarness(t, &dice.Script{})
	ctx := context.Background()

	h.f.Exec(t, `INSERT INTO location_homes (location_id, home_name, owner_id, is_available) VALUES (?, 'Dome 4', 1, 0)`, h.loc.ID)
	h.f.Exec(t, `INSERT INTO home_upgrades (home_id, upgrade_type, daily_income) VALUES (1, 'hydroponics', 240), (1, 'workshop', 0)`)
	accumulated := func() int {
		return h.f.Int(t, `SELECT accumulated_income FROM home_income WHERE home_id = 1`)
	}
	step := func(d time.Duration, wantUpdated, wantTotal int) {
		t.Helper()
		h.clock.Advance(d)
		n, err := h.svc.HomeIncome(ctx)
		if err != nil {
			t.Fatalf("HomeIncome: %v", err)
		}
		if n != wantUpdated || accumulated() != wantTotal {
			t.Fatalf("after %v: updated %d total %d, want %d and %d", d, n, accumulated(), wantUpdated, wantTotal)
		}
	}

	step(0, 0, 0)
	step(6*time.Hour, 1, 60)
	step(time.Minute, 0, 60)
	step(11*time.Minute, 1, 62)
	step(8*24*time.Hour, 1, 240*7)
}

func TestHomeIncomeSkipsPausedTime(t *testing.T) {
	h := newHarness(t, &dice.Script{})
	ctx := context.Background()

	h.f.Exec(t, `INSERT INTO location_homes (location_id, home_name, owner_id, is_available) VALUES (?, 'Dome 4', 1, 0)`, h.loc.ID)
	h.f.Exec(t, `INSERT INTO home_upgrades (home_id, upgrade_type, daily_income) VALUES (1, 'hydroponics', 240)`)
	if _, err := h.svc.HomeIncome(ctx); err != nil {
		t.Fatalf("HomeIncome: %v", err)
	}

	if err := h.gt.Pause(ctx, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	h.clock.Advance(12 * time.Hour)
	if _, err := h.svc.HomeIncome(ctx); err != nil {
		t.Fatalf("HomeIncome: %v", err)
	}
	if err := h.gt.Resume(ctx, true); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	h.clock.Advance(time.Hour)
	if _, err := h.svc.HomeIncome(ctx); err != nil {
		t.Fatalf("HomeIncome: %v", err)
	}
	if n := h.f.Int(t, `SELECT accumulated_income FROM home_income WHERE home_id = 1`); n != 10 {
		t.Errorf("accumulated = %d, want one running hour (10)", n)
	}
}

func TestDeliverNews(t *testing.T) {
	h := newHarness(t, &dice.Script{})
	ctx := context.Background()

	if _, err := h.svc.QueueNews(ctx, News{Title: "Corridor collapse", Body: "The Vega run is closed."}); err != nil {
		t.Fatalf("QueueNews: %v", err)
	}
	if n, err := h.svc.DeliverNews(ctx); err != nil || n != 0 {
		t.Fatalf("DeliverNews without channel = %d, %v", n, err)
	}

	if err := h.gt.SetNewsChannel(ctx, "news-1"); err != nil {
		t.Fatalf("SetNewsChannel: %v", err)
	}
	if _, err := h.svc.QueueNews(ctx, News{Type: "obituary", Title: "Later", Body: "...", DeliverAt: worldtest.Start.Add(time.Hour)}); err != nil {
		t.Fatalf("QueueNews: %v", err)
	}

	n, err := h.svc.DeliverNews(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DeliverNews = %d, %v, want 1", n, err)
	}
	posts := h.rec.Ops("post")
	if len(posts) != 1 || posts[0].Channel != "news-1" || posts[0].Embed.Title != "Corridor collapse" {
		t.Fatalf("posts = %+v", posts)
	}
	if posts[0].Embed.Footer != "Test Galaxy News Network" {
		t.Errorf("footer = %q", posts[0].Embed.Footer)
	}

	// A failed post leaves the bulletin queued.
	h.rec.Fail("post")
	h.clock.Advance(2 * time.Hour)
	if n, _ := h.svc.DeliverNews(ctx); n != 0 {
		t.Fatalf("delivered %d through a failing gateway", n)
	}
	if n := h.f.Int(t, `SELECT COUNT(*) FROM news_queue WHERE is_delivered = 0`); n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}
}

func TestJanitorRunsEveryStep(t *testing.T) {
	var ran []string
	step := func(name string, err error) Task {
		return Count(name, func(context.Context) (int, error) {
			ran = append(ran, name)
			return 1, err
		})
	}
	j := NewJanitor(slog.Default(),
		step("robberies", nil),
		step("cooldowns", errors.New("locked")),
		Quiet("warnings", func(context.Context) error {
			ran = append(ran, "warnings")
			return nil
		}),
	)

	if failed := j.Sweep(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if len(ran) != 3 || ran[2] != "warnings" {
		t.Errorf("ran = %v", ran)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran = nil
	j.Sweep(ctx)
	if len(ran) != 0 {
		t.Errorf("cancelled sweep ran %v", ran)
	}
}
