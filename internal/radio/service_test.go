package radio

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
	"starlane-server/internal/world/worldtest"
)

type harness struct {
	f      *worldtest.Fixture
	rec    *gateway.Recorder
	travel *travel.Repository
	svc    *Service
	hale   *world.Location
	kel    *world.Location
}

// newHarness places Ada (1) at Hale (0,0), Bo (2) at Kel (80,0) and Cy (3)
// far out of range. The dice never corrupt.
func newHarness(t *testing.T) *harness {
	t.Helper()

	f := worldtest.New(t)
	rec := gateway.NewRecorder()
	channels := gateway.NewChannels(rec, f.Repo, slog.Default())
	travelRepo := travel.NewRepository(f.DB, slog.Default())
	svc := NewService(NewRepository(f.DB, slog.Default()), f.Repo, travelRepo, channels,
		dice.New(&dice.Script{Floats: []float64{0.99}}), config.DefaultBalance().Radio, slog.Default())

	hale := f.Location(t, "Hale", world.LocationColony, "Vega", worldtest.At(0, 0))
	kel := f.Location(t, "Kel", world.LocationColony, "Sol", worldtest.At(80, 0))
	far := f.Location(t, "Far Reach", world.LocationOutpost, "Rim", worldtest.At(500, 0))
	f.Character(t, 1, "Ada", hale.ID, 100)
	f.Character(t, 2, "Bo", kel.ID, 100)
	f.Character(t, 3, "Cy", far.ID, 100)
	return &harness{f: f, rec: rec, travel: travelRepo, svc: svc, hale: hale, kel: kel}
}

func field(e gateway.Embed, name string) string {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestSendFromLocation(t *testing.T) {
	h := newHarness(t)

	b, err := h.svc.Send(context.Background(), 1, "  Anyone out there?  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(b.Receptions) != 1 || b.Receptions[0].LocationID != h.kel.ID {
		t.Fatalf("receptions = %+v, want Kel only", b.Receptions)
	}
	if b.Receptions[0].Message != "Anyone out there?" {
		t.Errorf("message = %q", b.Receptions[0].Message)
	}

	posts := h.rec.Ops("post")
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	e := posts[0].Embed
	if field(e, "Signal") != "20% (weak)" || field(e, "Origin") != "Unknown" || field(e, "From") != "Ada" {
		t.Errorf("embed = %+v", e)
	}
}

func TestSendFromCorridorUsesBothEnds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.f.Corridor(t, "Vega-Sol Drift", h.hale.ID, h.kel.ID, 600, 10, 3)
	if c.Type != world.CorridorUngated {
		t.Fatalf("corridor type = %s", c.Type)
	}
	if err := h.f.Repo.SetPosition(ctx, nil, 1, nil, world.StatusTraveling); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	_, err := h.travel.CreateSession(ctx, nil, travel.Session{
		UserID:      1,
		CorridorID:  c.ID,
		Origin:      h.hale.ID,
		Destination: h.kel.ID,
		StartTime:   worldtest.Start,
		EndTime:     worldtest.Start.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	h.f.Character(t, 4, "Dee", h.hale.ID, 100)

	b, err := h.svc.Send(ctx, 1, "Mayday")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !b.Ungated || b.Origin != "In transit (Vega-Sol Drift)" {
		t.Errorf("broadcast = %+v", b)
	}
	if len(b.Receptions) != 2 {
		t.Fatalf("receptions = %+v, want both corridor ends", b.Receptions)
	}
	for _, r := range b.Receptions {
		if r.Signal != 100 || r.Relay != "Relay via "+r.Location {
			t.Errorf("reception = %+v", r)
		}
	}
}

func TestSendRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Send(ctx, 1, "   "); !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("empty message err = %v", err)
	}

	if _, err := h.f.Repo.SetLoggedIn(ctx, nil, 1, false, worldtest.Start); err != nil {
		t.Fatalf("SetLoggedIn: %v", err)
	}
	if _, err := h.svc.Send(ctx, 1, "hello"); !errors.IsType(err, errors.ErrorTypePrecondition) {
		t.Errorf("logged out err = %v", err)
	}
	if len(h.rec.Ops("post")) != 0 {
		t.Error("rejected transmissions posted")
	}
}
