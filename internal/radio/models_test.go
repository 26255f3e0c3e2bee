package radio

import (
	"math"
	"testing"

	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
)

func TestCorruptionChance(t *testing.T) {
	cfg := config.DefaultBalance().Radio
	tests := []struct {
		name     string
		distance int
		ungated  bool
		want     float64
	}{
		{"within threshold", 5, false, 0},
		{"eight systems", Distance(Point{0, 0}, Point{80, 0}, cfg.CoordsPerSystem), false, 0.45},
		{"ungated at the gate", 0, true, 0.75},
		{"capped", 8, true, 0.80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CorruptionChance(cfg, tt.distance, tt.ungated); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CorruptionChance(%d, %v) = %v, want %v", tt.distance, tt.ungated, got, tt.want)
			}
		})
	}
}

func TestCorrupt(t *testing.T) {
	r := dice.New(&dice.Script{Floats: []float64{0}})
	if got := Corrupt("Hi, 42!", 0.5, r); got != "__, __!" {
		t.Errorf("Corrupt = %q", got)
	}
	if got := Corrupt("Hi, 42!", 0, r); got != "Hi, 42!" {
		t.Errorf("Corrupt at zero = %q", got)
	}
}

func TestPropagateDirect(t *testing.T) {
	cfg := config.DefaultBalance().Radio
	origins := []Origin{{Point: Point{0, 0}, LocationID: 1}}
	sites := []Site{
		{Point: Point{0, 0}, LocationID: 1, Name: "Home"},
		{Point: Point{80, 0}, LocationID: 2, Name: "Near"},
		{Point: Point{150, 0}, LocationID: 3, Name: "Far"},
	}

	got := Propagate(cfg, origins, sites, nil, 1)
	if len(got) != 1 {
		t.Fatalf("receptions = %+v, want only Near", got)
	}
	if r := got[0]; r.LocationID != 2 || r.Distance != 8 || r.Signal != 20 || r.Relay != "" {
		t.Errorf("reception = %+v", r)
	}
	if got[0].Clear(cfg.ClearSignal) {
		t.Error("signal 20 reported clear")
	}
}

func TestPropagateThroughRepeaters(t *testing.T) {
	cfg := config.DefaultBalance().Radio
	origins := []Origin{{Point: Point{0, 0}, LocationID: 1}}
	sites := []Site{
		{Point: Point{80, 0}, LocationID: 2, Name: "Near"},
		{Point: Point{240, 0}, LocationID: 3, Name: "Far"},
	}
	// Two repeaters in each other's range must not loop forever.
	repeaters := []Repeater{
		{Point: Point{75, 0}, ID: 1, Name: "Beacon", Receive: 10, Transmit: 10},
		{Point: Point{160, 0}, ID: 2, Name: "Spire", Receive: 10, Transmit: 10},
	}

	got := Propagate(cfg, origins, sites, repeaters, 1)
	if len(got) != 2 {
		t.Fatalf("receptions = %+v", got)
	}
	if r := got[0]; r.Distance != 7 || r.Signal != 30 || r.Relay != "Repeater at Beacon" {
		t.Errorf("Near = %+v, want the stronger signal through Beacon", r)
	}
	if r := got[1]; r.LocationID != 3 || r.Relay != "Repeater at Spire" || r.Distance != 7+8+8 {
		t.Errorf("Far = %+v", r)
	}
}

func TestPropagateFromBothCorridorEnds(t *testing.T) {
	cfg := config.DefaultBalance().Radio
	origins := []Origin{
		{Point: Point{0, 0}, LocationID: 1, Relay: "Relay via A"},
		{Point: Point{100, 0}, LocationID: 2, Relay: "Relay via B"},
	}
	sites := []Site{{Point: Point{90, 0}, LocationID: 3}}

	got := Propagate(cfg, origins, sites, nil, 0)
	if len(got) != 1 || got[0].Signal != 90 || got[0].Relay != "Relay via B" {
		t.Fatalf("receptions = %+v, want the B end at signal 90", got)
	}
}
