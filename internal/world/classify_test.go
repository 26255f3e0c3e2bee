package world

import "testing"

func TestClassify(t *testing.T) {
	colonyA := &Location{Type: LocationColony, System: "Vega"}
	stationA := &Location{Type: LocationStation, System: "Vega"}
	gateA := &Location{Type: LocationGate, System: "Vega"}
	gateB := &Location{Type: LocationGate, System: "Sol"}
	colonyB := &Location{Type: LocationColony, System: "Sol"}

	tests := []struct {
		name     string
		corridor string
		origin   *Location
		dest     *Location
		want     CorridorType
	}{
		{"approach name wins", "Vega Approach", colonyA, colonyB, CorridorLocal},
		{"local space name", "Sol Local Space", gateB, gateA, CorridorLocal},
		{"departure name", "Departure Lane", colonyA, gateB, CorridorLocal},
		{"arrival name", "Arrival Vector", colonyB, colonyA, CorridorLocal},
		{"major to gate same system", "Vega Spur", colonyA, gateA, CorridorLocal},
		{"gate to major same system", "Vega Spur", gateA, stationA, CorridorLocal},
		{"gate to gate across systems", "Vega-Sol Gate Link", gateA, gateB, CorridorGated},
		{"major to gate across systems", "Long Haul", colonyA, gateB, CorridorUngated},
		{"major to major", "Vega Shuttle", colonyA, stationA, CorridorUngated},
		{"gate to gate same system", "Vega Ring", gateA, &Location{Type: LocationGate, System: "Vega"}, CorridorUngated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.corridor, tt.origin, tt.dest); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.corridor, got, tt.want)
			}
		})
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		rep  int
		want ReputationTier
	}{
		{100, TierHeroic},
		{70, TierHeroic},
		{69, TierGood},
		{35, TierGood},
		{34, TierNeutral},
		{0, TierNeutral},
		{-34, TierNeutral},
		{-35, TierBad},
		{-69, TierBad},
		{-70, TierEvil},
	}
	for _, tt := range tests {
		if got := TierFor(tt.rep); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.rep, got, tt.want)
		}
	}
}

func TestTravelModifiers(t *testing.T) {
	none := TravelModifiers{FuelFactor: 1}
	if got := none.TimeFactor(); got != 1 {
		t.Errorf("TimeFactor() = %v, want 1", got)
	}
	if got := none.FuelCost(20); got != 20 {
		t.Errorf("FuelCost(20) = %d, want 20", got)
	}

	delayed := TravelModifiers{DelayLevel: 2, FuelFactor: 1}
	if got := delayed.TimeFactor(); got < 1.399 || got > 1.401 {
		t.Errorf("delay TimeFactor() = %v, want 1.4", got)
	}

	boosted := TravelModifiers{BonusLevel: 10, FuelFactor: 0.01}
	if got := boosted.TimeFactor(); got != 0.5 {
		t.Errorf("bonus TimeFactor() = %v, want floor 0.5", got)
	}
	if got := boosted.FuelCost(20); got != 1 {
		t.Errorf("FuelCost floor = %d, want 1", got)
	}
}
