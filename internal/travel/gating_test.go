package travel

import (
	"context"
	"testing"
	"time"

	"starlane-server/internal/world"
	"starlane-server/internal/world/worldtest"
)

func ptr[T any](v T) *T { return &v }

func TestGate(t *testing.T) {
	government := &world.Location{Name: "Fort Kell", Faction: world.FactionGovernment}
	supplies := &world.Location{Name: "Depot 9", Services: world.Services{FederalSupplies: true}}
	bandit := &world.Location{Name: "Rook's Nest", Faction: world.FactionBandit}
	plain := &world.Location{Name: "Hale"}
	owned := &world.Ownership{FactionID: ptr[int64](7), DockingFee: 200}

	tests := []struct {
		name    string
		in      GateInput
		outcome Outcome
		fee     int
		faction *int64
		hostile bool
	}{
		{"security bypass", GateInput{Flags: world.CharacterFlags{SecurityBypass: true}, Destination: bandit, Reputation: 90},
			OutcomeGranted, 0, nil, false},
		{"federal id at owned government site", GateInput{Flags: world.CharacterFlags{FederalID: true}, Destination: government, Ownership: owned},
			OutcomeGranted, 0, nil, false},
		{"federal id at federal supplies", GateInput{Flags: world.CharacterFlags{FederalID: true}, Destination: supplies, Ownership: owned},
			OutcomeGranted, 0, nil, false},
		{"federal id elsewhere pays", GateInput{Flags: world.CharacterFlags{FederalID: true}, Destination: plain, Ownership: owned},
			OutcomeFee, 200, ptr[int64](7), false},
		{"faction member", GateInput{Destination: plain, Ownership: owned, MemberOf: ptr[int64](7)},
			OutcomeGranted, 0, nil, false},
		{"other faction pays", GateInput{Destination: plain, Ownership: owned, MemberOf: ptr[int64](8)},
			OutcomeFee, 200, ptr[int64](7), false},
		{"zero fee owned site", GateInput{Destination: plain, Ownership: &world.Ownership{FactionID: ptr[int64](7)}},
			OutcomeGranted, 0, nil, false},
		{"player owned site", GateInput{Destination: plain, Ownership: &world.Ownership{OwnerID: ptr[int64](3), DockingFee: 50}},
			OutcomeGranted, 0, nil, false},
		{"government good", GateInput{Destination: government, Reputation: 40},
			OutcomeGranted, 0, nil, false},
		{"government neutral", GateInput{Destination: government, Reputation: 10},
			OutcomeFee, 400, nil, false},
		{"government neutral high standing", GateInput{Destination: government, Reputation: 34},
			OutcomeFee, 160, nil, false},
		{"government bad", GateInput{Destination: government, Reputation: -40},
			OutcomeRetreat, 0, nil, true},
		{"bandit federal agent", GateInput{Flags: world.CharacterFlags{FederalID: true}, Destination: bandit, Reputation: -80},
			OutcomeRetreat, 0, nil, true},
		{"bandit evil", GateInput{Destination: bandit, Reputation: -80},
			OutcomeGranted, 0, nil, false},
		{"bandit neutral", GateInput{Destination: bandit, Reputation: -20},
			OutcomeFee, 300, nil, false},
		{"bandit heroic", GateInput{Destination: bandit, Reputation: 75},
			OutcomeRetreat, 0, nil, true},
		{"independent", GateInput{Destination: plain, Reputation: -90},
			OutcomeGranted, 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Gate(tt.in)
			if got.Outcome != tt.outcome || got.Fee != tt.fee || got.Hostile != tt.hostile {
				t.Fatalf("Gate = %+v, want %s fee %d hostile %v", got, tt.outcome, tt.fee, tt.hostile)
			}
			switch {
			case tt.faction == nil && got.FactionID != nil:
				t.Errorf("fee credited to faction %d, want none", *got.FactionID)
			case tt.faction != nil && (got.FactionID == nil || *got.FactionID != *tt.faction):
				t.Errorf("faction = %v, want %d", got.FactionID, *tt.faction)
			}
			if got.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestGovernmentNeutralFeeScale(t *testing.T) {
	dest := &world.Location{Name: "Fort Kell", Faction: world.FactionGovernment}
	for rep := -34; rep <= 34; rep++ {
		got := Gate(GateInput{Destination: dest, Reputation: rep})
		want := max(100, (50-rep)*10)
		if got.Outcome != OutcomeFee || got.Fee != want {
			t.Fatalf("rep %d: Gate = %+v, want fee %d", rep, got, want)
		}
	}
}

func ownedByFaction(t *testing.T, h *harness, fee int) {
	t.Helper()
	h.f.Exec(t, `INSERT INTO factions (faction_id, name, bank_balance) VALUES (7, 'Drift Union', 0)`)
	h.f.Exec(t, `INSERT INTO location_ownership (location_id, faction_id, docking_fee, income_multiplier) VALUES (?, 7, ?, 1.0)`,
		h.l2.ID, fee)
}

func TestDockingFeeCreditsFactionBank(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ownedByFaction(t, h, 40)

	dep := h.depart(t)
	h.clock.Advance(360 * time.Second)
	arrival, err := h.svc.Complete(ctx, dep.Session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if arrival.Outcome != OutcomePending || arrival.Fee != 40 {
		t.Fatalf("arrival = %+v, want pending 40 fee", arrival)
	}
	if err := h.views.Resolve(ctx, h.rec.LastView().ID, 1, "pay"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if c := h.character(t); c.Money != 110 {
		t.Errorf("money = %d, want 110", c.Money)
	}
	if n := h.f.Int(t, `SELECT bank_balance FROM factions WHERE faction_id = 7`); n != 40 {
		t.Errorf("faction bank = %d, want 40", n)
	}
}

func TestFederalIDSkipsFactionFeeAtGovernmentSite(t *testing.T) {
	h := newHarness(t, nil, worldtest.Faction(world.FactionGovernment))
	ctx := context.Background()
	ownedByFaction(t, h, 200)
	h.f.Exec(t, `INSERT INTO character_effects (user_id, effect_type, effect_value) VALUES (1, ?, 1)`, world.EffectFederalID)

	dep := h.depart(t)
	h.clock.Advance(360 * time.Second)
	arrival, err := h.svc.Complete(ctx, dep.Session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if arrival.Outcome != OutcomeGranted || arrival.Fee != 0 || arrival.LocationID != h.l2.ID {
		t.Fatalf("arrival = %+v, want free entry", arrival)
	}
	if c := h.character(t); c.Money != 150 {
		t.Errorf("money = %d, want 150", c.Money)
	}
	if n := h.f.Int(t, `SELECT bank_balance FROM factions WHERE faction_id = 7`); n != 0 {
		t.Errorf("faction bank = %d, want 0", n)
	}
}
