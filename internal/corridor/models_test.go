package corridor

import (
	"math"
	"testing"
	"time"

	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
)

func TestHazardDamage(t *testing.T) {
	cfg := config.DefaultBalance().Hazards

	tests := []struct {
		name     string
		kind     HazardKind
		severity int
		response Response
		want     Damage
	}{
		{"radiation standard", Radiation, 2, ResponseStandard, Damage{HP: 15, Hull: 9}},
		{"fog ignored", StaticFog, 3, ResponseNone, Damage{HP: 21, Hull: 72}},
		{"bloom emergency", VacuumBloom, 1, ResponseEmergency, Damage{HP: 2, Hull: 3}},
		{"radiation emergency", Radiation, 2, ResponseEmergency, Damage{HP: 6, Hull: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HazardDamage(cfg, tt.kind, tt.severity, tt.response); got != tt.want {
				t.Errorf("HazardDamage = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUnansweredDamageCarriesPenalty(t *testing.T) {
	cfg := config.DefaultBalance().Hazards

	got := UnansweredDamage(cfg, Radiation, 2)
	if want := (Damage{HP: 37, Hull: 23}); got != want {
		t.Fatalf("UnansweredDamage = %+v, want %+v", got, want)
	}
	if plain := HazardDamage(cfg, Radiation, 2, ResponseNone); got.HP <= plain.HP || got.Hull <= plain.Hull {
		t.Fatalf("penalty missing: %+v vs %+v", got, plain)
	}
}

func TestSeverityStaysInRange(t *testing.T) {
	roller := dice.Seeded(7)
	for danger := 1; danger <= 5; danger++ {
		for range 50 {
			sev := Severity(roller, danger)
			if sev < 1 || sev > 5 || sev < danger-1 || sev > danger+1 {
				t.Fatalf("Severity(%d) = %d", danger, sev)
			}
		}
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		skill, expected, want int
	}{
		{10, 10, 65},
		{12, 10, 73},
		{20, 10, 85},
		{0, 20, 15},
		{5, 8, 53},
	}
	for _, tt := range tests {
		if got := SuccessRate(tt.skill, tt.expected); got != tt.want {
			t.Errorf("SuccessRate(%d, %d) = %d, want %d", tt.skill, tt.expected, got, tt.want)
		}
	}
}

func TestMicroChance(t *testing.T) {
	cfg := config.DefaultBalance().Micro

	tests := []struct {
		name    string
		danger  int
		elapsed time.Duration
		since   time.Duration
		want    float64
	}{
		{"full ramp no drought", 0, 300 * time.Second, 0, 0.18},
		{"half ramp", 0, 150 * time.Second, 0, 0.09},
		{"ramp capped", 0, time.Hour, 0, 0.27},
		{"danger and drought", 4, 300 * time.Second, 250 * time.Second, 0.18 * 1.2 * 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MicroChance(cfg, tt.danger, tt.elapsed, tt.since)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("MicroChance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDroughtMultiplier(t *testing.T) {
	tests := []struct {
		since time.Duration
		want  float64
	}{
		{100 * time.Second, 1.0},
		{151 * time.Second, 1.25},
		{211 * time.Second, 1.5},
		{241 * time.Second, 2.0},
	}
	for _, tt := range tests {
		if got := DroughtMultiplier(tt.since); got != tt.want {
			t.Errorf("DroughtMultiplier(%v) = %v, want %v", tt.since, got, tt.want)
		}
	}
}

func TestTemplatesFor(t *testing.T) {
	if TemplatesFor(1)[0].Title != lowTier[0].Title {
		t.Error("danger 1 should use the low tier")
	}
	if TemplatesFor(4)[0].Title != midTier[0].Title {
		t.Error("danger 4 should use the mid tier")
	}
	if TemplatesFor(5)[0].Title != highTier[0].Title {
		t.Error("danger 5 should use the high tier")
	}
}
