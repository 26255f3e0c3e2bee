package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadBalanceDefaults(t *testing.T) {
	balance, err := LoadBalance("")
	if err != nil {
		t.Fatalf("LoadBalance: %v", err)
	}

	if balance.Travel.MinTravelSeconds != 120 {
		t.Fatalf("min travel = %d", balance.Travel.MinTravelSeconds)
	}
	if balance.Hazards.ChancePerDanger != 0.15 || balance.Hazards.MaxPerSession != 3 {
		t.Fatalf("hazard defaults = %+v", balance.Hazards)
	}
	if balance.Activity.Inactivity() != time.Hour || balance.Activity.Grace() != 10*time.Minute {
		t.Fatalf("activity defaults = %+v", balance.Activity)
	}
	if balance.Radio.CorruptionCap != 0.80 {
		t.Fatalf("radio cap = %v", balance.Radio.CorruptionCap)
	}
}

func TestLoadBalanceOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balance.yaml")
	doc := `
travel:
  min_travel_seconds: 90
ambient:
  enabled: false
  base_chances:
    colony: 0.3
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	balance, err := LoadBalance(path)
	if err != nil {
		t.Fatalf("LoadBalance: %v", err)
	}
	if balance.Travel.MinTravelSeconds != 90 {
		t.Fatalf("min travel = %d, want 90", balance.Travel.MinTravelSeconds)
	}
	if balance.Travel.EfficiencyBase != 1.6 {
		t.Fatalf("untouched key lost its default: %v", balance.Travel.EfficiencyBase)
	}
	if balance.Ambient.Enabled {
		t.Fatalf("ambient should be disabled")
	}
	if balance.Ambient.BaseChances["colony"] != 0.3 {
		t.Fatalf("colony chance = %v", balance.Ambient.BaseChances["colony"])
	}
}

func TestValidateBalanceRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown section": "weather:\n  rain: true\n",
		"negative chance": "hazards:\n  chance_per_danger: -0.5\n",
		"wrong type":      "travel:\n  min_travel_seconds: soon\n",
		"unknown key":     "radio:\n  volume: 11\n",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateBalanceYAML([]byte(doc))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), "validation") {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateBalanceAcceptsEmptyDocument(t *testing.T) {
	if err := ValidateBalanceYAML([]byte("")); err != nil {
		t.Fatalf("ValidateBalanceYAML: %v", err)
	}
}
