package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed balance.schema.json
var balanceSchemaJSON []byte

const balanceSchemaURL = "https://starlane.dev/schemas/balance.schema.json"

var (
	balanceSchemaOnce sync.Once
	balanceSchema     *jsonschema.Schema
	balanceSchemaErr  error
)

// Balance holds every game-balance knob. It is loaded once at startup.
type Balance struct {
	Travel   TravelBalance   `yaml:"travel"`
	Hazards  HazardBalance   `yaml:"hazards"`
	Micro    MicroBalance    `yaml:"micro_events"`
	Combat   CombatBalance   `yaml:"combat"`
	Activity ActivityBalance `yaml:"activity"`
	Ambient  AmbientBalance  `yaml:"ambient"`
	Income   IncomeBalance   `yaml:"income"`
	Cleanup  CleanupBalance  `yaml:"cleanup"`
	Radio    RadioBalance    `yaml:"radio"`
}

type TravelBalance struct {
	MinTravelSeconds        int     `yaml:"min_travel_seconds"`
	EfficiencyBase          float64 `yaml:"efficiency_base"`
	EfficiencyStep          float64 `yaml:"efficiency_step"`
	ProgressIntervalSeconds int     `yaml:"progress_interval_seconds"`
	TransitTeardownSeconds  int     `yaml:"transit_teardown_seconds"`
	DockingPromptSeconds    int     `yaml:"docking_prompt_seconds"`
	EmergencyMinDamage      int     `yaml:"emergency_min_damage"`
	EmergencyMaxDamage      int     `yaml:"emergency_max_damage"`
	RetreatHullDamage       int     `yaml:"retreat_hull_damage"`
}

type HazardBalance struct {
	ChancePerDanger    float64 `yaml:"chance_per_danger"`
	MaxPerSession      int     `yaml:"max_per_session"`
	MinWindowSeconds   int     `yaml:"min_window_seconds"`
	MaxWindowSeconds   int     `yaml:"max_window_seconds"`
	NonResponsePenalty float64 `yaml:"non_response_penalty"`
	HPPerSeverity      int     `yaml:"hp_per_severity"`
	HullPerSeverity    int     `yaml:"hull_per_severity"`
}

type MicroBalance struct {
	BaseChance             float64 `yaml:"base_chance"`
	DangerFactor           float64 `yaml:"danger_factor"`
	RampSeconds            int     `yaml:"ramp_seconds"`
	RampCap                float64 `yaml:"ramp_cap"`
	CheckIntervalSeconds   int     `yaml:"check_interval_seconds"`
	ResponseTimeoutSeconds int     `yaml:"response_timeout_seconds"`
	QuietStartSeconds      int     `yaml:"quiet_start_seconds"`
	QuietEndSeconds        int     `yaml:"quiet_end_seconds"`
}

type CombatBalance struct {
	PlayerCooldownSeconds  int `yaml:"player_cooldown_seconds"`
	NPCActionMinSeconds    int `yaml:"npc_action_min_seconds"`
	NPCActionMaxSeconds    int `yaml:"npc_action_max_seconds"`
	NPCLoopSeconds         int `yaml:"npc_loop_seconds"`
	RespawnMinHours        int `yaml:"respawn_min_hours"`
	RespawnMaxHours        int `yaml:"respawn_max_hours"`
	FleeCooldownMinutes    int `yaml:"flee_cooldown_minutes"`
	RobberyCooldownMinutes int `yaml:"robbery_cooldown_minutes"`
	RobberyExpirySeconds   int `yaml:"robbery_expiry_seconds"`
	PvPFleeMinCost         int `yaml:"pvp_flee_min_cost"`
}

type ActivityBalance struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	InactivityMinutes    int `yaml:"inactivity_minutes"`
	GraceMinutes         int `yaml:"grace_minutes"`
}

type AmbientBalance struct {
	Enabled              bool               `yaml:"enabled"`
	CheckIntervalMinutes int                `yaml:"check_interval_minutes"`
	MinSpacingMinutes    int                `yaml:"min_spacing_minutes"`
	MaxChance            float64            `yaml:"max_chance"`
	DefaultBaseChance    float64            `yaml:"default_base_chance"`
	BaseChances          map[string]float64 `yaml:"base_chances"`
	Multipliers          map[string]float64 `yaml:"multipliers"`
}

type IncomeBalance struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	HomeCapDays     int `yaml:"home_cap_days"`
}

type CleanupBalance struct {
	IntervalSeconds        int `yaml:"interval_seconds"`
	RespawnIntervalMinutes int `yaml:"respawn_interval_minutes"`
	NewsIntervalSeconds    int `yaml:"news_interval_seconds"`
}

type RadioBalance struct {
	DirectRange         float64 `yaml:"direct_range"`
	CoordsPerSystem     float64 `yaml:"coords_per_system"`
	CorruptionThreshold float64 `yaml:"corruption_threshold"`
	CorruptionPerUnit   float64 `yaml:"corruption_per_unit"`
	CorruptionCap       float64 `yaml:"corruption_cap"`
	UngatedPenalty      float64 `yaml:"ungated_penalty"`
	ClearSignal         int     `yaml:"clear_signal"`
}

func DefaultBalance() *Balance {
	return &Balance{
		Travel: TravelBalance{
			MinTravelSeconds:        120,
			EfficiencyBase:          1.6,
			EfficiencyStep:          0.08,
			ProgressIntervalSeconds: 20,
			TransitTeardownSeconds:  60,
			DockingPromptSeconds:    300,
			EmergencyMinDamage:      40,
			EmergencyMaxDamage:      80,
			RetreatHullDamage:       10,
		},
		Hazards: HazardBalance{
			ChancePerDanger:    0.15,
			MaxPerSession:      3,
			MinWindowSeconds:   180,
			MaxWindowSeconds:   480,
			NonResponsePenalty: 1.25,
			HPPerSeverity:      10,
			HullPerSeverity:    12,
		},
		Micro: MicroBalance{
			BaseChance:             0.18,
			DangerFactor:           0.05,
			RampSeconds:            300,
			RampCap:                1.5,
			CheckIntervalSeconds:   60,
			ResponseTimeoutSeconds: 30,
			QuietStartSeconds:      30,
			QuietEndSeconds:        45,
		},
		Combat: CombatBalance{
			PlayerCooldownSeconds:  10,
			NPCActionMinSeconds:    30,
			NPCActionMaxSeconds:    45,
			NPCLoopSeconds:         45,
			RespawnMinHours:        2,
			RespawnMaxHours:        6,
			FleeCooldownMinutes:    15,
			RobberyCooldownMinutes: 15,
			RobberyExpirySeconds:   120,
			PvPFleeMinCost:         50,
		},
		Activity: ActivityBalance{
			CheckIntervalSeconds: 300,
			InactivityMinutes:    60,
			GraceMinutes:         10,
		},
		Ambient: AmbientBalance{
			Enabled:              true,
			CheckIntervalMinutes: 15,
			MinSpacingMinutes:    30,
			MaxChance:            0.25,
			DefaultBaseChance:    0.17,
			BaseChances: map[string]float64{
				"colony":        0.18,
				"space_station": 0.20,
				"outpost":       0.15,
				"gate":          0.16,
			},
			Multipliers: map[string]float64{
				"colony":        1.2,
				"space_station": 1.2,
				"outpost":       0.9,
				"gate":          0.8,
			},
		},
		Income: IncomeBalance{
			IntervalMinutes: 60,
			HomeCapDays:     7,
		},
		Cleanup: CleanupBalance{
			IntervalSeconds:        60,
			RespawnIntervalMinutes: 30,
			NewsIntervalSeconds:    60,
		},
		Radio: RadioBalance{
			DirectRange:         10,
			CoordsPerSystem:     10,
			CorruptionThreshold: 5,
			CorruptionPerUnit:   0.15,
			CorruptionCap:       0.80,
			UngatedPenalty:      10,
			ClearSignal:         70,
		},
	}
}

// LoadBalance overlays the YAML file at path on the defaults. An empty path
// returns the defaults unchanged.
func LoadBalance(path string) (*Balance, error) {
	balance := DefaultBalance()
	if path == "" {
		return balance, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance file: %w", err)
	}

	if err := ValidateBalanceYAML(raw); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(raw, balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance file: %w", err)
	}

	return balance, nil
}

// ValidateBalanceYAML checks a balance document against the embedded schema.
func ValidateBalanceYAML(raw []byte) error {
	schema, err := compiledBalanceSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse balance file: %w", err)
	}
	if doc == nil {
		return nil
	}

	// Round-trip through JSON so numbers and maps have the shapes the
	// validator expects.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("balance file is not representable as JSON: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return fmt.Errorf("failed to normalize balance file: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("balance file failed validation: %w", err)
	}
	return nil
}

func compiledBalanceSchema() (*jsonschema.Schema, error) {
	balanceSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(balanceSchemaURL, bytes.NewReader(balanceSchemaJSON)); err != nil {
			balanceSchemaErr = fmt.Errorf("failed to load balance schema: %w", err)
			return
		}
		balanceSchema, balanceSchemaErr = compiler.Compile(balanceSchemaURL)
	})
	return balanceSchema, balanceSchemaErr
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func (b TravelBalance) ProgressInterval() time.Duration { return seconds(b.ProgressIntervalSeconds) }
func (b TravelBalance) TransitTeardown() time.Duration  { return seconds(b.TransitTeardownSeconds) }
func (b TravelBalance) DockingPrompt() time.Duration    { return seconds(b.DockingPromptSeconds) }

func (b MicroBalance) CheckInterval() time.Duration   { return seconds(b.CheckIntervalSeconds) }
func (b MicroBalance) ResponseTimeout() time.Duration { return seconds(b.ResponseTimeoutSeconds) }

func (b CombatBalance) PlayerCooldown() time.Duration  { return seconds(b.PlayerCooldownSeconds) }
func (b CombatBalance) NPCLoop() time.Duration         { return seconds(b.NPCLoopSeconds) }
func (b CombatBalance) FleeCooldown() time.Duration    { return minutes(b.FleeCooldownMinutes) }
func (b CombatBalance) RobberyCooldown() time.Duration { return minutes(b.RobberyCooldownMinutes) }
func (b CombatBalance) RobberyExpiry() time.Duration   { return seconds(b.RobberyExpirySeconds) }

func (b ActivityBalance) CheckInterval() time.Duration { return seconds(b.CheckIntervalSeconds) }
func (b ActivityBalance) Inactivity() time.Duration    { return minutes(b.InactivityMinutes) }
func (b ActivityBalance) Grace() time.Duration         { return minutes(b.GraceMinutes) }

func (b AmbientBalance) CheckInterval() time.Duration { return minutes(b.CheckIntervalMinutes) }
func (b AmbientBalance) MinSpacing() time.Duration    { return minutes(b.MinSpacingMinutes) }

func (b IncomeBalance) Interval() time.Duration { return minutes(b.IntervalMinutes) }

func (b CleanupBalance) Interval() time.Duration        { return seconds(b.IntervalSeconds) }
func (b CleanupBalance) RespawnInterval() time.Duration { return minutes(b.RespawnIntervalMinutes) }
func (b CleanupBalance) NewsInterval() time.Duration    { return seconds(b.NewsIntervalSeconds) }
