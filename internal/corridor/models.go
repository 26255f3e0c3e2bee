package corridor

import (
	"math"
	"time"

	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/world"
)

type HazardKind string

const (
	Radiation   HazardKind = "corridor_radiation"
	StaticFog   HazardKind = "static_fog"
	VacuumBloom HazardKind = "vacuum_bloom"
)

var HazardKinds = []HazardKind{Radiation, StaticFog, VacuumBloom}

type hazardProfile struct {
	Title       string
	Description string
	HPFactor    float64
	HullFactor  float64
}

var profiles = map[HazardKind]hazardProfile{
	Radiation: {
		Title:       "Radiation surge",
		Description: "Hard radiation floods the corridor. Shielding and crew protection are critical.",
		HPFactor:    1.5,
		HullFactor:  0.8,
	},
	StaticFog: {
		Title:       "Static fog",
		Description: "A charged fog rolls over the hull, shorting exposed systems and blinding sensors.",
		HPFactor:    0.7,
		HullFactor:  2.0,
	},
	VacuumBloom: {
		Title:       "Vacuum bloom",
		Description: "Pockets of exotic vacuum erupt along the route, tearing at plating and lungs alike.",
		HPFactor:    1.35,
		HullFactor:  1.5,
	},
}

func (k HazardKind) Title() string { return profiles[k].Title }

// Response is a traveler's answer to a hazard alert.
type Response string

const (
	ResponseEmergency Response = "emergency"
	ResponseStandard  Response = "standard"
	ResponseBasic     Response = "basic"
	ResponseNone      Response = "none"
)

var reductions = map[Response]float64{
	ResponseEmergency: 0.8,
	ResponseStandard:  0.5,
	ResponseBasic:     0.3,
	ResponseNone:      0,
}

func ParseResponse(choice string) (Response, bool) {
	r := Response(choice)
	_, ok := reductions[r]
	return r, ok
}

type Damage struct {
	HP   int
	Hull int
}

// HazardDamage is the damage one traveler takes for a given response.
func HazardDamage(cfg config.HazardBalance, kind HazardKind, severity int, response Response) Damage {
	p := profiles[kind]
	keep := 1 - reductions[response]
	return Damage{
		HP:   truncate(float64(severity*cfg.HPPerSeverity) * p.HPFactor * keep),
		Hull: truncate(float64(severity*cfg.HullPerSeverity) * p.HullFactor * keep),
	}
}

// UnansweredDamage is the unmitigated damage plus the non-response penalty.
func UnansweredDamage(cfg config.HazardBalance, kind HazardKind, severity int) Damage {
	d := HazardDamage(cfg, kind, severity, ResponseNone)
	return Damage{
		HP:   truncate(float64(d.HP) * cfg.NonResponsePenalty),
		Hull: truncate(float64(d.Hull) * cfg.NonResponsePenalty),
	}
}

// truncate drops the fraction, ignoring float noise like 5.999999999999999.
func truncate(v float64) int {
	return int(v + 1e-9)
}

// Severity is rolled around the corridor's danger level, capped at 5.
func Severity(roller *dice.Roller, danger int) int {
	return min(5, roller.Between(max(1, danger-1), danger+1))
}

type Hazard struct {
	ID          int64
	Channel     string
	CorridorID  int64
	Kind        HazardKind
	Severity    int
	TriggeredAt time.Time
	ExpiresAt   time.Time
}

type DamageType string

const (
	DamageHP   DamageType = "hp"
	DamageHull DamageType = "hull"
	DamageFuel DamageType = "fuel"
)

type MicroTemplate struct {
	Title       string
	Description string
	Skill       world.Skill
	Damage      DamageType
}

var lowTier = []MicroTemplate{
	{"Power ripple", "A ripple in the %s field makes the reactor stutter.", world.SkillEngineering, DamageHull},
	{"Course drift", "Eddies in %s are nudging the ship off its line.", world.SkillNavigation, DamageFuel},
	{"Dust scatter", "Fine debris peppers the bow as you cross %s.", world.SkillNavigation, DamageHull},
	{"Dosimeter chirp", "A minor radiation spike registers inside %s.", world.SkillEngineering, DamageHP},
	{"Seal weep", "A fuel line seal starts weeping somewhere in %s.", world.SkillEngineering, DamageFuel},
}

var midTier = []MicroTemplate{
	{"Load spike", "Power draw surges while the ship fights the currents of %s.", world.SkillEngineering, DamageHull},
	{"Gravity shear", "A gravity well in %s drags at the ship.", world.SkillNavigation, DamageFuel},
	{"Ghost contact", "Sensors paint a shape shadowing you through %s.", world.SkillCombat, DamageHP},
	{"Cabin leak", "Pressure is dropping in a crew compartment. %s is not forgiving.", world.SkillMedical, DamageHP},
	{"Thruster wobble", "A thruster drifts out of alignment deep in %s.", world.SkillNavigation, DamageFuel},
}

var highTier = []MicroTemplate{
	{"Cascade warning", "Systems are failing one after another inside %s.", world.SkillEngineering, DamageHull},
	{"Hostile lock", "Something in %s has a weapons lock on you.", world.SkillCombat, DamageHP},
	{"Radiation squall", "A storm of hard radiation sweeps through %s.", world.SkillMedical, DamageHP},
	{"Corridor buckle", "The walls of %s are folding inward around the ship.", world.SkillNavigation, DamageHull},
	{"Life support strain", "Scrubbers are choking on the air of %s.", world.SkillMedical, DamageHP},
}

// TemplatesFor picks the template pool for a danger level.
func TemplatesFor(danger int) []MicroTemplate {
	switch {
	case danger <= 2:
		return lowTier
	case danger <= 4:
		return midTier
	default:
		return highTier
	}
}

// ExpectedSkill is the skill level a micro event is tuned for.
func ExpectedSkill(roller *dice.Roller, danger int) int {
	switch {
	case danger <= 2:
		return roller.Between(8, 10)
	case danger <= 4:
		return roller.Between(12, 15)
	default:
		return roller.Between(18, 20)
	}
}

// SuccessRate is the percentage chance a skill check passes.
func SuccessRate(skill, expected int) int {
	return min(85, max(15, 65+4*(skill-expected)))
}

// DroughtMultiplier raises the odds the longer a session has gone quiet.
func DroughtMultiplier(since time.Duration) float64 {
	switch s := since.Seconds(); {
	case s > 240:
		return 2.0
	case s > 210:
		return 1.5
	case s > 150:
		return 1.25
	default:
		return 1.0
	}
}

// MicroChance is the per-check probability of a micro event.
func MicroChance(cfg config.MicroBalance, danger int, elapsed, since time.Duration) float64 {
	ramp := math.Min(cfg.RampCap, elapsed.Seconds()/float64(cfg.RampSeconds))
	return cfg.BaseChance * (1 + cfg.DangerFactor*float64(danger)) * ramp * DroughtMultiplier(since)
}

type MicroEvent struct {
	ID          int64
	SessionID   int64
	Channel     string
	UserID      int64
	Template    MicroTemplate
	Description string
	Expected    int
	SuccessRate int
	XP          int
	Damage      int
}

// MicroOutcome is how a micro event ended.
type MicroOutcome string

const (
	MicroSuccess MicroOutcome = "success"
	MicroFailure MicroOutcome = "failure"
	MicroIgnored MicroOutcome = "ignored"
	MicroTimeout MicroOutcome = "timeout"
)

// MicroStakes rolls the XP reward and failure damage for a danger level.
func MicroStakes(roller *dice.Roller, danger int) (xp, damage int) {
	return max(1, 3+danger), roller.Between(1+danger, 5+2*danger)
}
