package combat

import (
	"time"

	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

// ErrRobberyPending means the robber already has an open demand on the
// victim.
var ErrRobberyPending = errors.New("robbery already pending")

// Type is where a fight happens. It decides whether damage lands on HP or
// on hull.
type Type string

const (
	Ground Type = "ground"
	Space  Type = "space"
)

// TypeFor picks ground combat for docked characters and space otherwise.
func TypeFor(c *world.Character) Type {
	if c.Docked() {
		return Ground
	}
	return Space
}

// Status is the location status a combatant returns to.
func (t Type) Status() world.LocationStatus {
	if t == Space {
		return world.StatusInSpace
	}
	return world.StatusDocked
}

func (t Type) Resource() string {
	if t == Space {
		return "hull"
	}
	return "HP"
}

type NPCCombat struct {
	ID            int64
	PlayerID      int64
	NPCID         int64
	NPCKind       world.NPCKind
	Type          Type
	LocationID    *int64
	PlayerCanAct  time.Time
	NextNPCAction time.Time
	CreatedAt     time.Time
}

type Side string

const (
	SideAttacker Side = "attacker"
	SideDefender Side = "defender"
)

func (s Side) Other() Side {
	if s == SideAttacker {
		return SideDefender
	}
	return SideAttacker
}

type PvPCombat struct {
	ID             int64
	AttackerID     int64
	DefenderID     int64
	LocationID     *int64
	Type           Type
	AttackerCanAct time.Time
	DefenderCanAct time.Time
	Turn           Side
	LastAction     time.Time
	CreatedAt      time.Time
}

// SideOf reports which side a user is on.
func (p *PvPCombat) SideOf(userID int64) Side {
	if userID == p.AttackerID {
		return SideAttacker
	}
	return SideDefender
}

func (p *PvPCombat) Opponent(userID int64) int64 {
	if userID == p.AttackerID {
		return p.DefenderID
	}
	return p.AttackerID
}

func (p *PvPCombat) CanActAt(side Side) time.Time {
	if side == SideAttacker {
		return p.AttackerCanAct
	}
	return p.DefenderCanAct
}

type Robbery struct {
	ID         int64
	RobberID   int64
	VictimID   int64
	LocationID *int64
	ViewID     string
	MessageRef string
	ChannelRef string
	ExpiresAt  time.Time
}

type CooldownKind string

const (
	CooldownFlee    CooldownKind = "flee"
	CooldownRobbery CooldownKind = "robbery"
)

// Action is a reputation-bearing act against an NPC.
type Action string

const (
	ActionAttack     Action = "attack"
	ActionKill       Action = "kill"
	ActionRobSuccess Action = "rob_success"
	ActionRobFail    Action = "rob_fail"
)

var reputationMatrix = map[Action]map[world.Alignment]int{
	ActionAttack:     {world.AlignmentLoyal: -10, world.AlignmentNeutral: -7, world.AlignmentBandit: 7},
	ActionKill:       {world.AlignmentLoyal: -15, world.AlignmentNeutral: -10, world.AlignmentBandit: 10},
	ActionRobSuccess: {world.AlignmentLoyal: -8, world.AlignmentNeutral: -4, world.AlignmentBandit: 5},
	ActionRobFail:    {world.AlignmentLoyal: -9, world.AlignmentNeutral: -5, world.AlignmentBandit: 3},
}

// ReputationDelta is the local reputation change for acting against an NPC
// of the given alignment.
func ReputationDelta(action Action, npc world.Alignment) int {
	return reputationMatrix[action][npc]
}

// Contest is one opposed d20 roll.
type Contest struct {
	Attack  int
	Defense int
}

func (c Contest) Hit() bool { return c.Attack > c.Defense }

func Roll(roller *dice.Roller, attackSkill, defenseSkill int) Contest {
	return Contest{Attack: roller.D20() + attackSkill, Defense: roller.D20() + defenseSkill}
}

// PlayerDamage is a player's hit: 5-15 plus half the combat skill.
func PlayerDamage(roller *dice.Roller, combat int) int {
	return roller.Between(5, 15) + combat/2
}

// NPCDamage is an NPC counter-attack hit: 3-12 plus a third of its rating.
func NPCDamage(roller *dice.Roller, combat int) int {
	return roller.Between(3, 12) + combat/3
}

// FleeChance is the percentage chance of escaping an NPC, capped at 90.
func FleeChance(skill int) int {
	return min(90, 50+5*skill)
}

// FleeSkill is the skill that governs escape: footwork on the ground,
// ship handling in space.
func FleeSkill(c *world.Character, t Type) int {
	if t == Space {
		return c.Engineering
	}
	return c.Navigation
}

// PvPFleeCost is what a player pays to break off a PvP fight.
func PvPFleeCost(money, minimum int) int {
	return min(money, max(minimum, money/10))
}

// NPCRobChance is the percentage chance of robbing an NPC, capped at 80.
func NPCRobChance(combat int) int {
	return min(80, 30+5*combat)
}

// Engageable reports whether two alignments and opt-out states allow PvP.
// Opposite alignments always may fight; anyone else needs both opted in.
func Engageable(a, b world.Alignment, aOut, bOut bool) bool {
	if a.Opposes(b) {
		return true
	}
	return !aOut && !bOut
}

// RoundResult is what one exchange of blows did.
type RoundResult struct {
	Contest    Contest
	Damage     int
	Resource   string
	TargetName string
	TargetLeft int
	TargetMax  int
	Ended      bool
	Killed     bool
	Winner     int64
}

// Loot is what changed hands in a robbery.
type Loot struct {
	Credits int
	Items   []world.InventoryItem
	HPLoss  int
}

type RobberyOutcome string

const (
	RobberySurrendered     RobberyOutcome = "surrendered"
	RobberyAutoSurrendered RobberyOutcome = "auto_surrendered"
	RobberyRobberWon       RobberyOutcome = "robber_won"
	RobberyVictimWon       RobberyOutcome = "victim_won"
)

type RobberyResult struct {
	Outcome RobberyOutcome
	Contest *Contest
	Loot    Loot
	Damage  int
}

type NPCRobResult struct {
	Success  bool
	Chance   int
	Roll     int
	Stolen   int
	RepDelta int
	Combat   *NPCCombat
}
