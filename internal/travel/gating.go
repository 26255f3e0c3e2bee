package travel

import (
	"errors"
	"fmt"
	"math"
	"time"

	"starlane-server/internal/shared/config"
	"starlane-server/internal/world"
)

var ErrSessionNotFound = errors.New("travel session not found")

// EffectiveTime applies ship efficiency and location modifiers to a
// corridor's base time. The floor applies last so nothing beats it.
func EffectiveTime(cfg config.TravelBalance, baseSeconds, efficiency int, mods world.TravelModifiers) time.Duration {
	factor := cfg.EfficiencyBase - cfg.EfficiencyStep*float64(efficiency)
	seconds := math.Round(float64(baseSeconds) * factor * mods.TimeFactor())
	seconds = math.Max(float64(cfg.MinTravelSeconds), seconds)
	return time.Duration(seconds) * time.Second
}

// SurvivalChance is the emergency-exit survival percentage.
func SurvivalChance(danger int) int {
	return max(10, 50-10*danger)
}

// GateInput is everything arrival gating looks at.
type GateInput struct {
	Flags       world.CharacterFlags
	Destination *world.Location
	Ownership   *world.Ownership
	MemberOf    *int64
	Reputation  int
}

// Gate decides what happens when a traveler reaches a destination. Checks
// run in a fixed order: security bypass and federal credentials first,
// then faction ownership, then the destination's faction against the
// traveler's reputation tier.
func Gate(in GateInput) Decision {
	dest := in.Destination
	federalSite := dest.Faction == world.FactionGovernment || dest.Services.FederalSupplies

	if in.Flags.SecurityBypass {
		return Decision{Outcome: OutcomeGranted,
			Message: fmt.Sprintf("Your transit papers get you through security without question. Welcome to %s!", dest.Name)}
	}

	if in.Flags.FederalID && federalSite {
		return Decision{Outcome: OutcomeGranted,
			Message: fmt.Sprintf("Federal ID verified. Welcome to %s, Agent.", dest.Name)}
	}

	if o := in.Ownership; o != nil && o.FactionID != nil {
		switch {
		case in.MemberOf != nil && *in.MemberOf == *o.FactionID:
			return Decision{Outcome: OutcomeGranted,
				Message: fmt.Sprintf("Welcome home to %s.", dest.Name)}
		case o.DockingFee <= 0:
			return Decision{Outcome: OutcomeGranted,
				Message: fmt.Sprintf("Welcome to %s.", dest.Name)}
		default:
			return Decision{Outcome: OutcomeFee, Fee: o.DockingFee, FactionID: o.FactionID,
				Message: fmt.Sprintf("%s is faction territory. Non-members pay a docking fee of %d credits.", dest.Name, o.DockingFee)}
		}
	}

	tier := world.TierFor(in.Reputation)
	switch dest.Faction {
	case world.FactionGovernment:
		switch tier {
		case world.TierHeroic, world.TierGood:
			return Decision{Outcome: OutcomeGranted,
				Message: fmt.Sprintf("Welcome to the secure government area of %s. Your reputation precedes you.", dest.Name)}
		case world.TierNeutral:
			fee := max(100, (50-in.Reputation)*10)
			return Decision{Outcome: OutcomeFee, Fee: fee,
				Message: fmt.Sprintf("%s is a secure government area. With your neutral standing a docking fee of %d credits is required.", dest.Name, fee)}
		default:
			return Decision{Outcome: OutcomeRetreat, Hostile: true,
				Message: fmt.Sprintf("Hostile detected! %s security forces engage on sight and drive you back.", dest.Name)}
		}

	case world.FactionBandit:
		if in.Flags.FederalID {
			return Decision{Outcome: OutcomeRetreat, Hostile: true,
				Message: fmt.Sprintf("Federal agent detected! %s opens fire and you are forced to retreat.", dest.Name)}
		}
		switch tier {
		case world.TierEvil, world.TierBad:
			return Decision{Outcome: OutcomeGranted,
				Message: fmt.Sprintf("Welcome to %s, friend. Nobody asks questions here.", dest.Name)}
		case world.TierNeutral:
			fee := (50 + in.Reputation) * 10
			return Decision{Outcome: OutcomeFee, Fee: fee,
				Message: fmt.Sprintf("%s wants proof you're not a spy: a contribution of %d credits to dock.", dest.Name, fee)}
		default:
			return Decision{Outcome: OutcomeRetreat, Hostile: true,
				Message: fmt.Sprintf("Lawman detected! The locals at %s open fire and force you to retreat.", dest.Name)}
		}
	}

	return Decision{Outcome: OutcomeGranted, Message: fmt.Sprintf("You have arrived at %s.", dest.Name)}
}
