package world

import "strings"

var localSpaceMarkers = []string{"Approach", "Local Space", "Arrival", "Departure"}

// Classify derives a corridor's type from its name and endpoints. Every
// topology write goes through here so stored types never drift.
func Classify(name string, origin, dest *Location) CorridorType {
	for _, marker := range localSpaceMarkers {
		if strings.Contains(name, marker) {
			return CorridorLocal
		}
	}

	originGate := origin.Type == LocationGate
	destGate := dest.Type == LocationGate
	sameSystem := origin.System == dest.System

	switch {
	case originGate != destGate && sameSystem:
		return CorridorLocal
	case originGate && destGate && !sameSystem:
		return CorridorGated
	default:
		return CorridorUngated
	}
}
