package ambient

import "starlane-server/internal/world"

var locationLines = map[world.LocationType][]string{
	world.LocationColony: {
		"Shift workers file out of the transit hub, trading complaints about the air recyclers.",
		"A hauler loaded with hydroponic greens crawls down the main concourse.",
		"The atmosphere plant thrums somewhere beneath the residential blocks.",
		"A crew in patched vac suits rolls a spare filter bank toward the industrial ring.",
		"The public address system coughs static, then falls quiet again.",
		"Someone at the protein bakery has burned a batch. The whole quarter knows.",
		"Miners back from the deep shafts crowd the bar nearest the lift, loud and dusty.",
		"{character_name} steps aside as a courier kid sprints past with a sealed parcel.",
	},
	world.LocationStation: {
		"Approach lights blink green for a freighter sliding into berth seven.",
		"A welding drone drifts overhead, trailing a faint smell of ozone.",
		"Gravity wobbles for half a second while the plating recalibrates.",
		"The customs queue shuffles forward one traveler at a time.",
		"Traffic control asks an impatient courier, again, to hold position.",
		"Traders on the promenade shout prices over each other.",
		"A decontamination notice closes berth twelve until further notice.",
		"{character_name} catches a maintenance tech climbing out of a ceiling hatch.",
	},
	world.LocationOutpost: {
		"The perimeter scan finishes its sweep. Nothing but dust and distant rock.",
		"The comm dish creaks through another slow rotation.",
		"A supply drone settles onto the pad, its cargo clamps hissing open.",
		"Life support hums. It is the loudest thing here.",
		"Half a puzzle sits abandoned on the mess table.",
		"A filter warning chimes in the water plant and nobody hurries.",
		"A patrol skiff returns from its loop and docks without a word on the channel.",
		"{character_name} overhears the crew betting on when the next trader will show up.",
	},
	world.LocationGate: {
		"The outer ring turns, static crawling along its rim.",
		"Navigation beacons pulse in sequence, marking the safe approach.",
		"A survey ship drops out of the corridor, hull still glowing faintly.",
		"Stabilizers shift their output and the field settles.",
		"The superstructure groans under a passing tidal pull.",
		"A convoy lines up for transit, drives syncing one by one.",
		"Monitoring logs a minor distortion, well inside tolerance.",
		"{character_name} watches the energy readout spike during a calibration pass.",
	},
}

var genericLines = []string{
	"The lights shift a shade warmer as the facility rolls over to the next shift.",
	"A janitor mops the same stretch of deck for the third time and sighs.",
	"The air handlers settle into their steady drone.",
	"An automated reminder asks everyone to update their emergency contacts.",
	"Emergency lighting flickers amber for its weekly test, then clears.",
	"A cargo sled hums through the service tunnels on autopilot.",
}

var periodLines = map[Period][]string{
	PeriodMorning: {
		"Day-cycle lighting creeps up from night dim.",
		"First shift clocks in, boots loud in the waking corridors.",
		"Morning briefings start behind half a dozen closed doors.",
	},
	PeriodDay: {
		"Every department is running flat out in the middle of the day cycle.",
		"The corridors are crowded and everybody is late for something.",
		"Supervisors walk their rounds with tablets in hand.",
	},
	PeriodEvening: {
		"Evening crews take over as the day shift drifts toward the bars.",
		"Non-essential systems spin down for the night cycle.",
		"The lights dim a notch toward evening levels.",
	},
	PeriodNight: {
		"Night watch keeps a quiet eye on the status boards.",
		"Only the essential crews are awake now.",
		"The corridors sit dim and nearly empty.",
	},
}

func linesFor(t world.LocationType) []string {
	if lines, ok := locationLines[t]; ok {
		return lines
	}
	return genericLines
}
