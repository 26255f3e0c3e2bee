package radio

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
)

// noise replaces corrupted characters.
const noise = "_-~#*%$@?!&^"

type Point struct {
	X, Y float64
}

// Origin is a point a transmission leaves from. Corridor senders have two.
type Origin struct {
	Point
	LocationID int64
	Name       string
	Relay      string
}

// Site is a location that can hear a transmission.
type Site struct {
	Point
	LocationID int64
	Name       string
}

type Repeater struct {
	Point
	ID         int64
	LocationID int64
	Name       string
	Receive    float64
	Transmit   float64
}

// Reception is the best signal one location gets.
type Reception struct {
	LocationID int64
	Location   string
	Distance   int
	Signal     int
	Relay      string
	Message    string
}

func (r Reception) Clear(threshold int) bool {
	return r.Signal >= threshold
}

// Distance is the whole number of system units between two points.
func Distance(a, b Point, perSystem float64) int {
	return int(math.Hypot(a.X-b.X, a.Y-b.Y) / perSystem)
}

func Signal(distance int) int {
	return max(0, 100-10*distance)
}

// CorruptionChance is the per-character corruption probability for a
// signal that travelled distance system units.
func CorruptionChance(cfg config.RadioBalance, distance int, ungated bool) float64 {
	effective := float64(distance)
	if ungated {
		effective += cfg.UngatedPenalty
	}
	if effective <= cfg.CorruptionThreshold {
		return 0
	}
	return min(cfg.CorruptionCap, cfg.CorruptionPerUnit*(effective-cfg.CorruptionThreshold))
}

// Corrupt replaces each letter or digit with noise with probability p.
func Corrupt(message string, p float64, r *dice.Roller) string {
	if p <= 0 {
		return message
	}
	var b strings.Builder
	for _, ch := range message {
		if (unicode.IsLetter(ch) || unicode.IsDigit(ch)) && r.Chance(p) {
			b.WriteByte(noise[r.IntN(len(noise))])
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

type source struct {
	at    Point
	reach float64
	hops  int
	relay string
}

// Propagate works out which sites hear a transmission from the origins.
// Repeaters that hear a source rebroadcast with their own transmit range;
// each site keeps its strongest signal. Sites at an excluded location hear
// nothing.
func Propagate(cfg config.RadioBalance, origins []Origin, sites []Site, repeaters []Repeater, exclude int64) []Reception {
	queue := make([]source, 0, len(origins))
	for _, o := range origins {
		queue = append(queue, source{at: o.Point, reach: cfg.DirectRange, relay: o.Relay})
	}

	reached := make(map[int64]int)
	best := make(map[int64]Reception)
	for len(queue) > 0 {
		src := queue[0]
		queue = queue[1:]

		for _, rep := range repeaters {
			d := Distance(src.at, rep.Point, cfg.CoordsPerSystem)
			if float64(d) > rep.Receive {
				continue
			}
			hops := src.hops + d
			if prev, ok := reached[rep.ID]; ok && prev <= hops {
				continue
			}
			reached[rep.ID] = hops
			queue = append(queue, source{at: rep.Point, reach: rep.Transmit, hops: hops, relay: "Repeater at " + rep.Name})
		}

		for _, site := range sites {
			if site.LocationID == exclude {
				continue
			}
			d := Distance(src.at, site.Point, cfg.CoordsPerSystem)
			if float64(d) > src.reach {
				continue
			}
			total := src.hops + d
			signal := Signal(total)
			if cur, ok := best[site.LocationID]; ok && cur.Signal >= signal {
				continue
			}
			best[site.LocationID] = Reception{
				LocationID: site.LocationID,
				Location:   site.Name,
				Distance:   total,
				Signal:     signal,
				Relay:      src.relay,
			}
		}
	}

	out := make([]Reception, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}
