package travel

import (
	"container/heap"
	"context"
	"strings"
	"time"

	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

type routeNode struct {
	location int64
	cost     int
	index    int
}

type routeQueue []*routeNode

func (q routeQueue) Len() int           { return len(q) }
func (q routeQueue) Less(i, j int) bool { return q[i].cost < q[j].cost }
func (q routeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *routeQueue) Push(x any) {
	n := x.(*routeNode)
	n.index = len(*q)
	*q = append(*q, n)
}
func (q *routeQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

// ShortestPath finds the quickest chain of corridors from one location to
// another, weighted by base travel time. It returns nil when no path exists.
func ShortestPath(corridors []world.Corridor, from, to int64) []world.Corridor {
	if from == to {
		return []world.Corridor{}
	}

	adj := make(map[int64][]world.Corridor)
	for _, c := range corridors {
		if c.Active {
			adj[c.Origin] = append(adj[c.Origin], c)
		}
	}

	dist := map[int64]int{from: 0}
	via := make(map[int64]world.Corridor)
	q := &routeQueue{{location: from}}

	for q.Len() > 0 {
		n := heap.Pop(q).(*routeNode)
		if n.cost > dist[n.location] {
			continue
		}
		if n.location == to {
			break
		}
		for _, c := range adj[n.location] {
			cost := n.cost + c.TravelTime
			if d, seen := dist[c.Destination]; seen && d <= cost {
				continue
			}
			dist[c.Destination] = cost
			via[c.Destination] = c
			heap.Push(q, &routeNode{location: c.Destination, cost: cost})
		}
	}

	if _, ok := via[to]; !ok {
		return nil
	}
	var path []world.Corridor
	for at := to; at != from; {
		c := via[at]
		path = append(path, c)
		at = c.Origin
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PlotRoute plans a multi-hop trip from the character's location to the
// named destination. Times use the active ship's efficiency but ignore
// location effects along the way.
func (s *Service) PlotRoute(ctx context.Context, userID int64, destination string) (*Plot, error) {
	c, err := s.world.GetCharacter(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if c.CurrentLocation == nil {
		return nil, errors.Preconditionf("You cannot plot a route while in transit.")
	}
	ship, err := s.world.GetActiveShip(ctx, nil, userID)
	if errors.Is(err, world.ErrNoActiveShip) {
		return nil, errors.Preconditionf("You have no active ship.")
	}
	if err != nil {
		return nil, err
	}

	locations, err := s.locationIndex(ctx)
	if err != nil {
		return nil, err
	}
	var target *world.Location
	for _, l := range locations {
		if strings.EqualFold(l.Name, strings.TrimSpace(destination)) {
			target = &l
			break
		}
	}
	if target == nil {
		return nil, errors.NotFoundf("No location named %q.", destination)
	}
	if target.ID == *c.CurrentLocation {
		return nil, errors.Preconditionf("You are already at %s.", target.Name)
	}

	corridors, err := s.world.ListActiveCorridors(ctx, nil)
	if err != nil {
		return nil, err
	}
	path := ShortestPath(corridors, *c.CurrentLocation, target.ID)
	if path == nil {
		return nil, errors.NotFoundf("No known route leads to %s.", target.Name)
	}

	plot := &Plot{Hops: path}
	for _, hop := range path {
		plot.Stops = append(plot.Stops, locations[hop.Destination])
		plot.TotalTime += EffectiveTime(s.cfg, hop.TravelTime, ship.FuelEfficiency, world.TravelModifiers{FuelFactor: 1})
		plot.TotalFuel += hop.FuelCost
	}
	plot.TotalTime = plot.TotalTime.Round(time.Second)
	return plot, nil
}
