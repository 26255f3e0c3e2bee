package travel

import (
	"context"
	"fmt"
)

// Contact is one online character as the contacts list shows it.
type Contact struct {
	UserID    int64
	Name      string
	Callsign  string
	Location  string
	InTransit bool
	Corridor  string
	Progress  float64
}

// Contacts lists every online character with where they are: a location
// name, or the corridor they are crossing and how far along they are.
func (s *Service) Contacts(ctx context.Context) ([]Contact, error) {
	online, err := s.world.ListLoggedIn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list online characters: %w", err)
	}
	locations, err := s.locationIndex(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.WallNow()
	out := make([]Contact, 0, len(online))
	for _, c := range online {
		ct := Contact{UserID: c.UserID, Name: c.Name, Callsign: c.Callsign, Location: "Unknown"}
		if c.CurrentLocation != nil {
			if l, ok := locations[*c.CurrentLocation]; ok {
				ct.Location = l.Name
			}
			out = append(out, ct)
			continue
		}

		sess, corridor, err := s.Status(ctx, c.UserID)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			ct.InTransit = true
			ct.Corridor = corridor.Name
			ct.Progress = sess.Progress(now)
		}
		out = append(out, ct)
	}
	return out, nil
}
