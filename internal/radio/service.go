package radio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
)

const maxMessageLength = 1000

// Broadcast is the outcome of one transmission.
type Broadcast struct {
	Sender     string
	Origin     string
	Ungated    bool
	Receptions []Reception
}

type Service struct {
	repo     *Repository
	world    *world.Repository
	travel   *travel.Repository
	channels *gateway.Channels
	dice     *dice.Roller
	cfg      config.RadioBalance
	logger   *slog.Logger
}

func NewService(
	repo *Repository,
	worldRepo *world.Repository,
	travelRepo *travel.Repository,
	channels *gateway.Channels,
	roller *dice.Roller,
	cfg config.RadioBalance,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		world:    worldRepo,
		travel:   travelRepo,
		channels: channels,
		dice:     roller,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) log(operation string) *slog.Logger {
	return s.logger.With("component", "radio_service", "operation", operation)
}

// Send broadcasts a message from wherever the character is. Docked or
// in-space senders transmit from their location; travellers transmit from
// both ends of their corridor.
func (s *Service) Send(ctx context.Context, userID int64, message string) (*Broadcast, error) {
	logger := s.log("send").With("user_id", userID)

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.Validation("Say something first.")
	}
	if len(message) > maxMessageLength {
		return nil, errors.Validationf("Transmissions are limited to %d characters.", maxMessageLength)
	}

	c, err := s.world.GetCharacter(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if !c.LoggedIn {
		return nil, errors.Preconditionf("You need to be logged in to use the radio.")
	}

	b := &Broadcast{Sender: c.Name}
	if c.Callsign != "" {
		b.Sender = fmt.Sprintf("%s [%s]", c.Name, c.Callsign)
	}

	origins, exclude, err := s.origins(ctx, c, b)
	if err != nil {
		return nil, err
	}

	sites, err := s.repo.Listeners(ctx)
	if err != nil {
		return nil, err
	}
	repeaters, err := s.repo.ActiveRepeaters(ctx)
	if err != nil {
		return nil, err
	}

	b.Receptions = Propagate(s.cfg, origins, sites, repeaters, exclude)
	for i := range b.Receptions {
		r := &b.Receptions[i]
		r.Message = Corrupt(message, CorruptionChance(s.cfg, r.Distance, b.Ungated), s.dice)
		s.channels.Post(ctx, r.LocationID, s.embed(b, *r))
	}

	logger.Info("Radio transmission", "origin", b.Origin, "recipients", len(b.Receptions), "ungated", b.Ungated)
	return b, nil
}

func (s *Service) origins(ctx context.Context, c *world.Character, b *Broadcast) ([]Origin, int64, error) {
	if c.CurrentLocation != nil {
		loc, err := s.world.GetLocation(ctx, nil, *c.CurrentLocation)
		if err != nil {
			return nil, 0, err
		}
		b.Origin = loc.Name
		return []Origin{{Point: Point{loc.X, loc.Y}, LocationID: loc.ID, Name: loc.Name}}, loc.ID, nil
	}

	sess, err := s.travel.ActiveSession(ctx, nil, c.UserID)
	if err != nil {
		return nil, 0, err
	}
	if sess == nil {
		return nil, 0, errors.Preconditionf("There is nothing to relay your signal from here.")
	}
	corridor, err := s.world.GetCorridor(ctx, nil, sess.CorridorID)
	if err != nil {
		return nil, 0, err
	}

	var origins []Origin
	for _, id := range []int64{corridor.Origin, corridor.Destination} {
		loc, err := s.world.GetLocation(ctx, nil, id)
		if err != nil {
			return nil, 0, err
		}
		origins = append(origins, Origin{
			Point:      Point{loc.X, loc.Y},
			LocationID: loc.ID,
			Name:       loc.Name,
			Relay:      "Relay via " + loc.Name,
		})
	}
	b.Origin = fmt.Sprintf("In transit (%s)", corridor.Name)
	b.Ungated = corridor.Type == world.CorridorUngated
	return origins, 0, nil
}

func (s *Service) embed(b *Broadcast, r Reception) gateway.Embed {
	good := r.Clear(s.cfg.ClearSignal)
	quality, color := "weak", gateway.ColorWarning
	if good {
		quality, color = "clear", gateway.ColorInfo
	}

	origin := b.Origin
	if !good {
		origin = "Unknown"
	}
	e := gateway.Embed{
		Title:       "Incoming transmission",
		Description: r.Message,
		Color:       color,
	}.
		WithField("From", b.Sender, true).
		WithField("Origin", origin, true).
		WithField("Signal", fmt.Sprintf("%d%% (%s)", r.Signal, quality), true)
	if r.Relay != "" {
		e = e.WithField("Relay", r.Relay, false)
	}
	return e
}
