// Package casualty applies damage to characters and their ships and runs
// the death path every engine shares.
package casualty

import (
	"context"
	"fmt"
	"log/slog"

	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

// Releaser closes out engagements a death cleared.
type Releaser interface {
	Release(ctx context.Context, released *world.Released)
}

// Outcome is what one hit did.
type Outcome struct {
	HP       int
	Hull     int
	HPLost   int
	HullLost int
	Died     bool

	name     string
	location *int64
	released *world.Released
}

type Service struct {
	world    *world.Repository
	clock    *gametime.Service
	channels *gateway.Channels
	releaser Releaser
	logger   *slog.Logger
}

func NewService(worldRepo *world.Repository, clock *gametime.Service, channels *gateway.Channels, releaser Releaser, logger *slog.Logger) *Service {
	return &Service{world: worldRepo, clock: clock, channels: channels, releaser: releaser, logger: logger}
}

func (s *Service) log(operation string) *slog.Logger {
	return s.logger.With("component", "casualty_service", "operation", operation)
}

// Harm applies HP damage and then hull damage to the active ship. A hit
// that kills skips the hull.
func (s *Service) Harm(ctx context.Context, userID int64, hp, hull int, cause string) (*Outcome, error) {
	var out *Outcome
	err := s.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		var err error
		out, err = s.HarmTx(ctx, tx, userID, hp, hull)
		return err
	})
	if err != nil {
		s.log("harm").Error("Failed to apply damage", "user_id", userID, "error", err)
		return nil, err
	}
	s.Settle(ctx, userID, out, cause)
	return out, nil
}

// HarmTx is Harm inside a caller's transaction. The caller must pass the
// outcome to Settle after commit.
func (s *Service) HarmTx(ctx context.Context, tx *database.Tx, userID int64, hp, hull int) (*Outcome, error) {
	c, err := s.world.GetCharacter(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !c.Alive {
		return &Outcome{HP: 0}, nil
	}
	out := &Outcome{name: c.Name, location: c.CurrentLocation}

	if hp > 0 {
		left, err := s.world.AdjustHP(ctx, tx, userID, -hp)
		if err != nil {
			return nil, err
		}
		out.HPLost, out.HP = c.HP-left, left
		if left <= 0 {
			out.Died = true
			out.released, err = s.world.Kill(ctx, tx, userID, s.clock.WallNow())
			return out, err
		}
	} else {
		out.HP = c.HP
	}

	if hull > 0 {
		ship, err := s.world.GetActiveShip(ctx, tx, userID)
		if errors.Is(err, world.ErrNoActiveShip) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		left, err := s.world.AdjustHull(ctx, tx, ship.ID, -hull)
		if err != nil {
			return nil, err
		}
		out.HullLost, out.Hull = ship.HullIntegrity-left, left
	}
	return out, nil
}

// KillTx marks the character dead inside a caller's transaction.
func (s *Service) KillTx(ctx context.Context, tx *database.Tx, userID int64) (*Outcome, error) {
	c, err := s.world.GetCharacter(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Died: true, HPLost: c.HP, name: c.Name, location: c.CurrentLocation}
	out.released, err = s.world.Kill(ctx, tx, userID, s.clock.WallNow())
	return out, err
}

// Settle runs the chat side of a death. It does nothing for survivors.
func (s *Service) Settle(ctx context.Context, userID int64, out *Outcome, cause string) {
	if out == nil || !out.Died {
		return
	}
	s.log("settle").Info("Character died", "user_id", userID, "cause", cause)

	if s.releaser != nil {
		s.releaser.Release(ctx, out.released)
	}

	notice := gateway.Embed{
		Title:       "Character death",
		Description: fmt.Sprintf("%s has died: %s.", out.name, cause),
		Color:       gateway.ColorDanger,
	}
	if out.location != nil {
		s.channels.Post(ctx, *out.location, notice)
		s.channels.Revoke(ctx, *out.location, userID)
	}
	dm := gateway.Embed{
		Title:       "You have died",
		Description: fmt.Sprintf("Cause of death: %s. Create a new character to continue.", cause),
		Color:       gateway.ColorDanger,
	}
	if err := s.channels.Gateway().DirectMessage(ctx, userID, dm); err != nil {
		s.log("settle").Warn("Failed to deliver death notice", "user_id", userID, "error", err)
	}
}
