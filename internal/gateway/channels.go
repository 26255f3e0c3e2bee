package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"
)

const (
	LocationCategory = "Locations"
	TransitCategory  = "Transit"
)

// ChannelStore persists the location → channel mapping.
type ChannelStore interface {
	LocationChannel(ctx context.Context, locationID int64) (ref string, name string, err error)
	SetLocationChannel(ctx context.Context, locationID int64, ref string) error
}

// Channels hands out per-location channels, creating each one at most once.
type Channels struct {
	gw     Gateway
	store  ChannelStore
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewChannels(gw Gateway, store ChannelStore, logger *slog.Logger) *Channels {
	return &Channels{
		gw:     gw,
		store:  store,
		logger: logger.With("component", "gateway_channels"),
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (c *Channels) Gateway() Gateway {
	return c.gw
}

func (c *Channels) lockFor(locationID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[locationID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[locationID] = l
	}
	return l
}

// Location returns the location's channel, creating it on first use.
func (c *Channels) Location(ctx context.Context, locationID int64) (ChannelRef, error) {
	l := c.lockFor(locationID)
	l.Lock()
	defer l.Unlock()

	ref, name, err := c.store.LocationChannel(ctx, locationID)
	if err != nil {
		return "", err
	}
	if ref != "" {
		return ChannelRef(ref), nil
	}

	created, err := c.gw.CreateChannel(ctx, LocationCategory, Slug(name))
	if err != nil {
		return "", fmt.Errorf("failed to create channel for location %d: %w", locationID, err)
	}
	if err := c.store.SetLocationChannel(ctx, locationID, string(created)); err != nil {
		return "", err
	}

	c.logger.Info("Location channel created", "operation", "create", "location_id", locationID, "channel", created)
	return created, nil
}

// Post sends an embed to a location channel. Failures are logged only.
func (c *Channels) Post(ctx context.Context, locationID int64, embed Embed) {
	ref, err := c.Location(ctx, locationID)
	if err == nil {
		_, err = c.gw.Post(ctx, ref, embed)
	}
	if err != nil {
		c.logger.Warn("Location post failed", "operation", "post", "location_id", locationID, "error", err)
	}
}

// Grant gives a user access to a location channel.
func (c *Channels) Grant(ctx context.Context, locationID, userID int64) {
	c.setAccess(ctx, locationID, userID, true)
}

func (c *Channels) Revoke(ctx context.Context, locationID, userID int64) {
	c.setAccess(ctx, locationID, userID, false)
}

func (c *Channels) setAccess(ctx context.Context, locationID, userID int64, allow bool) {
	ref, err := c.Location(ctx, locationID)
	if err == nil {
		err = c.gw.SetAccess(ctx, ref, userID, allow)
	}
	if err != nil {
		c.logger.Warn("Channel access update failed",
			"operation", "set_access", "location_id", locationID, "user_id", userID, "allow", allow, "error", err)
	}
}

// Slug turns a display name into a channel name.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
