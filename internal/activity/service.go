package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/world"
)

// Tracker owns per-user liveness: activity stamps, AFK warnings and the
// logout path shared by manual and automatic logouts.
type Tracker struct {
	repo     *Repository
	world    *world.Repository
	clock    *gametime.Service
	channels *gateway.Channels
	views    *gateway.Views
	cfg      config.ActivityBalance
	logger   *slog.Logger

	mu       sync.Mutex
	timers   map[int64]*time.Timer
	base     context.Context
	releaser Releaser
}

// Releaser closes out engagements a logout cleared. The travel engine
// implements it.
type Releaser interface {
	Release(ctx context.Context, released *world.Released)
}

func (t *Tracker) SetReleaser(r Releaser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaser = r
}

func NewTracker(
	repo *Repository,
	worldRepo *world.Repository,
	clock *gametime.Service,
	channels *gateway.Channels,
	views *gateway.Views,
	cfg config.ActivityBalance,
	logger *slog.Logger,
) *Tracker {
	return &Tracker{
		repo:     repo,
		world:    worldRepo,
		clock:    clock,
		channels: channels,
		views:    views,
		cfg:      cfg,
		logger:   logger,
		timers:   make(map[int64]*time.Timer),
		base:     context.Background(),
	}
}

func (t *Tracker) log(operation string) *slog.Logger {
	return t.logger.With("component", "activity_tracker", "operation", operation)
}

// Touch records an interaction. Returns true when it cancelled a pending
// AFK warning, so the caller can confirm it to the user.
func (t *Tracker) Touch(ctx context.Context, userID int64) (bool, error) {
	now := t.clock.WallNow()
	if err := t.world.TouchActivity(ctx, userID, now); err != nil {
		return false, err
	}

	cancelled, err := t.repo.CancelWarnings(ctx, nil, userID)
	if err != nil {
		return false, err
	}
	if cancelled {
		t.stopTimer(userID)
		t.log("touch").Info("AFK warning cancelled by activity", "user_id", userID)
	}
	return cancelled, nil
}

// Login marks a living character as in game and resumes the clock.
func (t *Tracker) Login(ctx context.Context, userID int64) (*world.Character, error) {
	c, err := t.world.GetCharacter(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if !c.Alive {
		return nil, errors.Preconditionf("%s is dead and cannot log in.", c.Name)
	}

	changed, err := t.world.SetLoggedIn(ctx, nil, userID, true, t.clock.WallNow())
	if err != nil {
		return nil, err
	}
	if changed {
		if _, err := t.clock.AutoResume(ctx); err != nil {
			t.log("login").Warn("Failed to auto-resume clock", "error", err)
		}
		if c.CurrentLocation != nil {
			t.channels.Grant(ctx, *c.CurrentLocation, userID)
		}
		t.log("login").Info("Character logged in", "user_id", userID)
	}
	c.LoggedIn = true
	return c, nil
}

// Check is one pass of the inactivity loop: warn every idle character.
// Nothing accrues while the galaxy clock is paused.
func (t *Tracker) Check(ctx context.Context) error {
	logger := t.log("check")
	paused, err := t.clock.IsPaused(ctx)
	if err != nil {
		return err
	}
	if paused {
		logger.Debug("Galaxy clock paused, skipping inactivity check")
		return nil
	}
	now := t.clock.WallNow()

	idle, err := t.repo.IdleCharacters(ctx, now.Add(-t.cfg.Inactivity()))
	if err != nil {
		return err
	}

	for _, c := range idle {
		w, err := t.repo.InsertWarning(ctx, c.UserID, now, now.Add(t.cfg.Grace()))
		if err != nil {
			logger.Error("Failed to warn idle character", "user_id", c.UserID, "error", err)
			continue
		}
		if w == nil {
			continue
		}

		logger.Info("AFK warning issued", "user_id", c.UserID, "expires_at", w.ExpiresAt)
		embed := gateway.Embed{
			Title:       "Are you still there?",
			Description: fmt.Sprintf("You have been inactive for a while. Interact with the game within %d minutes or %s will be logged out.", t.cfg.GraceMinutes, c.Name),
			Color:       gateway.ColorWarning,
		}
		if err := t.channels.Gateway().DirectMessage(ctx, c.UserID, embed); err != nil {
			logger.Warn("Failed to deliver AFK warning", "user_id", c.UserID, "error", err)
		}
		t.schedule(*w)
	}
	return nil
}

// Resume re-arms timers for warnings that survived a restart. Warnings
// already past their expiry are processed immediately.
func (t *Tracker) Resume(ctx context.Context) error {
	t.mu.Lock()
	t.base = ctx
	t.mu.Unlock()

	warnings, err := t.repo.ActiveWarnings(ctx)
	if err != nil {
		return err
	}

	now := t.clock.WallNow()
	for _, w := range warnings {
		if !w.ExpiresAt.After(now) {
			if err := t.Expire(ctx, w); err != nil {
				t.log("resume").Error("Failed to process expired warning", "user_id", w.UserID, "error", err)
			}
			continue
		}
		t.schedule(w)
	}

	t.log("resume").Info("AFK warnings resumed", "count", len(warnings))
	return nil
}

func (t *Tracker) schedule(w Warning) {
	delay := max(0, w.ExpiresAt.Sub(t.clock.WallNow()))

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[w.UserID]; ok {
		old.Stop()
	}
	t.timers[w.UserID] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		ctx := t.base
		delete(t.timers, w.UserID)
		t.mu.Unlock()

		if err := t.Expire(ctx, w); err != nil {
			t.log("expire").Error("AFK logout failed", "user_id", w.UserID, "error", err)
		}
	})
}

func (t *Tracker) stopTimer(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
		delete(t.timers, userID)
	}
}

// Stop cancels every pending timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Expire logs the user out if the warning is still active. The warning is
// claimed in the same transaction as the logout so it fires at most once.
// While the galaxy clock is paused the logout is put off by one check
// interval instead.
func (t *Tracker) Expire(ctx context.Context, w Warning) error {
	paused, err := t.clock.IsPaused(ctx)
	if err != nil {
		return err
	}
	if paused {
		w.ExpiresAt = t.clock.WallNow().Add(t.cfg.CheckInterval())
		t.schedule(w)
		t.log("expire").Debug("Galaxy clock paused, AFK logout postponed", "user_id", w.UserID, "retry_at", w.ExpiresAt)
		return nil
	}

	claimed := false
	err = t.logout(ctx, w.UserID, LogoutAFK, func(tx *database.Tx) (bool, error) {
		ok, err := t.repo.ClaimWarning(ctx, tx, w.ID)
		claimed = ok
		return ok, err
	})
	if err != nil {
		return err
	}
	if claimed {
		t.stopTimer(w.UserID)
		t.log("expire").Info("AFK auto-logout", "user_id", w.UserID, "warning_id", w.ID)
	}
	return nil
}

// Logout ends a session on request.
func (t *Tracker) Logout(ctx context.Context, userID int64) error {
	t.stopTimer(userID)
	return t.logout(ctx, userID, LogoutManual, nil)
}

func (t *Tracker) logout(ctx context.Context, userID int64, reason LogoutReason, guard func(tx *database.Tx) (bool, error)) error {
	logger := t.log("logout").With("user_id", userID, "reason", reason)

	var (
		released *world.Released
		proceed  bool
		location *int64
		name     string
	)
	err := t.world.DB().WithTx(ctx, func(tx *database.Tx) error {
		released, proceed = nil, true
		if guard != nil {
			ok, err := guard(tx)
			if err != nil {
				return err
			}
			proceed = ok
		}
		if !proceed {
			return nil
		}

		c, err := t.world.GetCharacter(ctx, tx, userID)
		if err != nil {
			return err
		}
		name = c.Name

		if _, err := t.world.CancelJobs(ctx, tx, userID); err != nil {
			return err
		}
		if released, err = t.world.ClearEngagements(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := t.repo.CancelWarnings(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := t.world.SetLoggedIn(ctx, tx, userID, false, t.clock.WallNow()); err != nil {
			return err
		}

		after, err := t.world.GetCharacter(ctx, tx, userID)
		if err != nil {
			return err
		}
		location = after.CurrentLocation
		return nil
	})
	if err != nil {
		logger.Error("Logout failed", "error", err)
		return fmt.Errorf("failed to log out %d: %w", userID, err)
	}
	if !proceed {
		return nil
	}

	t.afterLogout(ctx, userID, name, reason, location, released)
	return nil
}

// afterLogout does the best-effort chat side of a logout.
func (t *Tracker) afterLogout(ctx context.Context, userID int64, name string, reason LogoutReason, location *int64, released *world.Released) {
	gw := t.channels.Gateway()

	t.mu.Lock()
	releaser := t.releaser
	t.mu.Unlock()

	if released != nil && releaser != nil {
		releaser.Release(ctx, released)
	} else if released != nil {
		for _, r := range released.Robberies {
			if r.ViewID != "" {
				t.views.Cancel(r.ViewID)
			}
		}
		if released.Travel != nil && released.Travel.TransitChannel != "" {
			if err := gw.DeleteChannel(ctx, gateway.ChannelRef(released.Travel.TransitChannel)); err != nil {
				t.log("logout").Warn("Failed to remove transit channel", "user_id", userID, "error", err)
			}
		}
	}

	if location != nil {
		desc := fmt.Sprintf("%s has logged out.", name)
		if reason == LogoutAFK {
			desc = fmt.Sprintf("%s drifted off and was logged out for inactivity.", name)
		}
		t.channels.Post(ctx, *location, gateway.Embed{Description: desc, Color: gateway.ColorInfo})
		t.channels.Revoke(ctx, *location, userID)
	}

	if reason == LogoutAFK {
		embed := gateway.Embed{
			Title:       "Logged out",
			Description: "You were logged out for inactivity. Active jobs were cancelled.",
			Color:       gateway.ColorDanger,
		}
		if err := gw.DirectMessage(ctx, userID, embed); err != nil {
			t.log("logout").Warn("Failed to notify logged out user", "user_id", userID, "error", err)
		}
	}

	if _, err := t.clock.AutoPause(ctx); err != nil {
		t.log("logout").Warn("Failed to auto-pause clock", "error", err)
	}
}

// Cleanup drops warnings resolved more than a day ago.
func (t *Tracker) Cleanup(ctx context.Context) error {
	n, err := t.repo.PurgeInactive(ctx, t.clock.WallNow().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if n > 0 {
		t.log("cleanup").Debug("Purged resolved AFK warnings", "count", n)
	}
	return nil
}
