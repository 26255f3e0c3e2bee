package gametime

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/shared/timefmt"
)

const galaxyRowID = 1

// Service is the single source of "now" for game logic.
type Service struct {
	db     *database.DB
	clock  Clock
	logger *slog.Logger
}

func NewService(db *database.DB, clock Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{db: db, clock: clock, logger: logger}
}

// WallNow is the wall clock every engine uses for timers and expiries.
func (s *Service) WallNow() time.Time {
	return s.clock.Now()
}

// Init creates the galaxy clock row if it does not exist yet.
func (s *Service) Init(ctx context.Context, galaxyName string, epoch time.Time, scale float64) error {
	logger := s.logger.With("component", "time_service", "operation", "init")

	now := timefmt.Format(s.clock.Now())
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO galaxy_info (galaxy_id, name, galaxy_start_date, time_scale_factor, time_started_at, is_time_paused)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (galaxy_id) DO NOTHING`,
		galaxyRowID, galaxyName, timefmt.Format(epoch), scale, now)
	if err != nil {
		logger.Error("Failed to initialize galaxy clock", "error", err)
		return fmt.Errorf("failed to initialize galaxy clock: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		logger.Info("Galaxy clock created", "galaxy", galaxyName, "scale", scale)
	}
	return nil
}

const stateQuery = `
	SELECT name, galaxy_start_date, time_scale_factor, time_started_at, is_time_paused,
	       time_paused_at, paused_accumulated_seconds, is_manually_paused, news_channel
	FROM galaxy_info WHERE galaxy_id = ?`

func (s *Service) State(ctx context.Context) (*State, error) {
	return scanState(s.db.QueryRowContext(ctx, stateQuery, galaxyRowID))
}

func (s *Service) stateTx(ctx context.Context, tx *database.Tx) (*State, error) {
	return scanState(tx.QueryRowContext(ctx, stateQuery, galaxyRowID))
}

func scanState(row *sql.Row) (*State, error) {
	var (
		state                  State
		epoch, startedAt       string
		pausedAt, newsChannel  sql.NullString
		paused, manuallyPaused int
		pausedSeconds          float64
	)
	err := row.Scan(
		&state.GalaxyName, &epoch, &state.Scale, &startedAt, &paused,
		&pausedAt, &pausedSeconds, &manuallyPaused, &newsChannel,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("galaxy clock has not been initialized")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load galaxy clock: %w", err)
	}

	if state.Epoch, err = timefmt.Parse(epoch); err != nil {
		return nil, fmt.Errorf("bad galaxy_start_date: %w", err)
	}
	if state.StartedAt, err = timefmt.Parse(startedAt); err != nil {
		return nil, fmt.Errorf("bad time_started_at: %w", err)
	}
	if state.PausedAt, err = timefmt.ParsePtr(pausedAt.String); err != nil {
		return nil, fmt.Errorf("bad time_paused_at: %w", err)
	}
	state.Paused = paused == 1
	state.ManuallyPaused = manuallyPaused == 1
	state.PausedTotal = time.Duration(pausedSeconds * float64(time.Second))
	state.NewsChannel = newsChannel.String
	return &state, nil
}

// Now returns the current in-game time.
func (s *Service) Now(ctx context.Context) (time.Time, error) {
	state, err := s.State(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return state.InGameAt(s.clock.Now()), nil
}

func (s *Service) IsPaused(ctx context.Context) (bool, error) {
	state, err := s.State(ctx)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

func (s *Service) CurrentShift(ctx context.Context) (Shift, error) {
	now, err := s.Now(ctx)
	if err != nil {
		return "", err
	}
	return ShiftAt(now), nil
}

// Pause freezes the in-game clock. A manual pause is only lifted by a manual
// resume.
func (s *Service) Pause(ctx context.Context, manual bool) error {
	logger := s.logger.With("component", "time_service", "operation", "pause", "manual", manual)

	result, err := s.db.ExecContext(ctx, `
		UPDATE galaxy_info SET is_time_paused = 1, time_paused_at = ?, is_manually_paused = ?
		WHERE galaxy_id = ? AND is_time_paused = 0`,
		timefmt.Format(s.clock.Now()), boolInt(manual), galaxyRowID)
	if err != nil {
		logger.Error("Failed to pause clock", "error", err)
		return fmt.Errorf("failed to pause clock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.Conflictf("the galaxy clock is already paused")
	}

	logger.Info("Galaxy clock paused")
	return nil
}

// Resume restarts the clock, adding the paused span to the accumulator.
func (s *Service) Resume(ctx context.Context, manual bool) error {
	logger := s.logger.With("component", "time_service", "operation", "resume", "manual", manual)

	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		state, err := s.stateTx(ctx, tx)
		if err != nil {
			return err
		}
		if !state.Paused || state.PausedAt == nil {
			return errors.Conflictf("the galaxy clock is not paused")
		}
		if state.ManuallyPaused && !manual {
			return errors.Conflictf("the galaxy clock was paused by an administrator")
		}

		total := state.PausedTotal + s.clock.Now().Sub(*state.PausedAt)
		_, err = tx.ExecContext(ctx, `
			UPDATE galaxy_info
			SET is_time_paused = 0, time_paused_at = NULL, is_manually_paused = 0,
			    paused_accumulated_seconds = ?
			WHERE galaxy_id = ?`, total.Seconds(), galaxyRowID)
		if err != nil {
			logger.Error("Failed to resume clock", "error", err)
			return fmt.Errorf("failed to resume clock: %w", err)
		}
		logger.Info("Galaxy clock resumed", "paused_total", total)
		return nil
	})
}

// SetScale changes the scale factor, rebasing so in-game time is continuous.
func (s *Service) SetScale(ctx context.Context, scale float64) error {
	if scale <= 0 {
		return errors.Validationf("time scale must be positive, got %v", scale)
	}
	logger := s.logger.With("component", "time_service", "operation", "set_scale", "scale", scale)

	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		state, err := s.stateTx(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		current := state.InGameAt(now)

		var pausedAt any
		if state.Paused {
			pausedAt = timefmt.Format(now)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE galaxy_info
			SET galaxy_start_date = ?, time_started_at = ?, time_scale_factor = ?,
			    paused_accumulated_seconds = 0, time_paused_at = ?
			WHERE galaxy_id = ?`,
			timefmt.Format(current), timefmt.Format(now), scale, pausedAt, galaxyRowID)
		if err != nil {
			logger.Error("Failed to set time scale", "error", err)
			return fmt.Errorf("failed to set time scale: %w", err)
		}
		logger.Info("Time scale updated", "previous", state.Scale)
		return nil
	})
}

// AutoPause pauses the clock when nobody is logged in.
func (s *Service) AutoPause(ctx context.Context) (bool, error) {
	var online int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM characters WHERE is_logged_in = 1").Scan(&online); err != nil {
		return false, fmt.Errorf("failed to count online characters: %w", err)
	}
	if online > 0 {
		return false, nil
	}
	err := s.Pause(ctx, false)
	if errors.IsType(err, errors.ErrorTypeConflict) {
		return false, nil
	}
	return err == nil, err
}

// AutoResume resumes an automatic pause. Manual pauses are left alone.
func (s *Service) AutoResume(ctx context.Context) (bool, error) {
	err := s.Resume(ctx, false)
	if errors.IsType(err, errors.ErrorTypeConflict) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) SetNewsChannel(ctx context.Context, channel string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE galaxy_info SET news_channel = ? WHERE galaxy_id = ?", channel, galaxyRowID); err != nil {
		return fmt.Errorf("failed to set news channel: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
