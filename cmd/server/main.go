package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"starlane-server/internal/activity"
	"starlane-server/internal/adapter"
	"starlane-server/internal/ambient"
	"starlane-server/internal/analytics"
	"starlane-server/internal/casualty"
	"starlane-server/internal/combat"
	"starlane-server/internal/corridor"
	"starlane-server/internal/gametime"
	"starlane-server/internal/gateway"
	"starlane-server/internal/mapfeed"
	"starlane-server/internal/middleware"
	"starlane-server/internal/radio"
	"starlane-server/internal/scheduler"
	"starlane-server/internal/server"
	"starlane-server/internal/shared/config"
	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/dice"
	"starlane-server/internal/shared/logger"
	"starlane-server/internal/shared/redis"
	"starlane-server/internal/travel"
	"starlane-server/internal/world"
)

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.GlobalConfig); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := slog.With("component", "main")
	log.Info("Starting Starlane server",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
		"database_driver", cfg.Database.Driver,
	)

	db, err := database.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.ShutdownTimeout+5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			log.Error("Failed to close database", "error", err)
		}
	}()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	base := slog.Default()
	worldRepo := world.NewRepository(db, base)
	if fixed, err := worldRepo.Reclassify(ctx); err != nil {
		return fmt.Errorf("failed to reclassify corridors: %w", err)
	} else if fixed > 0 {
		log.Info("Corridors reclassified", "count", fixed)
	}

	clock := gametime.NewService(db, gametime.SystemClock{}, base)
	if err := clock.Init(ctx, cfg.Galaxy.Name, cfg.Galaxy.Epoch, cfg.Galaxy.TimeScale); err != nil {
		return err
	}

	rdb, err := redis.Connect(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	hub := mapfeed.NewHub(base)
	notifier := mapfeed.NewNotifier(hub, rdb, base)

	var archive *analytics.Archive
	if cfg.Analytics.Enabled {
		archive = analytics.NewArchive(filepath.Join(cfg.Analytics.Dir, "events"), "corridor", base)
	}
	defer archive.Close()

	bridge, err := gateway.NewBridge(base)
	if err != nil {
		return err
	}
	views := gateway.NewViews(base)
	channels := gateway.NewChannels(bridge, worldRepo, base)
	roller := dice.NewRandom()
	balance := cfg.Balance

	tracker := activity.NewTracker(activity.NewRepository(db, base), worldRepo, clock, channels, views, balance.Activity, base)
	travelRepo := travel.NewRepository(db, base)
	travelSvc := travel.NewService(travelRepo, worldRepo, clock, channels, views, notifier, roller, balance.Travel, base)
	tracker.SetReleaser(travelSvc)

	harm := casualty.NewService(worldRepo, clock, channels, travelSvc, base)
	combatSvc := combat.NewService(combat.NewRepository(db, base), worldRepo, clock, channels, views, harm, roller, balance.Combat, base)
	corridorSvc := corridor.NewService(corridor.NewRepository(db, base), travelRepo, worldRepo, clock, channels, views, harm, roller, archive, balance.Hazards, balance.Micro, base)
	travelSvc.AddListener(corridorSvc)
	ambientSvc := ambient.NewService(ambient.NewRepository(db, base), clock, channels, roller, &balance, base)
	radioSvc := radio.NewService(radio.NewRepository(db, base), worldRepo, travelRepo, channels, roller, balance.Radio, base)

	interactions := adapter.New(adapter.Services{
		Tracker: tracker,
		Travel:  travelSvc,
		Combat:  combatSvc,
		Radio:   radioSvc,
		Ambient: ambientSvc,
		Clock:   clock,
		World:   worldRepo,
		Views:   views,
	}, bridge, roller, cfg, base)
	bridge.SetDispatcher(interactions.Dispatch)

	httpLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	routes := server.NewRoutes(cfg, db, bridge, hub, mapfeed.NewRepository(db, base), interactions, httpLimiter, base)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	janitor := ambient.NewJanitor(base,
		ambient.Count("expire_robberies", combatSvc.ExpireRobberies),
		ambient.Task{Name: "cleanup_cooldowns", Run: combatSvc.CleanupCooldowns},
		ambient.Count("close_stale_hazards", corridorSvc.CloseStale),
		ambient.Task{Name: "purge_expired_effects", Run: func(ctx context.Context) (int64, error) {
			return worldRepo.PurgeExpiredEffects(ctx, clock.WallNow())
		}},
		ambient.Quiet("activity_cleanup", tracker.Cleanup),
	)

	sched := scheduler.New(base)

	sched.AddService("gateway_bridge", bridge.Run)
	sched.AddService("map_hub", hub.Run)
	sched.AddService("map_relay", notifier.Relay)
	sched.AddService("views", views.Run)
	sched.AddService("interaction_limiter", interactions.Run)
	sched.AddService("http_limiter", httpLimiter.Run)
	sched.AddService("http", func(ctx context.Context) error { return serve(ctx, srv) })

	sched.Every("activity_check", seconds(balance.Activity.CheckIntervalSeconds), tracker.Check)
	sched.Every("npc_counter_attacks", seconds(balance.Combat.NPCLoopSeconds), discard(combatSvc.CounterAttacks))
	sched.AddJob(scheduler.Job{
		Name:     "npc_respawn",
		Interval: minutes(balance.Cleanup.RespawnIntervalMinutes),
		Delay:    time.Minute,
		Run:      discard(combatSvc.RespawnDue),
	})
	sched.Every("corridor_micro_events", seconds(balance.Micro.CheckIntervalSeconds), discard(corridorSvc.CheckMicro))
	sched.AddJob(scheduler.Job{
		Name:     "ambient_flavor",
		Interval: minutes(balance.Ambient.CheckIntervalMinutes),
		Delay:    time.Minute,
		Run: func(ctx context.Context) error {
			_, err := ambientSvc.Flavor(ctx)
			return err
		},
	})
	sched.Every("location_income", minutes(balance.Income.IntervalMinutes), discard(ambientSvc.LocationIncome))
	sched.Every("home_income", minutes(balance.Income.IntervalMinutes), discard(ambientSvc.HomeIncome))
	sched.Every("news_delivery", seconds(balance.Cleanup.NewsIntervalSeconds), discard(ambientSvc.DeliverNews))
	sched.Every("cleanup", seconds(balance.Cleanup.IntervalSeconds), func(ctx context.Context) error {
		if failed := janitor.Sweep(ctx); failed > 0 {
			return fmt.Errorf("%d cleanup steps failed", failed)
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// The bridge is running by now, so restored timers can post.
	if err := startup(ctx, tracker, travelSvc, corridorSvc); err != nil {
		log.Error("Startup recovery incomplete", "error", err)
	}
	defer tracker.Stop()
	defer travelSvc.Stop()
	defer corridorSvc.Stop()

	sched.Ready()
	log.Info("Starlane server ready", "addr", srv.Addr)

	return <-done
}

// startup restores timers that were running when the process last stopped.
func startup(ctx context.Context, tracker *activity.Tracker, travelSvc *travel.Service, corridorSvc *corridor.Service) error {
	if err := corridorSvc.Start(ctx); err != nil {
		return fmt.Errorf("corridor events: %w", err)
	}
	if err := travelSvc.Start(ctx); err != nil {
		return fmt.Errorf("travel sessions: %w", err)
	}
	if err := tracker.Resume(ctx); err != nil {
		return fmt.Errorf("inactivity warnings: %w", err)
	}
	return nil
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func discard[T any](fn func(ctx context.Context) (T, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
