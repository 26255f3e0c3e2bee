// Package scheduler runs the background loops and long-lived services of
// the server under one cancellable group.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a periodic loop. Errors and panics from one iteration are logged
// and the loop carries on at its next tick.
type Job struct {
	Name     string
	Interval time.Duration
	Delay    time.Duration
	Run      func(ctx context.Context) error
}

// Service runs until its context is cancelled. A service that fails stops
// the whole scheduler.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	mu       sync.Mutex
	jobs     []Job
	services []Service
	ready    chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		ready:  make(chan struct{}),
		logger: logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Every(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.AddJob(Job{Name: name, Interval: interval, Run: run})
}

func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) AddService(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, Service{Name: name, Run: run})
}

// Ready releases the jobs. Services start as soon as Run is called; jobs
// wait until startup work has finished.
func (s *Scheduler) Ready() {
	s.once.Do(func() { close(s.ready) })
}

// Run blocks until ctx is cancelled or a service fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	services := append([]Service(nil), s.services...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		g.Go(func() error {
			s.logger.Info("Service started", "operation", "run", "service", svc.Name)
			if err := svc.Run(ctx); err != nil {
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ready:
		}
		s.logger.Info("Starting background loops", "operation", "run", "jobs", len(jobs))
		for _, job := range jobs {
			g.Go(func() error {
				s.loop(ctx, job)
				return nil
			})
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("Scheduler stopped", "operation", "run", "error", err)
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With("operation", "loop", "job", job.Name)

	if job.Delay > 0 {
		timer := time.NewTimer(job.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.iterate(ctx, job, logger)
	if job.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Loop cancelled")
			return
		case <-ticker.C:
			s.iterate(ctx, job, logger)
		}
	}
}

func (s *Scheduler) iterate(ctx context.Context, job Job, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Loop iteration panicked", "panic", r)
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("Loop iteration failed", "error", err)
		return
	}
	logger.Debug("Loop iteration complete", "duration", time.Since(start))
}
