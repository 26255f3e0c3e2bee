package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func start(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestJobsWaitForReady(t *testing.T) {
	s := New(slog.Default())
	var runs atomic.Int32
	s.Every("count", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	cancel, done := start(t, s)
	time.Sleep(30 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("job ran %d times before ready", n)
	}

	s.Ready()
	s.Ready()
	waitFor(t, "two iterations", func() bool { return runs.Load() >= 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil after cancel", err)
	}
}

func TestFailingIterationsKeepLooping(t *testing.T) {
	s := New(slog.Default())
	var runs atomic.Int32
	s.Every("flaky", time.Millisecond, func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("database is locked")
		case 2:
			panic("nil map")
		}
		return nil
	})
	s.Ready()

	cancel, done := start(t, s)
	waitFor(t, "iterations after failures", func() bool { return runs.Load() >= 4 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestDelayedJob(t *testing.T) {
	s := New(slog.Default())
	var ran atomic.Bool
	s.AddJob(Job{Name: "late", Delay: time.Hour, Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}})
	s.Ready()

	cancel, done := start(t, s)
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if ran.Load() {
		t.Fatal("delayed job ran before its delay")
	}
}

func TestServiceFailureStopsScheduler(t *testing.T) {
	s := New(slog.Default())
	boom := errors.New("listener closed")
	var stopped atomic.Bool

	s.AddService("http", func(context.Context) error { return boom })
	s.AddService("bridge", func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return nil
	})
	s.Every("loop", time.Millisecond, func(context.Context) error { return nil })
	s.Ready()

	_, done := start(t, s)
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("Run = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler kept running after a service failed")
	}
	if !stopped.Load() {
		t.Error("other services were not cancelled")
	}
}

func TestCancelBeforeReady(t *testing.T) {
	s := New(slog.Default())
	var ran atomic.Bool
	s.Every("never", time.Millisecond, func(context.Context) error {
		ran.Store(true)
		return nil
	})

	cancel, done := start(t, s)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if ran.Load() {
		t.Fatal("job ran although the scheduler never became ready")
	}
}
