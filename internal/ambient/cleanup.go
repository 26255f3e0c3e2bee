package ambient

import (
	"context"
	"log/slog"
)

// Task is one cleanup step. Run returns how many rows it touched.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Janitor runs the cleanup steps in a fixed order. A failing step is logged
// and the sweep moves on.
type Janitor struct {
	tasks  []Task
	logger *slog.Logger
}

func NewJanitor(logger *slog.Logger, tasks ...Task) *Janitor {
	return &Janitor{tasks: tasks, logger: logger.With("component", "ambient_janitor")}
}

// Sweep runs every task once and returns how many failed.
func (j *Janitor) Sweep(ctx context.Context) int {
	failed := 0
	for _, t := range j.tasks {
		if ctx.Err() != nil {
			return failed
		}
		n, err := t.Run(ctx)
		if err != nil {
			j.logger.Error("Cleanup step failed", "operation", "sweep", "step", t.Name, "error", err)
			failed++
			continue
		}
		if n > 0 {
			j.logger.Debug("Cleanup step", "operation", "sweep", "step", t.Name, "count", n)
		}
	}
	return failed
}

// Count adapts a step that reports an int.
func Count(name string, fn func(ctx context.Context) (int, error)) Task {
	return Task{Name: name, Run: func(ctx context.Context) (int64, error) {
		n, err := fn(ctx)
		return int64(n), err
	}}
}

// Quiet adapts a step with nothing to report.
func Quiet(name string, fn func(ctx context.Context) error) Task {
	return Task{Name: name, Run: func(ctx context.Context) (int64, error) {
		return 0, fn(ctx)
	}}
}
