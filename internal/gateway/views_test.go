package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestViewResolvesOnce(t *testing.T) {
	views := NewViews(slog.Default())
	ctx := context.Background()

	var calls atomic.Int32
	var got Resolution
	id := views.Open("robbery", []int64{7}, 0, func(_ context.Context, res Resolution) error {
		calls.Add(1)
		got = res
		return nil
	})

	if err := views.Resolve(ctx, id, 8, "fight"); err != ErrNotYourView {
		t.Fatalf("stranger click error = %v, want ErrNotYourView", err)
	}
	if err := views.Resolve(ctx, id, 7, "surrender"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := views.Resolve(ctx, id, 7, "fight"); err != ErrAlreadyResolved {
		t.Fatalf("second click error = %v, want ErrAlreadyResolved", err)
	}
	if err := views.Expire(id); err != ErrAlreadyResolved {
		t.Fatalf("expire after click error = %v, want ErrAlreadyResolved", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if got.Choice != "surrender" || got.TimedOut {
		t.Errorf("resolution = %+v", got)
	}
}

func TestViewTimeoutFiresOnce(t *testing.T) {
	views := NewViews(slog.Default())

	fired := make(chan Resolution, 2)
	id := views.Open("docking_fee", nil, 20*time.Millisecond, func(_ context.Context, res Resolution) error {
		fired <- res
		return nil
	})

	select {
	case res := <-fired:
		if !res.TimedOut || res.ViewID != id {
			t.Errorf("resolution = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout handler never ran")
	}

	if err := views.Resolve(context.Background(), id, 1, "pay"); err != ErrAlreadyResolved {
		t.Fatalf("late click error = %v, want ErrAlreadyResolved", err)
	}
	select {
	case res := <-fired:
		t.Fatalf("handler ran twice: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelSuppressesHandler(t *testing.T) {
	views := NewViews(slog.Default())
	ran := false
	id := views.Open("micro_event", nil, 0, func(context.Context, Resolution) error {
		ran = true
		return nil
	})

	if !views.Cancel(id) {
		t.Fatal("Cancel reported no change")
	}
	if views.Cancel(id) {
		t.Fatal("second Cancel reported a change")
	}
	if err := views.Resolve(context.Background(), id, 1, "respond"); err != ErrAlreadyResolved {
		t.Fatalf("Resolve after cancel = %v", err)
	}
	if ran {
		t.Error("handler ran after cancel")
	}
	if views.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", views.Pending())
	}
}

func TestUnknownView(t *testing.T) {
	views := NewViews(slog.Default())
	if err := views.Resolve(context.Background(), "nope", 1, "x"); err != ErrUnknownView {
		t.Fatalf("err = %v, want ErrUnknownView", err)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Hale Station":        "hale-station",
		"  Vega -- Approach ": "vega-approach",
		"Outpost 7!":          "outpost-7",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}
