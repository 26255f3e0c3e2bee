package gateway

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const resolvedRetention = 10 * time.Minute

// Resolution is delivered to a view's handler exactly once.
type Resolution struct {
	ViewID   string
	UserID   int64
	Choice   string
	TimedOut bool
}

type Handler func(ctx context.Context, res Resolution) error

type pendingView struct {
	kind       string
	users      []int64
	handler    Handler
	resolved   atomic.Bool
	resolvedAt atomic.Int64
	timer      *time.Timer
}

// Views tracks open interactive prompts. Each prompt resolves once, through
// a click or its timeout; later clicks get ErrAlreadyResolved.
type Views struct {
	mu      sync.Mutex
	pending map[string]*pendingView
	base    context.Context
	logger  *slog.Logger
}

func NewViews(logger *slog.Logger) *Views {
	return &Views{
		pending: make(map[string]*pendingView),
		base:    context.Background(),
		logger:  logger.With("component", "gateway_views"),
	}
}

// Run sets the context timeout handlers run under and prunes resolved
// entries until ctx is cancelled.
func (v *Views) Run(ctx context.Context) error {
	v.mu.Lock()
	v.base = ctx
	v.mu.Unlock()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			v.stopAll()
			return nil
		case <-ticker.C:
			v.prune(time.Now())
		}
	}
}

// Open registers a prompt answerable by users (anyone when empty). After
// timeout the handler runs with TimedOut set unless a click won first.
func (v *Views) Open(kind string, users []int64, timeout time.Duration, handler Handler) string {
	id := uuid.NewString()
	pv := &pendingView{kind: kind, users: users, handler: handler}

	v.mu.Lock()
	v.pending[id] = pv
	v.mu.Unlock()

	if timeout > 0 {
		pv.timer = time.AfterFunc(timeout, func() {
			if err := v.Expire(id); err != nil && err != ErrAlreadyResolved {
				v.logger.Warn("View timeout handler failed", "view_id", id, "kind", kind, "error", err)
			}
		})
	}

	v.logger.Debug("View opened", "operation", "open", "view_id", id, "kind", kind, "timeout", timeout)
	return id
}

// Resolve delivers a click.
func (v *Views) Resolve(ctx context.Context, id string, userID int64, choice string) error {
	pv, err := v.lookup(id)
	if err != nil {
		return err
	}
	if len(pv.users) > 0 && !slices.Contains(pv.users, userID) {
		return ErrNotYourView
	}
	if !v.claim(pv) {
		return ErrAlreadyResolved
	}

	v.logger.Debug("View resolved", "operation", "resolve", "view_id", id, "kind", pv.kind, "user_id", userID, "choice", choice)
	return pv.handler(ctx, Resolution{ViewID: id, UserID: userID, Choice: choice})
}

// Expire runs the timeout path now.
func (v *Views) Expire(id string) error {
	pv, err := v.lookup(id)
	if err != nil {
		return err
	}
	if !v.claim(pv) {
		return ErrAlreadyResolved
	}

	v.mu.Lock()
	ctx := v.base
	v.mu.Unlock()

	v.logger.Debug("View timed out", "operation", "expire", "view_id", id, "kind", pv.kind)
	return pv.handler(ctx, Resolution{ViewID: id, TimedOut: true})
}

// Cancel resolves a prompt without running its handler. Reports whether
// this call did the resolving.
func (v *Views) Cancel(id string) bool {
	pv, err := v.lookup(id)
	if err != nil {
		return false
	}
	return v.claim(pv)
}

func (v *Views) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for _, pv := range v.pending {
		if !pv.resolved.Load() {
			n++
		}
	}
	return n
}

func (v *Views) lookup(id string) (*pendingView, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pv, ok := v.pending[id]
	if !ok {
		return nil, ErrUnknownView
	}
	return pv, nil
}

func (v *Views) claim(pv *pendingView) bool {
	if !pv.resolved.CompareAndSwap(false, true) {
		return false
	}
	pv.resolvedAt.Store(time.Now().UnixNano())
	if pv.timer != nil {
		pv.timer.Stop()
	}
	return true
}

func (v *Views) prune(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	removed := 0
	for id, pv := range v.pending {
		if !pv.resolved.Load() {
			continue
		}
		if now.Sub(time.Unix(0, pv.resolvedAt.Load())) > resolvedRetention {
			delete(v.pending, id)
			removed++
		}
	}
	if removed > 0 {
		v.logger.Debug("Pruned resolved views", "operation", "prune", "removed", removed, "remaining", len(v.pending))
	}
}

func (v *Views) stopAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, pv := range v.pending {
		if pv.timer != nil {
			pv.timer.Stop()
		}
	}
}
