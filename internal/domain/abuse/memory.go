package abuse

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

const sweepEvery = 1024

type attempt struct {
	at     time.Time
	member string
}

type window struct {
	attempts []attempt
	// expires is when the newest attempt leaves the window.
	expires time.Time
}

// MemoryGuard is a single-process Guard for running without Redis.
// Expired attempts are trimmed on access and idle keys are swept
// periodically, so memory is bounded by active actors times MaxAttempts.
type MemoryGuard struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window
	checks  int
}

func NewMemoryGuard(c clock.Clock) *MemoryGuard {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryGuard{clock: c, windows: make(map[string]*window)}
}

func (g *MemoryGuard) CheckAndRecord(_ context.Context, actorKey string, p Policy) (Decision, error) {
	if err := p.validate(); err != nil {
		return Decision{}, err
	}

	key := guardKey(p.Class, actorKey)
	now := g.clock.Now()
	cutoff := now.Add(-p.Window)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.checks++
	if g.checks%sweepEvery == 0 {
		g.sweepLocked(now)
	}

	w := g.windows[key]
	if w == nil {
		w = &window{}
		g.windows[key] = w
	}

	kept := w.attempts[:0]
	for _, a := range w.attempts {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	w.attempts = kept

	if len(kept) >= p.MaxAttempts {
		retry := kept[0].at.Add(p.Window).Sub(now)
		metrics.RateLimitDenialsTotal.WithLabelValues(string(p.Class)).Inc()
		return Decision{RetryAfter: retry}, &LimitError{Class: p.Class, RetryAfter: retry}
	}

	member := uuid.NewString()
	w.attempts = append(w.attempts, attempt{at: now, member: member})
	w.expires = now.Add(p.Window)
	return Decision{Allowed: true, key: key, member: member}, nil
}

func (g *MemoryGuard) Release(_ context.Context, d Decision) error {
	if !d.Allowed || d.key == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.windows[d.key]
	if w == nil {
		return nil
	}
	for i, a := range w.attempts {
		if a.member == d.member {
			w.attempts = append(w.attempts[:i], w.attempts[i+1:]...)
			break
		}
	}
	if len(w.attempts) == 0 {
		delete(g.windows, d.key)
	}
	return nil
}

// Sweep drops keys whose attempts have all expired.
func (g *MemoryGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.clock.Now())
}

func (g *MemoryGuard) sweepLocked(now time.Time) int {
	removed := 0
	for key, w := range g.windows {
		if len(w.attempts) == 0 || !w.expires.After(now) {
			delete(g.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports how many actor keys are tracked.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}
