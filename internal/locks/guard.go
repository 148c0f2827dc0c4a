// Package locks provides per-workflow claim guards that keep two scheduler
// passes from running the same workflow at the same time.
package locks

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Release gives up a claim. It is safe to call more than once.
type Release func()

// Guard grants exclusive, time-bounded claims on a key.
type Guard interface {
	// Claim tries to take key for owner. ok is false when someone else
	// holds it. The claim lapses after ttl even if never released.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (release Release, ok bool, err error)
}

// WorkflowKey is the claim key every runner of a workflow takes.
func WorkflowKey(workflowID string) string { return "workflow:" + workflowID }

// DefaultOwner names this process as a claim owner: hostname plus a random
// suffix.
func DefaultOwner() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func noop() {}

// onceRelease wraps fn so repeated calls run it once.
func onceRelease(fn func()) Release {
	var once sync.Once
	return func() { once.Do(fn) }
}

// --- In-process guard ---

// MemoryGuard serializes claims within one process. TTL is ignored: a claim
// lives until it is released.
type MemoryGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewMemoryGuard creates an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{inflight: make(map[string]struct{})}
}

func (g *MemoryGuard) Claim(_ context.Context, key, _ string, _ time.Duration) (Release, bool, error) {
	if !g.tryAcquire(key) {
		return noop, false, nil
	}
	return onceRelease(func() { g.release(key) }), true, nil
}

// tryAcquire returns true and marks key as in flight if it is free.
func (g *MemoryGuard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[key]; ok {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

func (g *MemoryGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}

// Held reports whether key is currently claimed.
func (g *MemoryGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[key]
	return ok
}

// --- Layering ---

// Layered claims every guard in order and succeeds only if all do. Claims
// already taken are released when a later guard refuses or fails.
type Layered []Guard

func (l Layered) Claim(ctx context.Context, key, owner string, ttl time.Duration) (Release, bool, error) {
	releases := make([]Release, 0, len(l))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, g := range l {
		if g == nil {
			continue
		}
		rel, ok, err := g.Claim(ctx, key, owner, ttl)
		if err != nil || !ok {
			releaseAll()
			return noop, false, err
		}
		releases = append(releases, rel)
	}
	return onceRelease(releaseAll), true, nil
}
