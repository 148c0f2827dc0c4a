package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ClaimStore persists workflow claims. Satisfied by store.Store.
type ClaimStore interface {
	ClaimWorkflow(ctx context.Context, workflowID, owner string, now, expiresAt time.Time) (bool, error)
	ReleaseWorkflow(ctx context.Context, workflowID, owner string) error
}

// StoreGuard claims workflows through rows in the workflow_claims table.
// An expired row can be taken over by any owner.
type StoreGuard struct {
	store  ClaimStore
	now    func() time.Time
	logger *slog.Logger
}

// NewStoreGuard creates a StoreGuard over s.
func NewStoreGuard(s ClaimStore, logger *slog.Logger) *StoreGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreGuard{store: s, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

func (g *StoreGuard) Claim(ctx context.Context, key, owner string, ttl time.Duration) (Release, bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := g.now()
	ok, err := g.store.ClaimWorkflow(ctx, key, owner, now, now.Add(ttl))
	if err != nil {
		return noop, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return noop, false, nil
	}
	return onceRelease(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := g.store.ReleaseWorkflow(rctx, key, owner); err != nil {
			g.logger.Warn("release workflow claim failed", "workflow_id", key, "error", err)
		}
	}), true, nil
}
