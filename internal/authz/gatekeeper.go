package authz

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Gatekeeper is the single authorization surface the HTTP layer consumes:
// Authorize on the hot path, OnRuleChanged as the post-commit mutation hook.
// It assembles the engine, loader, manager, broadcaster and listener over
// one shared Redis client.
type Gatekeeper struct {
	manager     *Manager
	broadcaster *Broadcaster
	listener    *Listener
}

// New builds a gatekeeper. The rule table is not loaded yet; call Start.
func New(client *redis.Client, source RuleSource, logger zerolog.Logger) *Gatekeeper {
	locker := redsync.New(goredis.NewPool(client))
	engine := NewEngine()
	loader := NewLoader(client, locker, source, logger)
	manager := NewManager(engine, loader, logger)
	return &Gatekeeper{
		manager:     manager,
		broadcaster: NewBroadcaster(client, loader, logger),
		listener:    NewListener(client, manager, logger),
	}
}

// Start performs the mandatory initial load. A failure here must abort
// process startup.
func (g *Gatekeeper) Start(ctx context.Context) error {
	return g.manager.Start(ctx)
}

// Run launches the invalidation listener and the backstop refresh ticker.
// Both stop when the context is cancelled.
func (g *Gatekeeper) Run(ctx context.Context, refreshInterval time.Duration) {
	go g.listener.Run(ctx)
	go g.manager.RunBackstop(ctx, refreshInterval)
}

// Authorize decides one request. Never blocks, never performs I/O.
func (g *Gatekeeper) Authorize(perms PermissionSet, authenticated bool, method, path string) Decision {
	return g.manager.Engine().Decide(perms, authenticated, method, path)
}

// OnRuleChanged must be invoked after every committed mutation of rule
// data. It evicts the shared cache and broadcasts the invalidation signal
// to all nodes, including this one.
func (g *Gatekeeper) OnRuleChanged(ctx context.Context, note string) error {
	return g.broadcaster.RuleChanged(ctx, note)
}

// Refresh rebuilds the local snapshot on demand, outside the broadcast
// and backstop paths.
func (g *Gatekeeper) Refresh(ctx context.Context, forceAuthoritative bool) error {
	return g.manager.Refresh(ctx, forceAuthoritative)
}

// Snapshot returns the active rule snapshot.
func (g *Gatekeeper) Snapshot() *Snapshot {
	return g.manager.Engine().Current()
}
