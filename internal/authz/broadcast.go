package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BroadcastChannel is the Redis pub/sub channel carrying rule-invalidation
// signals. Every node subscribes; the payload is informational only (a note
// for the logs). The reaction is always a reload from the authoritative
// store, which is idempotent regardless of content, duplicates, or ordering.
const BroadcastChannel = "sys:broadcast:auth"

// resubscribeDelay paces reconnect attempts after a subscription failure.
const resubscribeDelay = time.Second

// Broadcaster publishes invalidation signals after rule mutations.
type Broadcaster struct {
	redis  *redis.Client
	loader *Loader
	logger zerolog.Logger
}

// NewBroadcaster wires a broadcaster against the shared Redis client.
func NewBroadcaster(client *redis.Client, loader *Loader, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		redis:  client,
		loader: loader,
		logger: logger.With().Str("component", "authz.broadcaster").Logger(),
	}
}

// RuleChanged is the mutation hook: rule-management handlers call it after
// every commit that changes rule data. It evicts the shared hash so the
// next load is forced to the store, then tells every node to reload. The
// note travels as the message payload for audit visibility.
func (b *Broadcaster) RuleChanged(ctx context.Context, note string) error {
	if err := b.loader.Evict(ctx); err != nil {
		return err
	}
	if err := b.redis.Publish(ctx, BroadcastChannel, note).Err(); err != nil {
		return fmt.Errorf("authz: publish rule invalidation: %w", err)
	}
	b.logger.Info().Str("note", note).Msg("rule invalidation broadcast")
	return nil
}

// Listener consumes invalidation signals and forces a local reload.
type Listener struct {
	redis   *redis.Client
	manager *Manager
	logger  zerolog.Logger
}

// NewListener wires a listener for the given manager.
func NewListener(client *redis.Client, manager *Manager, logger zerolog.Logger) *Listener {
	return &Listener{
		redis:   client,
		manager: manager,
		logger:  logger.With().Str("component", "authz.listener").Logger(),
	}
}

// Run subscribes to the broadcast channel and refreshes the local snapshot
// with forceAuthoritative=true for every message received. Delivery is
// at-least-once with no ordering guarantee; the reload is idempotent so
// both are harmless. Run blocks until the context is cancelled and
// resubscribes after transient failures.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn().Err(err).Msg("invalidation subscription lost, resubscribing")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	sub := l.redis.Subscribe(ctx, BroadcastChannel)
	defer func() { _ = sub.Close() }()

	// Fail early if the subscription itself cannot be established.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("authz: invalidation channel closed")
			}
			l.logger.Info().Str("note", msg.Payload).Msg("rule invalidation received, reloading from store")
			if err := l.manager.Refresh(ctx, true); err != nil {
				// Only possible before Start succeeds; after that Refresh
				// degrades to stale-serve internally.
				l.logger.Error().Err(err).Msg("forced rule reload failed")
			}
		}
	}
}
