package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/metrics"
)

const (
	// RuleCacheKey is the Redis hash holding the full METHOD:PATH → permission
	// table shared by all nodes.
	RuleCacheKey = "sys:auth:rules"

	// ruleCacheTTL bounds staleness of the shared hash. The hourly backstop
	// refresh repopulates it before it can expire under normal operation.
	ruleCacheTTL = time.Hour

	// ruleLockName guards rebuilds of the shared hash.
	ruleLockName = "lock:" + RuleCacheKey

	// Lock acquisition is fail-fast: roughly three seconds of bounded wait
	// protects the worker pool from piling up behind a slow rebuild, and the
	// ten second lease auto-releases if the holder dies mid-rebuild.
	lockLeaseTime  = 10 * time.Second
	lockRetryDelay = 200 * time.Millisecond
	lockTries      = 16

	// lockFailureSleep gives the winning node a moment to finish the rebuild
	// before the loser re-reads the cache.
	lockFailureSleep = 200 * time.Millisecond
)

// RawRule is one row from the authoritative rule store, before cleaning.
type RawRule struct {
	Method     string
	Path       string
	Permission string
}

// RuleSource lists the authoritative rule table. Implemented by the
// Postgres store via a thin adapter in bootstrap.
type RuleSource interface {
	ListAuthorizationRules(ctx context.Context) ([]RawRule, error)
}

// Loader rebuilds the rule table cache-aside: Redis hash first, Postgres on
// miss, with a cluster-wide mutex so concurrent misses trigger exactly one
// store query.
type Loader struct {
	redis  *redis.Client
	locker *redsync.Redsync
	source RuleSource
	logger zerolog.Logger
}

// NewLoader wires a loader against the shared Redis client and rule source.
func NewLoader(client *redis.Client, locker *redsync.Redsync, source RuleSource, logger zerolog.Logger) *Loader {
	return &Loader{
		redis:  client,
		locker: locker,
		source: source,
		logger: logger.With().Str("component", "authz.loader").Logger(),
	}
}

// Load returns the full rule table. Unless forceAuthoritative is set it
// prefers the shared Redis hash; on miss (or when forced) it acquires the
// rebuild lock, double-checks the cache, queries the store, and writes the
// result back with a TTL. Losing the lock race is usually not an error: the
// loser waits briefly and reads whatever the winner published. If the cache
// is still empty after that wait the load fails instead of returning an
// empty table, so callers keep serving their previous snapshot.
func (l *Loader) Load(ctx context.Context, forceAuthoritative bool) ([]Rule, error) {
	if !forceAuthoritative {
		rules, err := l.readCache(ctx)
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			return rules, nil
		}
	}

	mutex := l.locker.NewMutex(ruleLockName,
		redsync.WithExpiry(lockLeaseTime),
		redsync.WithTries(lockTries),
		redsync.WithRetryDelay(lockRetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Another node holds the rebuild lock. Not an error: give it a
		// moment, then serve whatever it published.
		metrics.RecordRuleLockContention()
		l.logger.Warn().Msg("rule rebuild lock busy, waiting for peer to populate cache")

		select {
		case <-time.After(lockFailureSleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		rules, err := l.readCache(ctx)
		if err != nil {
			return nil, err
		}
		if len(rules) == 0 {
			// The peer has not published yet. An empty table here is
			// inconclusive, not authoritative: fail so the caller keeps
			// its current snapshot rather than swapping in nothing.
			return nil, errors.New("authz: rule cache empty after losing rebuild lock")
		}
		return rules, nil
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil && !errors.Is(err, redsync.ErrLockAlreadyExpired) {
			l.logger.Warn().Err(err).Msg("failed to release rule rebuild lock")
		}
	}()

	// Double-check under the lock: a peer may have rebuilt the cache while
	// this node waited for the mutex.
	if !forceAuthoritative {
		rules, err := l.readCache(ctx)
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			return rules, nil
		}
	}

	l.logger.Info().Bool("forced", forceAuthoritative).Msg("rule cache miss, querying authoritative store")
	rows, err := l.source.ListAuthorizationRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: list rules from store: %w", err)
	}
	rules := cleanRules(rows)

	if err := l.writeCache(ctx, rules); err != nil {
		// The table itself is good; a write-back failure only costs the
		// next node a store query.
		l.logger.Warn().Err(err).Msg("failed to write rule table back to shared cache")
	}
	return rules, nil
}

// Evict removes the shared hash so the next Load goes to the store.
func (l *Loader) Evict(ctx context.Context) error {
	if err := l.redis.Del(ctx, RuleCacheKey).Err(); err != nil {
		return fmt.Errorf("authz: evict rule cache: %w", err)
	}
	return nil
}

func (l *Loader) readCache(ctx context.Context) ([]Rule, error) {
	fields, err := l.redis.HGetAll(ctx, RuleCacheKey).Result()
	if err != nil {
		return nil, fmt.Errorf("authz: read rule cache: %w", err)
	}
	rules := make([]Rule, 0, len(fields))
	for key, perm := range fields {
		method, path, ok := splitKey(key)
		if !ok || path == "" || perm == "" {
			continue
		}
		rules = append(rules, Rule{Method: method, Path: path, Permission: perm})
	}
	return rules, nil
}

func (l *Loader) writeCache(ctx context.Context, rules []Rule) error {
	fields := make(map[string]string, len(rules))
	for _, r := range rules {
		fields[r.Key()] = r.Permission
	}
	pipe := l.redis.TxPipeline()
	pipe.Del(ctx, RuleCacheKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, RuleCacheKey, fields)
		pipe.Expire(ctx, RuleCacheKey, ruleCacheTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// cleanRules normalizes store rows into rules: rows without a path or
// permission are dropped and a missing method defaults to the ALL wildcard.
func cleanRules(rows []RawRule) []Rule {
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Path) == "" || strings.TrimSpace(row.Permission) == "" {
			continue
		}
		method := strings.ToUpper(strings.TrimSpace(row.Method))
		if method == "" {
			method = MethodAll
		}
		rules = append(rules, Rule{
			Method:     method,
			Path:       strings.TrimSpace(row.Path),
			Permission: strings.TrimSpace(row.Permission),
		})
	}
	return rules
}
