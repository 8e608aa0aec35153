package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource counts authoritative queries so tests can assert how often
// the store was actually hit.
type fakeSource struct {
	mu    sync.Mutex
	calls int
	rules []RawRule
	err   error
	delay time.Duration
}

func (s *fakeSource) ListAuthorizationRules(ctx context.Context) ([]RawRule, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.rules, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func setupLoader(t *testing.T, source *fakeSource) (*Loader, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := redsync.New(goredis.NewPool(client))
	return NewLoader(client, locker, source, zerolog.Nop()), mr, client
}

func TestLoaderCacheMissQueriesStoreAndWritesBack(t *testing.T) {
	source := &fakeSource{rules: []RawRule{
		{Method: "GET", Path: "/system/user", Permission: "system:user:list"},
		{Method: "", Path: "/system/config/**", Permission: "system:config"},
	}}
	loader, mr, _ := setupLoader(t, source)

	rules, err := loader.Load(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 1, source.callCount())

	// The table was published for the rest of the cluster, keyed by
	// METHOD:PATH, with the empty method normalized to the wildcard.
	assert.Equal(t, "system:user:list", mr.HGet(RuleCacheKey, "GET:/system/user"))
	assert.Equal(t, "system:config", mr.HGet(RuleCacheKey, "ALL:/system/config/**"))
	assert.Greater(t, mr.TTL(RuleCacheKey), time.Duration(0))
}

func TestLoaderCacheHitSkipsStore(t *testing.T) {
	source := &fakeSource{rules: []RawRule{
		{Method: "GET", Path: "/a", Permission: "a"},
	}}
	loader, _, _ := setupLoader(t, source)

	_, err := loader.Load(context.Background(), false)
	require.NoError(t, err)

	rules, err := loader.Load(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, Rule{Method: "GET", Path: "/a", Permission: "a"}, rules[0])
	assert.Equal(t, 1, source.callCount(), "second load must come from the shared cache")
}

func TestLoaderForceBypassesCache(t *testing.T) {
	source := &fakeSource{rules: []RawRule{
		{Method: "GET", Path: "/a", Permission: "a"},
	}}
	loader, _, _ := setupLoader(t, source)

	_, err := loader.Load(context.Background(), false)
	require.NoError(t, err)

	source.mu.Lock()
	source.rules = []RawRule{{Method: "GET", Path: "/b", Permission: "b"}}
	source.mu.Unlock()

	rules, err := loader.Load(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "/b", rules[0].Path)
	assert.Equal(t, 2, source.callCount())
}

func TestLoaderEvictForcesNextLoadToStore(t *testing.T) {
	source := &fakeSource{rules: []RawRule{
		{Method: "GET", Path: "/a", Permission: "a"},
	}}
	loader, mr, _ := setupLoader(t, source)

	_, err := loader.Load(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, loader.Evict(context.Background()))
	assert.False(t, mr.Exists(RuleCacheKey))

	_, err = loader.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount())
}

func TestLoaderConcurrentMissesHitStoreOnce(t *testing.T) {
	source := &fakeSource{
		rules: []RawRule{{Method: "GET", Path: "/a", Permission: "a"}},
		delay: 100 * time.Millisecond,
	}
	loader, _, _ := setupLoader(t, source)

	const loaders = 8
	var wg sync.WaitGroup
	results := make([][]Rule, loaders)
	errs := make([]error, loaders)

	for i := 0; i < loaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = loader.Load(context.Background(), false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < loaders; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1, "loader %d", i)
	}
	// The rebuild mutex collapses the stampede: one store query, everyone
	// else reads the published table.
	assert.Equal(t, 1, source.callCount())
}

func TestLoaderStoreErrorPropagates(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	loader, _, _ := setupLoader(t, source)

	_, err := loader.Load(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list rules from store")
}

func TestLoaderIgnoresMalformedCacheFields(t *testing.T) {
	source := &fakeSource{}
	loader, mr, _ := setupLoader(t, source)

	mr.HSet(RuleCacheKey, "GET:/ok", "perm")
	mr.HSet(RuleCacheKey, "missing-separator", "perm")
	mr.HSet(RuleCacheKey, "GET:/empty-perm", "")

	rules, err := loader.Load(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "/ok", rules[0].Path)
	assert.Equal(t, 0, source.callCount())
}

func TestLoaderTiedWildcardsDecideConsistentlyAcrossLoads(t *testing.T) {
	// HGetAll hands the cached table back through a map, so the two
	// same-length patterns covering "/a/x" arrive in a different order on
	// every load. The snapshot ordering must absorb that.
	source := &fakeSource{}
	loader, mr, _ := setupLoader(t, source)

	mr.HSet(RuleCacheKey, "GET:/a/*", "perm.star")
	mr.HSet(RuleCacheKey, "GET:/a/?", "perm.qmark")
	perms := NewPermissionSet([]string{"perm.star", "perm.qmark"})
	e := NewEngine()

	for i := 0; i < 50; i++ {
		rules, err := loader.Load(context.Background(), false)
		require.NoError(t, err)
		e.Swap(NewSnapshot(rules))
		d := e.Decide(perms, true, "GET", "/a/x")
		require.True(t, d.Allowed)
		require.Equal(t, "perm.star", d.Permission, "load %d", i)
	}
}

func TestLoaderLockLossWithEmptyCacheFails(t *testing.T) {
	// A peer holds the rebuild lock but has not published the table yet.
	// Serving an empty table here would briefly open every mapped route,
	// so the load must fail and leave the caller on its old snapshot.
	source := &fakeSource{rules: []RawRule{
		{Method: "GET", Path: "/a", Permission: "a"},
	}}
	loader, mr, _ := setupLoader(t, source)

	require.NoError(t, mr.Set(ruleLockName, "held-by-peer"))

	_, err := loader.Load(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule cache empty after losing rebuild lock")
	assert.Equal(t, 0, source.callCount())
}

func TestCleanRules(t *testing.T) {
	rules := cleanRules([]RawRule{
		{Method: "get", Path: " /a ", Permission: " a "},
		{Method: "", Path: "/b", Permission: "b"},
		{Method: "GET", Path: "", Permission: "dropped"},
		{Method: "GET", Path: "/dropped", Permission: "   "},
	})
	require.Len(t, rules, 2)
	assert.Equal(t, Rule{Method: "GET", Path: "/a", Permission: "a"}, rules[0])
	assert.Equal(t, Rule{Method: MethodAll, Path: "/b", Permission: "b"}, rules[1])
}
