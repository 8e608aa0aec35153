package authz

import (
	"context"
	"testing"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicebob/miniredis/v2"
)

func TestBroadcasterEvictsAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &fakeSource{rules: []RawRule{{Method: "GET", Path: "/a", Permission: "a"}}}
	loader := NewLoader(client, redsync.New(goredis.NewPool(client)), source, zerolog.Nop())
	b := NewBroadcaster(client, loader, zerolog.Nop())

	ctx := context.Background()
	_, err := loader.Load(ctx, false)
	require.NoError(t, err)
	require.True(t, mr.Exists(RuleCacheKey))

	sub := client.Subscribe(ctx, BroadcastChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.RuleChanged(ctx, "rule.update"))

	// The shared table is gone before peers are told to reload, so every
	// reload is guaranteed to reach the authoritative store.
	assert.False(t, mr.Exists(RuleCacheKey))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "rule.update", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation message never arrived")
	}
}

func TestListenerReloadsOnBroadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &fakeSource{rules: []RawRule{{Method: "GET", Path: "/a", Permission: "a"}}}
	loader := NewLoader(client, redsync.New(goredis.NewPool(client)), source, zerolog.Nop())
	manager := NewManager(NewEngine(), loader, zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewListener(client, manager, zerolog.Nop())
	go listener.Run(ctx)

	// Give the subscription a moment to establish before publishing.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, BroadcastChannel).Result()
		return err == nil && n[BroadcastChannel] > 0
	}, 2*time.Second, 10*time.Millisecond)

	source.mu.Lock()
	source.rules = append(source.rules, RawRule{Method: "POST", Path: "/a", Permission: "a:create"})
	source.mu.Unlock()

	b := NewBroadcaster(client, loader, zerolog.Nop())
	require.NoError(t, b.RuleChanged(ctx, "rule.create"))

	require.Eventually(t, func() bool {
		return manager.Engine().Current().Len() == 2
	}, 2*time.Second, 10*time.Millisecond, "listener never swapped the new table in")
}

func TestGatekeeperEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &fakeSource{rules: []RawRule{
		{Method: "GET", Path: "/system/user/**", Permission: "system:user:read"},
	}}
	gk := New(client, source, zerolog.Nop())
	require.NoError(t, gk.Start(context.Background()))
	assert.Equal(t, 1, gk.Snapshot().Len())

	reader := NewPermissionSet([]string{"system:user:read"})
	assert.True(t, gk.Authorize(reader, true, "GET", "/system/user/42").Allowed)
	assert.False(t, gk.Authorize(NewPermissionSet(nil), true, "GET", "/system/user/42").Allowed)
	assert.True(t, gk.Authorize(NewPermissionSet(nil), true, "GET", "/elsewhere").Allowed)
	assert.False(t, gk.Authorize(NewPermissionSet(nil), false, "GET", "/elsewhere").Allowed)

	// An on-demand refresh picks up a changed table without a broadcast.
	source.mu.Lock()
	source.rules = append(source.rules,
		RawRule{Method: "GET", Path: "/system/audit/**", Permission: "system:audit:read"})
	source.mu.Unlock()
	require.NoError(t, gk.Refresh(context.Background(), true))
	assert.Equal(t, 2, gk.Snapshot().Len())
	auditor := NewPermissionSet([]string{"system:audit:read"})
	assert.True(t, gk.Authorize(auditor, true, "GET", "/system/audit/today").Allowed)
}
