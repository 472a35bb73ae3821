//go:build integration

package infra

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)
	rdb, err := NewRedis(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisChannel_Publishes(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "rig:test")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	ch := NewRedisChannel(rdb, "rig:test")
	require.NoError(t, ch.Connect(ctx))
	assert.Equal(t, ChannelConnected, ch.State())
	require.NoError(t, ch.Send(ctx, "UpdatePercentage", map[string]any{"id": "r1", "scan_percentage": "50"}))

	select {
	case msg := <-sub.Channel():
		var got RealtimeMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "UpdatePercentage", got.Target)
		require.Len(t, got.Arguments, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no message published")
	}

	require.NoError(t, ch.Close())
	assert.Equal(t, ChannelDisconnected, ch.State())
}

func TestCycleLock_Exclusive(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	a := NewCycleLock(rdb, "rig:test-lock", 5*time.Second)
	b := NewCycleLock(rdb, "rig:test-lock", 5*time.Second)

	leaseCtx, release, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.NoError(t, leaseCtx.Err())

	_, _, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	release()
	assert.Error(t, leaseCtx.Err(), "released lease ends its context")
	_, releaseB, err := b.Acquire(ctx)
	require.NoError(t, err)
	releaseB()
}

func TestCycleLock_RefreshOutlivesTTL(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	a := NewCycleLock(rdb, "rig:test-lock", 600*time.Millisecond)
	b := NewCycleLock(rdb, "rig:test-lock", 600*time.Millisecond)

	leaseCtx, release, err := a.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	time.Sleep(3 * 600 * time.Millisecond)
	_, _, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLeaseHeld, "a long cycle keeps its lease")
	assert.NoError(t, leaseCtx.Err())
}

func TestCycleLock_LostLeaseCancelsContext(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	a := NewCycleLock(rdb, "rig:test-lock", 600*time.Millisecond)

	leaseCtx, release, err := a.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	// another holder took over the key
	require.NoError(t, rdb.Set(ctx, "rig:test-lock", "someone-else", time.Minute).Err())

	select {
	case <-leaseCtx.Done():
		assert.ErrorIs(t, context.Cause(leaseCtx), ErrLeaseLost)
	case <-time.After(3 * time.Second):
		t.Fatal("lease context not cancelled after losing the key")
	}
}
