//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/feast/internal/domain/payment"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	rdb, err := Open(ctx, startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewLocker(rdb)

	t.Run("Exclusive", func(t *testing.T) {
		unlock, err := l.Lock(ctx, "gw-1", time.Minute)
		require.NoError(t, err)

		_, err = l.Lock(ctx, "gw-1", time.Minute)
		require.ErrorIs(t, err, payment.ErrLocked)

		require.NoError(t, unlock(ctx))

		unlock, err = l.Lock(ctx, "gw-1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, unlock(ctx))
	})

	t.Run("ExpiredLockIsNotReleasedByStaleHolder", func(t *testing.T) {
		stale, err := l.Lock(ctx, "gw-2", 50*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)

		fresh, err := l.Lock(ctx, "gw-2", time.Minute)
		require.NoError(t, err)

		require.NoError(t, stale(ctx))
		_, err = l.Lock(ctx, "gw-2", time.Minute)
		assert.ErrorIs(t, err, payment.ErrLocked, "stale unlock must not free the new holder's lock")

		require.NoError(t, fresh(ctx))
	})
}
