package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

func TestNone_NeverBlocks(t *testing.T) {
	var l Locker = None{}
	release1, err := l.Acquire(context.Background(), 1)
	require.NoError(t, err)
	release2, err := l.Acquire(context.Background(), 1)
	require.NoError(t, err)
	release1()
	release2()
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestRedis_ExclusiveUntilReleased(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(ctx)

	r, err := NewRedis(ctx, logger, &redis.Options{Addr: addr}, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	release, err := r.Acquire(ctx, 7)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, 7)
	assert.True(t, errors.Is(err, ErrHeld))

	other, err := r.Acquire(ctx, 8)
	require.NoError(t, err, "locks are per task")
	other()

	release()
	again, err := r.Acquire(ctx, 7)
	require.NoError(t, err)
	again()
}

func TestRedis_HeldPastTTL(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(ctx)

	r, err := NewRedis(ctx, logger, &redis.Options{Addr: addr}, 300*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	release, err := r.Acquire(ctx, 5)
	require.NoError(t, err)

	// several TTLs pass while the launch is still running
	time.Sleep(time.Second)
	_, err = r.Acquire(ctx, 5)
	assert.True(t, errors.Is(err, ErrHeld))

	release()
	release()
	again, err := r.Acquire(ctx, 5)
	require.NoError(t, err)
	again()
}

func TestRedis_StaleReleaseKeepsNewOwner(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(ctx)

	r, err := NewRedis(ctx, logger, &redis.Options{Addr: addr}, 300*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	stale, err := r.Acquire(ctx, 3)
	require.NoError(t, err)

	// the key vanishes under the first owner, as after a redis restart
	admin := redis.NewClient(&redis.Options{Addr: addr})
	defer admin.Close()
	require.NoError(t, admin.Del(ctx, key(3)).Err())

	owner, err := r.Acquire(ctx, 3)
	require.NoError(t, err)

	stale()
	_, err = r.Acquire(ctx, 3)
	assert.True(t, errors.Is(err, ErrHeld), "stale release must not free the new owner's lock")
	owner()
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx := context.Background()
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(ctx)

	_, err := NewRedis(ctx, logger, &redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unreachable")
}
