// pkg/lock/lock.go

// Package lock guards a task against concurrent launches from more than one
// controller.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ErrHeld is returned when another launch of the same task is in flight.
var ErrHeld = errors.New("launch already in progress")

// Locker hands out per-task launch locks. Release is always safe to call,
// even after the lock expired.
type Locker interface {
	Acquire(ctx context.Context, taskID uint) (release func(), err error)
}

// None never blocks.
type None struct{}

func (None) Acquire(context.Context, uint) (func(), error) {
	return func() {}, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only while the key still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis holds locks as keys set with NX and a TTL. A held lock is refreshed
// every third of the TTL until released, so a launch may outlast the TTL;
// the TTL only bounds how long a crashed controller blocks the task.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger otelzap.LoggerWithCtx
}

// NewRedis connects to addr and verifies it with PING.
func NewRedis(ctx context.Context, logger otelzap.LoggerWithCtx, opts *redis.Options, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fleet_err.NewNetworkError("redis unreachable at "+opts.Addr, err,
			"Check redis.addr or set orchestrator.launch_guard to none")
	}
	logger.Info("Connected to Redis launch guard", zap.String("addr", opts.Addr))
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

func key(taskID uint) string {
	return fmt.Sprintf("fuzzfleet:launch:%d", taskID)
}

func (r *Redis) Acquire(ctx context.Context, taskID uint) (func(), error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key(taskID), token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring launch lock for task %d: %w", taskID, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrHeld)
	}

	r.logger.Debug("Launch lock acquired", zap.Uint("task_id", taskID), zap.Duration("ttl", r.ttl))

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(taskID, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Fresh context: the launch may have been cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key(taskID)}, token).Err(); err != nil {
				r.logger.Warn("Failed to release launch lock", zap.Uint("task_id", taskID), zap.Error(err))
			}
		})
	}, nil
}

func (r *Redis) keepAlive(taskID uint, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := r.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := refreshScript.Run(ctx, r.client, []string{key(taskID)}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("Failed to refresh launch lock", zap.Uint("task_id", taskID), zap.Error(err))
		case n == 0:
			r.logger.Warn("Launch lock lost before release", zap.Uint("task_id", taskID))
			return
		}
	}
}

// Close disconnects from Redis.
func (r *Redis) Close() error {
	return r.client.Close()
}
