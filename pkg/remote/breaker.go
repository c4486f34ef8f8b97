package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// BreakerDialer trips a per-address circuit after consecutive connection
// failures so that later dials to a dead node fail immediately.
type BreakerDialer struct {
	inner       Dialer
	maxFailures uint32
	openTimeout time.Duration
	logger      otelzap.LoggerWithCtx

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerDialer wraps inner.
func NewBreakerDialer(logger otelzap.LoggerWithCtx, inner Dialer, maxFailures uint32, openTimeout time.Duration) *BreakerDialer {
	if maxFailures == 0 {
		maxFailures = 1
	}
	return &BreakerDialer{
		inner:       inner,
		maxFailures: maxFailures,
		openTimeout: openTimeout,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *BreakerDialer) breaker(address string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[address]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        address,
		MaxRequests: 1,
		Timeout:     d.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= d.maxFailures
		},
		// validation errors say nothing about node health
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrConnection)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("SSH circuit state changed",
				zap.String("address", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	d.breakers[address] = cb
	return cb
}

// Dial implements Dialer.
func (d *BreakerDialer) Dial(ctx context.Context, creds Credentials) (Session, error) {
	out, err := d.breaker(creds.Address).Execute(func() (interface{}, error) {
		return d.inner.Dial(ctx, creds)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, connectionError(creds, fmt.Errorf("circuit open after repeated failures: %w", err))
	}
	if err != nil {
		return nil, err
	}
	return out.(Session), nil
}

// State reports the circuit state for address.
func (d *BreakerDialer) State(address string) gobreaker.State {
	return d.breaker(address).State()
}
