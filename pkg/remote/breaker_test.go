package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

type countingDialer struct {
	calls int
	err   error
}

func (d *countingDialer) Dial(_ context.Context, creds Credentials) (Session, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return nopSession{}, nil
}

type nopSession struct{}

func (nopSession) Run(context.Context, string) (Result, error)  { return Result{}, nil }
func (nopSession) Upload(context.Context, string, string) error { return nil }
func (nopSession) Close() error                                 { return nil }

func TestBreakerDialer_TripsAfterFailures(t *testing.T) {
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(context.Background())
	creds := Credentials{Address: "10.1.1.1", Username: "u", Password: "p"}
	inner := &countingDialer{err: connectionError(creds, errors.New("connection refused"))}
	d := NewBreakerDialer(logger, inner, 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := d.Dial(context.Background(), creds)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, d.State(creds.Address))

	_, err := d.Dial(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, 2, inner.calls, "open circuit must not dial")

	other := Credentials{Address: "10.1.1.2", Username: "u", Password: "p"}
	assert.Equal(t, gobreaker.StateClosed, d.State(other.Address))
}

func TestBreakerDialer_IgnoresNonConnectionErrors(t *testing.T) {
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(context.Background())
	inner := &countingDialer{err: fmt.Errorf("incomplete credentials")}
	d := NewBreakerDialer(logger, inner, 1, time.Minute)
	creds := Credentials{Address: "10.1.1.3"}

	for i := 0; i < 3; i++ {
		_, err := d.Dial(context.Background(), creds)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, d.State(creds.Address))
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerDialer_PassesSession(t *testing.T) {
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(context.Background())
	d := NewBreakerDialer(logger, &countingDialer{}, 1, time.Minute)
	sess, err := d.Dial(context.Background(), Credentials{Address: "h", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.NotNil(t, sess)
}
