// pkg/orchestrator/probe.go
package orchestrator

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Prober checks whether a host accepts sessions.
type Prober struct {
	dialer remote.Dialer
	logger otelzap.LoggerWithCtx
}

func NewProber(logger otelzap.LoggerWithCtx, dialer remote.Dialer) *Prober {
	return &Prober{dialer: dialer, logger: logger}
}

// Probe opens a session and closes it straight away. Any failure is reported
// as false; the result is advisory and may be stale by the next call.
func (p *Prober) Probe(ctx context.Context, creds remote.Credentials) bool {
	ctx, span := telemetry.Start(ctx, "orchestrator.Probe", attribute.String("address", creds.Address))
	defer span.End()

	sess, err := p.dialer.Dial(ctx, creds)
	if err != nil {
		p.logger.Warn("Host unreachable", zap.String("host", creds.String()), zap.Error(err))
		span.SetAttributes(attribute.Bool("reachable", false))
		return false
	}
	if err := sess.Close(); err != nil {
		p.logger.Debug("Probe session close failed", zap.String("host", creds.String()), zap.Error(err))
	}
	p.logger.Debug("Host reachable", zap.String("host", creds.String()))
	span.SetAttributes(attribute.Bool("reachable", true))
	return true
}
