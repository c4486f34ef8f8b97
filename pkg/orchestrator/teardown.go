// pkg/orchestrator/teardown.go
package orchestrator

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Teardown removes task workspaces.
type Teardown struct {
	dialer remote.Dialer
	logger otelzap.LoggerWithCtx
}

func NewTeardown(logger otelzap.LoggerWithCtx, dialer remote.Dialer) *Teardown {
	return &Teardown{dialer: dialer, logger: logger}
}

// Remove deletes the workspace root recursively. Removing a workspace that
// is already gone succeeds.
func (t *Teardown) Remove(ctx context.Context, creds remote.Credentials, ws engine.Workspace) error {
	ctx, span := telemetry.Start(ctx, "orchestrator.Teardown",
		attribute.String("address", creds.Address),
		attribute.String("root", ws.Root))
	defer span.End()

	return withSession(ctx, t.logger, t.dialer, creds, PhaseTeardown, func(sess remote.Session) error {
		res, err := run(ctx, sess, creds, PhaseTeardown, ws.TeardownCommand())
		if err != nil {
			return err
		}
		if !res.OK() {
			return &TaskError{
				Kind:    ErrTeardown,
				Phase:   PhaseTeardown,
				TaskID:  ws.TaskID,
				Address: creds.Address,
				Message: "could not remove " + ws.Root,
				Output:  res.Output + res.Stderr,
			}
		}
		t.logger.Info("Workspace removed", zap.String("address", creds.Address), zap.String("root", ws.Root))
		return nil
	})
}
