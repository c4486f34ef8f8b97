// pkg/orchestrator/provision.go
package orchestrator

import (
	"context"
	"strings"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Provisioner creates task workspaces.
type Provisioner struct {
	dialer remote.Dialer
	logger otelzap.LoggerWithCtx
}

func NewProvisioner(logger otelzap.LoggerWithCtx, dialer remote.Dialer) *Provisioner {
	return &Provisioner{dialer: dialer, logger: logger}
}

// ProvisionTask resolves the workspace for (sharedRoot, taskID, e) and
// provisions it. An invalid engine fails before any host is contacted.
func (p *Provisioner) ProvisionTask(ctx context.Context, creds remote.Credentials, sharedRoot string, taskID uint, e engine.Engine) (engine.Workspace, error) {
	ws, err := engine.NewWorkspace(sharedRoot, taskID, e)
	if err != nil {
		return engine.Workspace{}, classify(err, PhaseProvision, taskID)
	}
	return ws, p.Provision(ctx, creds, ws)
}

// Provision creates the workspace directories in one compound command, then
// lists the root. The listing is the only success criterion: the mkdir exit
// status is logged but not trusted on its own.
func (p *Provisioner) Provision(ctx context.Context, creds remote.Credentials, ws engine.Workspace) error {
	ctx, span := telemetry.Start(ctx, "orchestrator.Provision",
		attribute.String("address", creds.Address),
		attribute.String("engine", ws.Engine.Tag()),
		attribute.Int64("task_id", int64(ws.TaskID)))
	defer span.End()

	return withSession(ctx, p.logger, p.dialer, creds, PhaseProvision, func(sess remote.Session) error {
		mk, err := run(ctx, sess, creds, PhaseProvision, ws.ProvisionCommand())
		if err != nil {
			return err
		}
		if !mk.OK() {
			p.logger.Warn("Workspace creation exited non-zero",
				zap.String("address", creds.Address),
				zap.Int("exit_status", mk.ExitStatus),
				zap.String("stderr", mk.Stderr))
		}

		ls, err := run(ctx, sess, creds, PhaseProvision, ws.ListCommand())
		if err != nil {
			return err
		}
		if missing := ws.MissingDirs(ls.Output); len(missing) > 0 {
			return &TaskError{
				Kind:    ErrProvision,
				Phase:   PhaseProvision,
				TaskID:  ws.TaskID,
				Address: creds.Address,
				Message: "workspace " + ws.Root + " is missing " + strings.Join(missing, ", "),
				Output:  ls.Output + mk.Stderr + ls.Stderr,
			}
		}

		p.logger.Info("Workspace provisioned",
			zap.String("address", creds.Address),
			zap.Uint("task_id", ws.TaskID),
			zap.String("root", ws.Root),
			zap.String("engine", ws.Engine.String()))
		return nil
	})
}
