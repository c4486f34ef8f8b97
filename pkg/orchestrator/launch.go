// pkg/orchestrator/launch.go
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

// Launcher starts detached fuzz processes.
type Launcher struct {
	dialer remote.Dialer
	prober *Prober
	logger otelzap.LoggerWithCtx
}

func NewLauncher(logger otelzap.LoggerWithCtx, dialer remote.Dialer) *Launcher {
	return &Launcher{dialer: dialer, prober: NewProber(logger, dialer), logger: logger}
}

// Launch re-probes the node, starts the fuzz command in the background and
// returns the pid read back from the workspace pid file. The launch command's
// own exit status is not trusted: only a parseable pid counts as launched.
func (l *Launcher) Launch(ctx context.Context, creds remote.Credentials, nodeID uint, ws engine.Workspace, artifactName string, env []string) (int, error) {
	ctx, span := telemetry.Start(ctx, "orchestrator.Launch",
		attribute.String("address", creds.Address),
		attribute.Int64("node_id", int64(nodeID)),
		attribute.String("engine", ws.Engine.Tag()))
	defer span.End()

	command, err := ws.LaunchCommand(nodeID, artifactName, env)
	if err != nil {
		return 0, err
	}

	if !l.prober.Probe(ctx, creds) {
		return 0, &TaskError{Kind: ErrNodeUnreachable, Phase: PhaseProbe, TaskID: ws.TaskID, NodeID: nodeID, Address: creds.Address}
	}

	fields := []zap.Field{zap.Uint("node_id", nodeID), zap.String("address", creds.Address)}

	var pid int
	err = withSession(ctx, l.logger, l.dialer, creds, PhaseLaunch, func(sess remote.Session) error {
		res, err := run(ctx, sess, creds, PhaseLaunch, command)
		if err != nil {
			return err
		}
		if !res.OK() {
			l.logger.Warn("Launch command exited non-zero",
				append(fields, zap.Int("exit_status", res.ExitStatus), zap.String("stderr", res.Stderr))...)
		}

		out, err := run(ctx, sess, creds, PhaseLaunch, ws.ReadPIDCommand())
		if err != nil {
			return err
		}
		pid, err = engine.ParsePID(out.Output)
		if err != nil {
			return &TaskError{
				Kind:    ErrLaunch,
				Phase:   PhaseLaunch,
				TaskID:  ws.TaskID,
				Message: "no usable pid in " + ws.PIDFile,
				Output:  out.Output + out.Stderr,
				Cause:   err,
			}
		}
		return nil
	})
	if err != nil {
		return 0, onNode(err, nodeID, creds.Address)
	}

	span.SetAttributes(attribute.Int("pid", pid))
	l.logger.Info("Fuzzer launched",
		append(fields, zap.Int("pid", pid), zap.String("engine", ws.Engine.String()), zap.String("command", command))...)
	return pid, nil
}
