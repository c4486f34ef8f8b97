// pkg/orchestrator/stage.go
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

// Stager copies build artifacts into task workspaces.
type Stager struct {
	dialer remote.Dialer
	logger otelzap.LoggerWithCtx
}

func NewStager(logger otelzap.LoggerWithCtx, dialer remote.Dialer) *Stager {
	return &Stager{dialer: dialer, logger: logger}
}

// Stage uploads localPath to the workspace as artifactName and marks it
// executable. Success is the exit status of the chmod and listing command.
func (s *Stager) Stage(ctx context.Context, creds remote.Credentials, localPath string, ws engine.Workspace, artifactName string) error {
	remotePath, err := ws.ArtifactPath(artifactName)
	if err != nil {
		return err
	}

	ctx, span := telemetry.Start(ctx, "orchestrator.Stage",
		attribute.String("address", creds.Address),
		attribute.String("remote_path", remotePath))
	defer span.End()

	return withSession(ctx, s.logger, s.dialer, creds, PhaseStage, func(sess remote.Session) error {
		if err := sess.Upload(ctx, localPath, remotePath); err != nil {
			return &TaskError{Kind: ErrTransfer, Phase: PhaseStage, TaskID: ws.TaskID, Address: creds.Address, Cause: err}
		}

		res, err := run(ctx, sess, creds, PhaseStage, engine.StageCheckCommand(remotePath))
		if err != nil {
			return err
		}
		if !res.OK() {
			return &TaskError{
				Kind:    ErrTransfer,
				Phase:   PhaseStage,
				TaskID:  ws.TaskID,
				Address: creds.Address,
				Message: "staged artifact " + remotePath + " could not be made executable",
				Output:  res.Output + res.Stderr,
			}
		}

		s.logger.Info("Artifact staged",
			zap.String("address", creds.Address),
			zap.String("remote_path", remotePath),
			zap.String("listing", res.Output))
		return nil
	})
}
