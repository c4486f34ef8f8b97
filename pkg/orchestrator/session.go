// pkg/orchestrator/session.go
package orchestrator

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// withSession opens a session, hands it to fn and always closes it.
// Connection failures come back as ErrConnection task errors.
func withSession(ctx context.Context, logger otelzap.LoggerWithCtx, dialer remote.Dialer, creds remote.Credentials, phase Phase, fn func(remote.Session) error) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	sess, err := dialer.Dial(ctx, creds)
	if err != nil {
		return &TaskError{Kind: ErrConnection, Phase: phase, Address: creds.Address, Cause: err}
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			logger.Debug("Session close failed", zap.String("address", creds.Address), zap.Error(closeErr))
		}
	}()
	return fn(sess)
}

// run executes command and maps transport failures to ErrConnection.
func run(ctx context.Context, sess remote.Session, creds remote.Credentials, phase Phase, command string) (remote.Result, error) {
	res, err := sess.Run(ctx, command)
	if err != nil {
		return res, &TaskError{Kind: ErrConnection, Phase: phase, Address: creds.Address, Output: res.Output, Cause: err}
	}
	return res, nil
}
