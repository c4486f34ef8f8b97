// pkg/fleet_cli/wrap.go

package fleet_cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Wrap ensures panic recovery, telemetry and end-of-command logging. The
// command context is cancelled on SIGINT or SIGTERM.
func Wrap(fn func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		parent, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rc := fleet_io.NewContext(parent, cmd.CommandPath())
		defer rc.End(&err)

		defer func() {
			if r := recover(); r != nil {
				err = cerr.AssertionFailedf("panic: %v", r)
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		rc.Log.Debug("Command started", zap.Strings("args", args))

		err = fn(rc, cmd, args)
		if err != nil && !fleet_err.IsExpectedUserError(err) {
			err = cerr.WithStack(err)
		}
		return err
	}
}

// WrapApp is Wrap plus configuration loading and backend wiring. The App is
// closed when the command returns.
func WrapApp(fn func(rc *fleet_io.RuntimeContext, app *App, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		app, err := Open(rc)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := app.Close(); closeErr != nil {
				rc.Log.Warn("Failed to close backends", zap.Error(closeErr))
			}
		}()
		return fn(rc, app, cmd, args)
	})
}
