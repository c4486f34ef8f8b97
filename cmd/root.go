/* cmd/root.go */

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/create"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/delete"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/inspect"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/list"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/reconcile"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/run"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd/stop"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/config"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd is the base command for fuzzfleet.
var RootCmd = &cobra.Command{
	Use:   "fuzzfleet",
	Short: "Run fuzzing campaigns across a fleet of SSH-reachable nodes",
	Long: `fuzzfleet provisions per-task workspaces, stages fuzz target builds,
launches AFL++ or libFuzzer detached on selected nodes, and tears the
workspaces down again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindFlagsToViper(cmd, fleet_cli.Viper, config.FlagKeys)
	},
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&fleet_cli.ConfigFile, "config", "", "config file (default $HOME/.fuzzfleet/config.yaml)")
	pf.String("shared-root", "", "absolute path of the shared storage root on every host")
	pf.String("dsn", "", "Postgres DSN for the record store")
	pf.String("builds-dir", "", "directory holding uploaded builds")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	for _, sub := range []*cobra.Command{
		create.CreateCmd,
		run.RunCmd,
		delete.DeleteCmd,
		list.ListCmd,
		inspect.InspectCmd,
		stop.StopCmd,
		reconcile.ReconcileCmd,
	} {
		RootCmd.AddCommand(sub)
	}
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	if err := telemetry.Init("fuzzfleet"); err != nil {
		logger.L().Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.L().Debug("Telemetry shutdown failed", zap.Error(err))
		}
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
		}
	}()

	err := RootCmd.Execute()
	if err == nil {
		return
	}
	fleet_err.PrintError(logger.L(), "fuzzfleet", err)
	code := fleet_err.GetExitCode(err)
	if code == 0 {
		return
	}
	_ = telemetry.Shutdown(context.Background())
	_ = logger.Sync()
	os.Exit(code)
}
