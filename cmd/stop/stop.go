// cmd/stop/stop.go
package stop

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// StopCmd is the root command for stop operations
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop running fuzzing processes",
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for stop", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

var stopTaskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Kill every recorded fuzzer process of a task",
	Args:  cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		taskID, err := fleet_cli.ParseID(args[0])
		if err != nil {
			return err
		}
		task, err := app.Orchestrator.Stop(rc.Ctx, taskID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %d stopped\n", task.ID)
		return nil
	}),
}

func init() {
	StopCmd.AddCommand(stopTaskCmd)
}
