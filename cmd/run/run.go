// cmd/run/run.go
package run

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RunCmd is the root command for launch operations
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch fuzzing tasks on nodes",
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for run", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

var nodes []uint

var runTaskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Launch a task on the selected nodes, in order",
	Long: `Launch a task on each selected node in order. Each node is probed,
its workspace provisioned and the fuzzer started detached. The first failure
aborts the run; nodes already launched keep running and their pids stay
recorded.`,
	Example: `  fuzzfleet run task 4 --nodes 1,2,3
  fuzzfleet run task 4 --nodes 1,2,3 --parallel-launch`,
	Args: cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		taskID, err := fleet_cli.ParseID(args[0])
		if err != nil {
			return err
		}
		if err := app.Config.RequireSharedRoot(); err != nil {
			return fleet_err.NewExpectedError(err)
		}

		task, err := app.Orchestrator.Run(rc.Ctx, taskID, nodes)
		if task != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "task %d: status %s, pids %v\n", task.ID, task.Status, []int64(task.PIDs))
		}
		return err
	}),
}

func init() {
	runTaskCmd.Flags().UintSliceVar(&nodes, "nodes", nil, "node ids in launch order")
	runTaskCmd.Flags().Bool("parallel-launch", false, "launch on all nodes concurrently")
	_ = runTaskCmd.MarkFlagRequired("nodes")
	RunCmd.AddCommand(runTaskCmd)
}
