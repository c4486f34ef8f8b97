// cmd/create/task.go
package create

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var taskFlags struct {
	name        string
	description string
	engine      string
	build       uint
	env         string
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create a fuzzing task and initialize it on shared storage",
	Example: `  fuzzfleet create task --name png --engine afl++ --build 3
  fuzzfleet create task --name json --engine libfuzzer --build 4 --env 'ASAN_OPTIONS="detect_leaks=0"'`,
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		if err := app.Config.RequireSharedRoot(); err != nil {
			return fleet_err.NewExpectedError(err)
		}
		e, err := engine.Parse(taskFlags.engine)
		if err != nil {
			return fleet_err.NewExpectedError(err)
		}

		task := &store.FuzzingTask{
			Name:        taskFlags.name,
			Description: taskFlags.description,
			Engine:      e,
			BuildID:     taskFlags.build,
			Environment: taskFlags.env,
		}
		if err := app.Orchestrator.CreateTask(rc.Ctx, task); err != nil {
			if task.ID != 0 {
				rc.Log.Error("Task stored but not initialized", zap.Uint("task_id", task.ID), zap.Error(err))
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "task %d created (%s)\n", task.ID, task.Engine)
		return nil
	}),
}

func init() {
	taskCmd.Flags().StringVar(&taskFlags.name, "name", "", "display name")
	taskCmd.Flags().StringVar(&taskFlags.description, "description", "", "optional description")
	taskCmd.Flags().StringVar(&taskFlags.engine, "engine", "", "fuzzing engine: afl++ or libfuzzer")
	taskCmd.Flags().UintVar(&taskFlags.build, "build", 0, "build id")
	taskCmd.Flags().StringVar(&taskFlags.env, "env", "", "KEY=VALUE pairs exported to the fuzzer")
	_ = taskCmd.MarkFlagRequired("name")
	_ = taskCmd.MarkFlagRequired("engine")
	_ = taskCmd.MarkFlagRequired("build")
}
