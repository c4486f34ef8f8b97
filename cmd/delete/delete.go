// cmd/delete/delete.go
package delete

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DeleteCmd is the root command for delete operations
var DeleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"rm"},
	Short:   "Remove nodes, builds and tasks",
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for delete", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

var force bool

var deleteNodeCmd = &cobra.Command{
	Use:   "node <id>",
	Short: "Forget a node",
	Args:  cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		id, err := fleet_cli.ParseID(args[0])
		if err != nil {
			return err
		}
		node, err := app.Records.Nodes.Get(rc.Ctx, id)
		if err != nil {
			return err
		}
		if err := app.Records.Nodes.Remove(rc.Ctx, node); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "node %d removed\n", id)
		return nil
	}),
}

var deleteBuildCmd = &cobra.Command{
	Use:   "build <id>",
	Short: "Delete a build file and its record",
	Args:  cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		id, err := fleet_cli.ParseID(args[0])
		if err != nil {
			return err
		}
		if err := app.Builds.Remove(rc.Ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "build %d removed\n", id)
		return nil
	}),
}

var deleteTaskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Tear down a task workspace everywhere and remove the task",
	Long: `Remove the task workspace from shared storage and from every node.
The task record is kept when any teardown fails, unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		id, err := fleet_cli.ParseID(args[0])
		if err != nil {
			return err
		}
		if err := app.Orchestrator.Delete(rc.Ctx, id, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %d deleted\n", id)
		return nil
	}),
}

func init() {
	deleteTaskCmd.Flags().BoolVar(&force, "force", false, "remove the record even if teardown fails")
	DeleteCmd.AddCommand(deleteNodeCmd, deleteBuildCmd, deleteTaskCmd)
}
