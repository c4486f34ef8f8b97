// cmd/list/list.go
package list

import (
	"fmt"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ListCmd is the root command for list operations
var ListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List nodes, tasks and builds",
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for list", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

var output string

var listNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List registered nodes with their last probe result",
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		nodes, err := app.Records.Nodes.List(rc.Ctx)
		if err != nil {
			return err
		}
		t := fleet_cli.Table{Header: []string{"ID", "ADDRESS", "USER", "CONNECTED", "CHECKED"}}
		for _, n := range nodes {
			t.Rows = append(t.Rows, []string{
				fmt.Sprint(n.ID), n.Address, n.Username, fleet_cli.YesNo(n.Connected), when(n.CheckedAt),
			})
		}
		if target, err := store.SharedStorage(rc.Ctx, app.Records.Storage); err == nil {
			t.Rows = append(t.Rows, []string{
				"storage", target.Address, target.Username, fleet_cli.YesNo(target.LastState), when(target.CheckedAt),
			})
		}
		return fleet_cli.Render(cmd.OutOrStdout(), output, nodes, t)
	}),
}

var listTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List fuzzing tasks",
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		tasks, err := app.Records.Tasks.List(rc.Ctx)
		if err != nil {
			return err
		}
		t := fleet_cli.Table{Header: []string{"ID", "NAME", "ENGINE", "BUILD", "STATUS", "NODES", "PIDS"}}
		for _, task := range tasks {
			t.Rows = append(t.Rows, []string{
				fmt.Sprint(task.ID), task.Name, task.Engine.String(), fmt.Sprint(task.BuildID), task.Status,
				joinInts(task.NodeIDs), joinInts(task.PIDs),
			})
		}
		return fleet_cli.Render(cmd.OutOrStdout(), output, tasks, t)
	}),
}

var listBuildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List uploaded fuzz target builds",
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		builds, err := app.Records.Builds.List(rc.Ctx)
		if err != nil {
			return err
		}
		t := fleet_cli.Table{Header: []string{"ID", "NAME", "STORED AS", "OWNER", "UPLOADED"}}
		for _, b := range builds {
			t.Rows = append(t.Rows, []string{
				fmt.Sprint(b.ID), b.OriginalName, b.StoredName, b.Owner, b.UploadedAt.Format(time.RFC3339),
			})
		}
		return fleet_cli.Render(cmd.OutOrStdout(), output, builds, t)
	}),
}

func when(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func joinInts(xs []int64) string {
	if len(xs) == 0 {
		return "-"
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}

func init() {
	ListCmd.PersistentFlags().StringVarP(&output, "output", "o", fleet_cli.FormatTable, "output format: table or yaml")
	ListCmd.AddCommand(listNodesCmd, listTasksCmd, listBuildsCmd)
}
