// cmd/inspect/inspect.go
package inspect

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InspectCmd is the root command for inspection operations
var InspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Probe hosts and show task details",
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for inspect", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

var output string

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe every node and the shared storage target",
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		states, err := app.Orchestrator.PingAll(rc.Ctx)
		t := fleet_cli.Table{Header: []string{"KIND", "ID", "ADDRESS", "REACHABLE"}}
		for _, s := range states {
			reachable := s.Reachable
			t.Rows = append(t.Rows, []string{s.Kind, fmt.Sprint(s.ID), s.Address, fleet_cli.YesNo(&reachable)})
		}
		if renderErr := fleet_cli.Render(cmd.OutOrStdout(), output, states, t); renderErr != nil {
			return renderErr
		}
		return err
	}),
}

type taskView struct {
	ID          uint     `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Engine      string   `yaml:"engine"`
	Status      string   `yaml:"status"`
	Build       string   `yaml:"build"`
	Environment string   `yaml:"environment,omitempty"`
	Workspace   string   `yaml:"workspace,omitempty"`
	Processes   []procOn `yaml:"processes,omitempty"`
}

type procOn struct {
	NodeID  int64  `yaml:"node_id"`
	Address string `yaml:"address,omitempty"`
	PID     int64  `yaml:"pid"`
}

var taskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Show a task with its build and per-node processes",
	Args:  cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		id, err := fleet_cli.ParseID(args[0])
		if err != nil {
			return err
		}
		task, err := app.Records.Tasks.Get(rc.Ctx, id)
		if err != nil {
			return err
		}

		view := taskView{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			Engine:      task.Engine.String(),
			Status:      task.Status,
			Build:       fmt.Sprint(task.BuildID),
			Environment: task.Environment,
		}
		if b, err := app.Records.Builds.Get(rc.Ctx, task.BuildID); err == nil {
			view.Build = fmt.Sprintf("%d (%s)", b.ID, b.OriginalName)
		}
		if ws, err := app.Orchestrator.Workspace(task); err == nil {
			view.Workspace = ws.Root
		}
		for i, nodeID := range task.NodeIDs {
			p := procOn{NodeID: nodeID}
			if i < len(task.PIDs) {
				p.PID = task.PIDs[i]
			}
			if n, err := app.Records.Nodes.Get(rc.Ctx, uint(nodeID)); err == nil {
				p.Address = n.Address
			}
			view.Processes = append(view.Processes, p)
		}

		t := fleet_cli.Table{Header: []string{"NODE", "ADDRESS", "PID"}}
		for _, p := range view.Processes {
			pid := "-"
			if p.PID > 0 {
				pid = fmt.Sprint(p.PID)
			}
			t.Rows = append(t.Rows, []string{fmt.Sprint(p.NodeID), p.Address, pid})
		}
		if output != fleet_cli.FormatYAML {
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d %q [%s] engine=%s build=%s\n", view.ID, view.Name, view.Status, view.Engine, view.Build)
			if view.Workspace != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Workspace: %s\n", view.Workspace)
			}
		}
		return fleet_cli.Render(cmd.OutOrStdout(), output, view, t)
	}),
}

func init() {
	InspectCmd.PersistentFlags().StringVarP(&output, "output", "o", fleet_cli.FormatTable, "output format: table or yaml")
	InspectCmd.AddCommand(pingCmd, taskCmd)
}
