// cmd/reconcile/reconcile.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/config"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/orchestrator"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	interval time.Duration
	watch    bool
	output   string
)

// ReconcileCmd checks recorded fuzzer processes and marks finished tasks stopped
var ReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check recorded fuzzer processes and mark finished tasks stopped",
	Long: `Send a liveness signal to every recorded fuzzer process. A running task
whose processes are all gone, on nodes that all answered, becomes stopped.
With --watch or --interval the check repeats until interrupted, and edits to
reconcile.probes_per_second in the config file apply from the next pass.`,
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		if watch && interval <= 0 {
			interval = app.Config.Reconcile.Interval
		}

		render := func(report []orchestrator.TaskLiveness) error {
			t := fleet_cli.Table{Header: []string{"TASK", "ALIVE", "DEAD", "UNREACHABLE", "STATUS"}}
			for _, r := range report {
				t.Rows = append(t.Rows, []string{
					fmt.Sprint(r.TaskID), fmt.Sprint(r.Alive), fmt.Sprint(r.Dead), fmt.Sprint(r.Unreachable), r.Status,
				})
			}
			return fleet_cli.Render(cmd.OutOrStdout(), output, report, t)
		}

		if interval <= 0 {
			report, err := app.Orchestrator.Reconcile(rc.Ctx)
			if renderErr := render(report); renderErr != nil {
				return renderErr
			}
			return err
		}

		rc.Log.Info("Reconciling periodically", zap.Duration("interval", interval))
		config.Watch(fleet_cli.Viper, func(e fsnotify.Event, cfg *config.Config, err error) {
			if err != nil {
				rc.Log.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
				return
			}
			rc.Log.Info("Config reloaded", zap.String("file", e.Name),
				zap.Float64("probes_per_second", cfg.Reconcile.ProbesPerSecond))
			app.Orchestrator.SetProbesPerSecond(cfg.Reconcile.ProbesPerSecond)
		})
		err := app.Orchestrator.ReconcileEvery(rc.Ctx, interval, func(report []orchestrator.TaskLiveness, err error) {
			if err != nil {
				rc.Log.Warn("Reconcile pass incomplete", zap.Error(err))
			}
			if renderErr := render(report); renderErr != nil {
				rc.Log.Error("Cannot render reconcile report", zap.Error(renderErr))
			}
		})
		if errors.Is(err, context.Canceled) {
			rc.Log.Info("Reconcile loop stopped")
			return nil
		}
		return err
	}),
}

func init() {
	ReconcileCmd.Flags().DurationVar(&interval, "interval", 0, "repeat at this interval until interrupted")
	ReconcileCmd.Flags().BoolVar(&watch, "watch", false, "repeat at the configured reconcile interval")
	ReconcileCmd.Flags().StringVarP(&output, "output", "o", fleet_cli.FormatTable, "output format: table or yaml")
}
