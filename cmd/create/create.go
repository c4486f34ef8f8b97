// cmd/create/create.go
package create

import (
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CreateCmd is the root command for create operations
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register nodes, the shared storage target, builds and tasks",
	RunE: fleet_cli.Wrap(func(rc *fleet_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		rc.Log.Info("No subcommand provided for create", zap.String("command", cmd.Use))
		return cmd.Help()
	}),
}

func init() {
	CreateCmd.AddCommand(nodeCmd, storageCmd, buildCmd, taskCmd)
}
