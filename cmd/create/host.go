// cmd/create/host.go
package create

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var hostFlags struct {
	address  string
	username string
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Register a fuzzing node",
	Example: `  fuzzfleet create node --address 10.0.0.11 --username fuzz
  FUZZFLEET_HOST_PASSWORD=... fuzzfleet create node --address 10.0.0.12:2222 --username fuzz`,
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		password, err := fleet_cli.ReadPassword(fmt.Sprintf("Password for %s@%s: ", hostFlags.username, hostFlags.address))
		if err != nil {
			return err
		}
		node := &store.Node{Address: hostFlags.address, Username: hostFlags.username, Password: password}
		if err := validateHost(node); err != nil {
			return err
		}
		if err := app.Records.Nodes.Add(rc.Ctx, node); err != nil {
			return err
		}
		rc.Log.Info("Node registered", zap.Uint("node_id", node.ID), zap.String("address", node.Address))
		fmt.Fprintf(cmd.OutOrStdout(), "node %d registered\n", node.ID)
		return nil
	}),
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Set the shared storage target, replacing any existing one",
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		password, err := fleet_cli.ReadPassword(fmt.Sprintf("Password for %s@%s: ", hostFlags.username, hostFlags.address))
		if err != nil {
			return err
		}
		target := &store.SharedStorageTarget{Address: hostFlags.address, Username: hostFlags.username, Password: password}
		if err := validateHost(target); err != nil {
			return err
		}
		if err := store.SetSharedStorage(rc.Ctx, app.Records.Storage, target); err != nil {
			return err
		}
		rc.Log.Info("Shared storage target set", zap.String("address", target.Address))
		fmt.Fprintf(cmd.OutOrStdout(), "shared storage set to %s\n", target.Address)
		return nil
	}),
}

func validateHost(v any) error {
	if err := validator.New().Struct(v); err != nil {
		return fleet_err.NewExpectedError(fleet_err.NewValidationError(
			fmt.Sprintf("invalid host: %v", err),
			"Pass --address and --username and supply a password",
		))
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{nodeCmd, storageCmd} {
		c.Flags().StringVar(&hostFlags.address, "address", "", "host or host:port")
		c.Flags().StringVar(&hostFlags.username, "username", "", "SSH user")
		_ = c.MarkFlagRequired("address")
		_ = c.MarkFlagRequired("username")
	}
}
