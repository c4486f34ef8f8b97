// cmd/create/build.go
package create

import (
	"fmt"
	"os"
	"os/user"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_cli"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_io"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <file>",
	Short: "Upload a fuzz target binary",
	Args:  cobra.ExactArgs(1),
	RunE: fleet_cli.WrapApp(func(rc *fleet_io.RuntimeContext, app *fleet_cli.App, cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fleet_err.NewExpectedError(fleet_err.NewFilesystemError("cannot open build "+args[0], err))
		}
		defer f.Close()

		owner := ""
		if u, err := user.Current(); err == nil {
			owner = u.Username
		}

		artifact, err := app.Builds.Register(rc.Ctx, f, args[0], owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "build %d stored as %s\n", artifact.ID, artifact.StoredName)
		return nil
	}),
}
