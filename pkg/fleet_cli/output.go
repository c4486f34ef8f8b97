// pkg/fleet_cli/output.go

package fleet_cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by -o.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
)

// Table is a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Render writes v as YAML or t as an aligned table.
func Render(w io.Writer, format string, v any, t Table) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		writeRow(tw, t.Header)
		for _, row := range t.Rows {
			writeRow(tw, row)
		}
		return tw.Flush()
	default:
		return fleet_err.NewValidationError(fmt.Sprintf("unknown output format %q", format), "Use -o table or -o yaml")
	}
}

func writeRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}
