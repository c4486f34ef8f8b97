// pkg/fleet_cli/args.go

package fleet_cli

import (
	"fmt"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
)

// ParseID parses a positional record id.
func ParseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 0)
	if err != nil || id == 0 {
		return 0, fleet_err.NewExpectedError(fleet_err.NewValidationError(
			fmt.Sprintf("invalid id %q", s),
			"Ids are positive integers; see 'fuzzfleet list'",
		))
	}
	return uint(id), nil
}

// YesNo renders an optional probe outcome.
func YesNo(b *bool) string {
	switch {
	case b == nil:
		return "-"
	case *b:
		return "yes"
	default:
		return "no"
	}
}
