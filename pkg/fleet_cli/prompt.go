// pkg/fleet_cli/prompt.go

package fleet_cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"golang.org/x/term"
)

// PasswordEnv lets scripts supply host passwords without a prompt.
const PasswordEnv = "FUZZFLEET_HOST_PASSWORD"

// ReadPassword returns the host password from the environment, or prompts
// for it without echo when stdin is a terminal.
func ReadPassword(prompt string) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fleet_err.NewValidationError("no password provided",
				fmt.Sprintf("Pipe the password on stdin or set %s", PasswordEnv))
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fleet_err.NewInternalError("failed to read password", err)
	}
	if len(pw) == 0 {
		return "", fleet_err.NewValidationError("password must not be empty")
	}
	return string(pw), nil
}
