// Package remote opens password-authenticated SSH sessions to fuzzing nodes,
// runs shell commands on them and copies files to them.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
)

var (
	// ErrConnection covers DNS, TCP, authentication and protocol failures
	// while opening or using a session.
	ErrConnection = errors.New("connection failed")
	// ErrTransfer covers file copy failures.
	ErrTransfer = errors.New("transfer failed")
	// ErrTimeout is returned alongside ErrConnection when a command exceeds
	// its deadline.
	ErrTimeout = errors.New("remote command timed out")
)

// Credentials are always used as a unit.
type Credentials struct {
	Address  string
	Username string
	Password string
}

// Validate rejects partially filled credentials.
func (c Credentials) Validate() error {
	if c.Address == "" || c.Username == "" || c.Password == "" {
		return fleet_err.NewValidationError(
			fmt.Sprintf("incomplete credentials for %s", c),
			"Address, username and password are all required",
		)
	}
	return nil
}

// String renders user@address; the secret is never included.
func (c Credentials) String() string {
	return c.Username + "@" + c.Address
}

// HostPort resolves the dial target, using defaultPort unless Address
// carries its own port.
func (c Credentials) HostPort(defaultPort int) string {
	if _, _, err := net.SplitHostPort(c.Address); err == nil {
		return c.Address
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(defaultPort))
}

// Result is the outcome of one remote command.
type Result struct {
	Output     string
	Stderr     string
	ExitStatus int
}

// OK reports a zero exit status.
func (r Result) OK() bool {
	return r.ExitStatus == 0
}

// Session is an open connection to one node.
type Session interface {
	// Run executes command and captures its output. A non-zero exit status is
	// not an error; err is reserved for transport failures.
	Run(ctx context.Context, command string) (Result, error)
	// Upload copies a local file to remotePath.
	Upload(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Session, error)
}

func connectionError(creds Credentials, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, creds, err)
}

func transferError(remotePath string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransfer, remotePath, err)
}
