// pkg/fleet_err/user.go

package fleet_err

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// UserError marks an error as expected and recoverable by the user.
type UserError struct {
	cause error
}

func (e *UserError) Error() string {
	return e.cause.Error()
}

func (e *UserError) Unwrap() error {
	return e.cause
}

// NewExpectedError wraps an error for softer UX handling.
func NewExpectedError(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{cause: err}
}

// IsExpectedUserError checks if the error is marked as expected.
func IsExpectedUserError(err error) bool {
	var e *UserError
	return errors.As(err, &e)
}

// PrintError prints a human-readable error message without exiting.
func PrintError(log *zap.Logger, userMessage string, err error) {
	if err == nil {
		return
	}
	if IsExpectedUserError(err) {
		log.Warn(userMessage, zap.Error(err))
		fmt.Fprintf(os.Stderr, "Notice: %s: %v\n", userMessage, err)
		return
	}
	log.Error(userMessage, zap.Error(err))
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", userMessage, err)
}
