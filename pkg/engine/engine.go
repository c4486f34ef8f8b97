// Package engine models the supported fuzzing engines and the remote
// workspace conventions each of them expects.
package engine

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
)

// ErrInvalidEngine is the cause of every engine selector rejection.
var ErrInvalidEngine = errors.New("invalid fuzzing engine")

// Engine is the closed set of supported fuzzing engines. The zero value is
// not a valid engine.
type Engine int

const (
	AFL Engine = iota + 1
	LibFuzzer
)

// All lists the supported engines in display order.
var All = []Engine{AFL, LibFuzzer}

// Parse accepts an engine display name ("AFL++", "libFuzzer") or its
// workspace tag ("afl", "libfuzzer"), case-insensitively.
func Parse(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "afl++", "afl":
		return AFL, nil
	case "libfuzzer":
		return LibFuzzer, nil
	}
	return 0, &fleet_err.ClassifiedError{
		Category:    fleet_err.CategoryValidation,
		Message:     fmt.Sprintf("unsupported fuzzing engine %q", s),
		Cause:       ErrInvalidEngine,
		Remediation: []string{"Use one of: AFL++, libFuzzer"},
	}
}

// Valid reports whether e is one of the supported engines.
func (e Engine) Valid() bool {
	return e == AFL || e == LibFuzzer
}

// String returns the display name.
func (e Engine) String() string {
	switch e {
	case AFL:
		return "AFL++"
	case LibFuzzer:
		return "libFuzzer"
	default:
		return fmt.Sprintf("Engine(%d)", int(e))
	}
}

// Tag is the suffix used in workspace directory names.
func (e Engine) Tag() string {
	switch e {
	case AFL:
		return "afl"
	case LibFuzzer:
		return "libfuzzer"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Engine) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEngine, int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Engine) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Value stores the engine by display name.
func (e Engine) Value() (driver.Value, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEngine, int(e))
	}
	return e.String(), nil
}

// Scan rejects any stored value outside the supported set.
func (e *Engine) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return e.UnmarshalText([]byte(v))
	case []byte:
		return e.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidEngine, src)
	}
}
