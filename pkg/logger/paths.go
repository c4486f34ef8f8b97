/* pkg/logger/paths.go */

package logger

import (
	"os"
	"path/filepath"
)

const logFileName = "fuzzfleet.log"

// DefaultLogPaths returns fallback log paths in order of priority.
func DefaultLogPaths() []string {
	var paths []string
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		paths = append(paths, filepath.Join(state, "fuzzfleet", logFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "state", "fuzzfleet", logFileName))
	}
	return append(paths,
		filepath.Join(".", logFileName),
		filepath.Join(os.TempDir(), "fuzzfleet", logFileName),
	)
}
