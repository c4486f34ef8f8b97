package engine

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

const (
	inDir     = "in"
	outDir    = "out"
	logFile   = "output.log"
	pidFile   = "fuzz.pid"
	seedFile  = "1.txt"
	seedValue = "AAAAA"
)

// Workspace is the conventional per-task directory tree under the shared
// root. Directory paths end with a slash.
type Workspace struct {
	Engine  Engine
	TaskID  uint
	Root    string
	In      string
	Out     string
	Log     string
	PIDFile string
}

// NewWorkspace computes the workspace for a task. It fails for an invalid
// engine before anything touches a remote host.
func NewWorkspace(sharedRoot string, taskID uint, e Engine) (Workspace, error) {
	if !e.Valid() {
		return Workspace{}, &fleet_err.ClassifiedError{
			Category: fleet_err.CategoryValidation,
			Message:  fmt.Sprintf("no workspace layout for engine %s", e),
			Cause:    ErrInvalidEngine,
		}
	}
	if !path.IsAbs(sharedRoot) {
		return Workspace{}, fleet_err.NewValidationError(fmt.Sprintf("shared root %q must be an absolute path", sharedRoot))
	}
	if err := checkQuotable(sharedRoot); err != nil {
		return Workspace{}, err
	}

	root := path.Join(sharedRoot, fmt.Sprintf("task%d-%s", taskID, e.Tag())) + "/"
	ws := Workspace{
		Engine:  e,
		TaskID:  taskID,
		Root:    root,
		In:      root + inDir + "/",
		PIDFile: root + pidFile,
	}
	switch e {
	case AFL:
		ws.Out = root + outDir + "/"
	case LibFuzzer:
		ws.Log = root + logFile
	}
	return ws, nil
}

// RequiredDirs lists the subdirectory names a provisioned workspace must hold.
func (w Workspace) RequiredDirs() []string {
	if w.Engine == AFL {
		return []string{inDir, outDir}
	}
	return []string{inDir}
}

// ProvisionCommand creates the root and the engine subdirectories in one
// compound command. AFL also gets a seed input, since afl-fuzz refuses an
// empty input directory.
func (w Workspace) ProvisionCommand() string {
	parts := []string{
		"mkdir -p " + quote(w.Root),
		"mkdir -p " + quote(w.In),
	}
	if w.Engine == AFL {
		seed := quote(w.In + seedFile)
		parts = append(parts,
			"mkdir -p "+quote(w.Out),
			fmt.Sprintf("(test -e %s || echo %s > %s)", seed, seedValue, seed),
		)
	}
	return strings.Join(parts, " && ")
}

// ListCommand lists the workspace root.
func (w Workspace) ListCommand() string {
	return "ls " + quote(w.Root)
}

// MissingDirs reports which required names are absent from an ls listing.
func (w Workspace) MissingDirs(listing string) []string {
	present := make(map[string]bool)
	for _, f := range strings.Fields(listing) {
		present[strings.TrimSuffix(f, "/")] = true
	}
	var missing []string
	for _, name := range w.RequiredDirs() {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// ArtifactPath is where the staged build lives inside the workspace.
func (w Workspace) ArtifactPath(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", fleet_err.NewValidationError(fmt.Sprintf("invalid artifact file name %q", name))
	}
	if err := checkQuotable(name); err != nil {
		return "", err
	}
	return w.Root + name, nil
}

// StageCheckCommand marks the staged artifact executable and lists it.
func StageCheckCommand(remotePath string) string {
	p := quote(remotePath)
	return fmt.Sprintf("chmod +x %s && ls -l %s", p, p)
}

// FuzzCommand is the bare engine invocation, without detaching.
func (w Workspace) FuzzCommand(nodeID uint, artifactName string) (string, error) {
	artifact, err := w.ArtifactPath(artifactName)
	if err != nil {
		return "", err
	}
	switch w.Engine {
	case AFL:
		return fmt.Sprintf("afl-fuzz -i %s -o %s -M node%d -b 0 -- %s",
			quote(w.In), quote(w.Out), nodeID, quote(artifact)), nil
	default:
		return fmt.Sprintf("%s %s", quote(artifact), quote(w.In)), nil
	}
}

// LaunchCommand runs the fuzz command detached from the session and writes
// its pid to the workspace pid file. env holds KEY=VALUE assignments.
func (w Workspace) LaunchCommand(nodeID uint, artifactName string, env []string) (string, error) {
	fuzz, err := w.FuzzCommand(nodeID, artifactName)
	if err != nil {
		return "", err
	}

	prefix, err := envPrefix(env)
	if err != nil {
		return "", err
	}

	sink := "/dev/null"
	if w.Engine == LibFuzzer {
		sink = quote(w.Log)
	}
	return fmt.Sprintf("nohup %s%s > %s 2>&1 & echo $! > %s", prefix, fuzz, sink, quote(w.PIDFile)), nil
}

// ReadPIDCommand prints the recorded pid.
func (w Workspace) ReadPIDCommand() string {
	return "cat " + quote(w.PIDFile)
}

// TeardownCommand removes the whole workspace. rm -rf on a missing path
// exits zero, so repeated teardown succeeds.
func (w Workspace) TeardownCommand() string {
	return "rm -rf " + quote(w.Root)
}

// StopCommand signals a fuzz process to terminate.
func StopCommand(pid int) string {
	return "kill " + strconv.Itoa(pid)
}

// AliveCommand exits zero iff pid is a live process.
func AliveCommand(pid int) string {
	return "kill -0 " + strconv.Itoa(pid)
}

// ParsePID parses pid file contents. Empty, non-numeric and non-positive
// values are rejected.
func ParsePID(output string) (int, error) {
	s := strings.TrimSpace(output)
	if s == "" {
		return 0, fmt.Errorf("pid file is empty")
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("pid file content %q is not a number", s)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid %d is not a valid process id", pid)
	}
	return pid, nil
}

// ParseEnv splits a task environment string into KEY=VALUE words using shell
// word rules. Values must be literal: parameter, command and arithmetic
// expansions are rejected rather than resolved.
func ParseEnv(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if err := rejectExpansions(s); err != nil {
		return nil, err
	}
	words, err := shell.Fields(s, func(string) string { return "" })
	if err != nil {
		return nil, fleet_err.NewValidationError(fmt.Sprintf("invalid environment string: %v", err))
	}
	for _, w := range words {
		if _, _, err := splitAssignment(w); err != nil {
			return nil, err
		}
	}
	return words, nil
}

func rejectExpansions(s string) error {
	var found []string
	err := syntax.NewParser().Words(strings.NewReader(s), func(w *syntax.Word) bool {
		syntax.Walk(w, func(node syntax.Node) bool {
			switch n := node.(type) {
			case *syntax.ParamExp:
				found = append(found, "$"+n.Param.Value)
			case *syntax.CmdSubst:
				found = append(found, "$(...)")
			case *syntax.ArithmExp:
				found = append(found, "$((...))")
			case *syntax.ProcSubst:
				found = append(found, "<(...)")
			}
			return true
		})
		return true
	})
	if err != nil {
		return fleet_err.NewValidationError(fmt.Sprintf("invalid environment string: %v", err))
	}
	if len(found) > 0 {
		return fleet_err.NewValidationError(
			fmt.Sprintf("environment string uses %s; only literal values are allowed", strings.Join(found, ", ")),
			"Write the value itself, or single-quote it to keep a literal $",
		)
	}
	return nil
}

func envPrefix(env []string) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	parts := []string{"env"}
	for _, kv := range env {
		key, value, err := splitAssignment(kv)
		if err != nil {
			return "", err
		}
		if err := checkQuotable(value); err != nil {
			return "", err
		}
		parts = append(parts, key+"="+quote(value))
	}
	return strings.Join(parts, " ") + " ", nil
}

func splitAssignment(kv string) (string, string, error) {
	key, value, ok := strings.Cut(kv, "=")
	if !ok || !syntax.ValidName(key) {
		return "", "", fleet_err.NewValidationError(
			fmt.Sprintf("environment entry %q is not a KEY=VALUE assignment", kv),
			"Write the environment as space separated KEY=VALUE pairs, e.g. AFL_SKIP_CPUFREQ=1",
		)
	}
	return key, value, nil
}

func checkQuotable(s string) error {
	if _, err := syntax.Quote(s, syntax.LangPOSIX); err != nil {
		return fleet_err.NewValidationError(fmt.Sprintf("value %q cannot be used in a remote command: %v", s, err))
	}
	return nil
}

// quote must only see values that passed checkQuotable or are derived from
// them by appending fixed ASCII suffixes.
func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		panic(fmt.Sprintf("engine: unquotable value reached command builder: %q", s))
	}
	return q
}
