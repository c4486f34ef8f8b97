// pkg/orchestrator/errors.go
package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
)

// Error kinds. Every *TaskError matches exactly one of these with errors.Is.
var (
	ErrConnection       = remote.ErrConnection
	ErrTransfer         = remote.ErrTransfer
	ErrProvision        = errors.New("workspace provisioning failed")
	ErrLaunch           = errors.New("launch failed")
	ErrInvalidEngine    = engine.ErrInvalidEngine
	ErrNotFound         = store.ErrNotFound
	ErrNodeUnreachable  = errors.New("node unreachable")
	ErrTeardown         = errors.New("teardown failed")
	ErrLaunchInProgress = errors.New("launch already in progress")
	ErrStop             = errors.New("stop failed")
)

// Phase is the step of the task lifecycle where an error occurred.
type Phase string

const (
	PhaseValidation Phase = "validation"
	PhaseProbe      Phase = "probe"
	PhaseProvision  Phase = "provision"
	PhaseStage      Phase = "stage"
	PhaseLaunch     Phase = "launch"
	PhaseTeardown   Phase = "teardown"
	PhaseStop       Phase = "stop"
	PhaseReconcile  Phase = "reconcile"
)

// TaskError names the node and phase that failed and carries any remote
// output useful for diagnosis.
type TaskError struct {
	Kind    error
	Phase   Phase
	TaskID  uint
	NodeID  uint
	Address string
	Message string
	Output  string
	Cause   error
}

func (e *TaskError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s failed", e.Phase))
	if e.TaskID != 0 {
		sb.WriteString(fmt.Sprintf(" for task %d", e.TaskID))
	}
	switch {
	case e.NodeID != 0:
		sb.WriteString(fmt.Sprintf(" on node %d (%s)", e.NodeID, e.Address))
	case e.Address != "":
		sb.WriteString(fmt.Sprintf(" on %s", e.Address))
	}
	sb.WriteString(": ")
	if e.Message != "" {
		sb.WriteString(e.Message)
	} else {
		sb.WriteString(e.Kind.Error())
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString(fmt.Sprintf("\nRemote output:\n%s", out))
	}
	if fix := e.remediation(); fix != "" {
		sb.WriteString(fmt.Sprintf("\nSuggested fix: %s", fix))
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func (e *TaskError) remediation() string {
	msg := ""
	if e.Cause != nil {
		msg = e.Cause.Error()
	}
	switch {
	case errors.Is(e.Kind, ErrNodeUnreachable):
		return "Check that the node is up and sshd is listening, then rerun 'fuzzfleet inspect ping'"
	case errors.Is(e.Kind, ErrLaunchInProgress):
		return "Wait for the other launch to finish or for the redis lock to expire"
	case strings.Contains(msg, "unable to authenticate"):
		return "Verify the username and password stored for this host"
	case strings.Contains(msg, "connection refused"):
		return "Check that sshd is running and the port is correct (ssh.port)"
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "i/o timeout"):
		return "Check network connectivity or raise ssh.connect_timeout / ssh.command_timeout"
	case strings.Contains(e.Output, "Permission denied"), strings.Contains(msg, "permission denied"):
		return "Make sure the remote user can write to shared_root"
	case strings.Contains(e.Output, "command not found"):
		return "Install the fuzzing engine on the node"
	}
	return ""
}

func newTaskError(kind error, phase Phase, taskID uint, msg string, cause error) *TaskError {
	return &TaskError{Kind: kind, Phase: phase, TaskID: taskID, Message: msg, Cause: cause}
}

// onNode attaches the failing host to err when err is a *TaskError.
func onNode(err error, nodeID uint, address string) error {
	var te *TaskError
	if errors.As(err, &te) {
		te.NodeID = nodeID
		te.Address = address
		return te
	}
	return err
}

// classify maps store and engine errors onto task error kinds.
func classify(err error, phase Phase, taskID uint) error {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newTaskError(ErrNotFound, phase, taskID, "", err)
	case errors.Is(err, engine.ErrInvalidEngine):
		return newTaskError(ErrInvalidEngine, phase, taskID, "", err)
	}
	return err
}
