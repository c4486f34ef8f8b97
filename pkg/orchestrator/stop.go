// pkg/orchestrator/stop.go
package orchestrator

import (
	"context"
	"strings"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// slot is one recorded (node, pid) pair of a launched task.
type slot struct {
	nodeID uint
	pid    int
}

func liveSlots(task *store.FuzzingTask) []slot {
	var out []slot
	for i, pid := range task.PIDs {
		if pid <= 0 || i >= len(task.NodeIDs) || task.NodeIDs[i] <= 0 {
			continue
		}
		out = append(out, slot{nodeID: uint(task.NodeIDs[i]), pid: int(pid)})
	}
	return out
}

// processGone reports kill output for a pid that no longer exists.
func processGone(res remote.Result) bool {
	return strings.Contains(strings.ToLower(res.Stderr+res.Output), "no such process")
}

// Stop sends SIGTERM to every recorded fuzz process of the task. The task is
// marked stopped and its pids cleared only when every node succeeded.
func (o *Orchestrator) Stop(ctx context.Context, taskID uint) (*store.FuzzingTask, error) {
	ctx, span := telemetry.Start(ctx, "orchestrator.Stop", attribute.Int64("task_id", int64(taskID)))
	defer span.End()

	task, err := o.records.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, classify(err, PhaseStop, taskID)
	}

	var result *multierror.Error
	for _, s := range liveSlots(task) {
		if err := o.stopOne(ctx, taskID, s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return task, err
	}

	task.Status = store.StatusStopped
	task.PIDs, task.NodeIDs = nil, nil
	if err := o.records.Tasks.Save(ctx, task); err != nil {
		return task, err
	}
	o.logger.Info("Task stopped", zap.Uint("task_id", taskID))
	return task, nil
}

func (o *Orchestrator) stopOne(ctx context.Context, taskID uint, s slot) error {
	node, err := o.records.Nodes.Get(ctx, s.nodeID)
	if err != nil {
		return classify(err, PhaseStop, taskID)
	}
	creds := node.Credentials()

	err = withSession(ctx, o.logger, o.dialer, creds, PhaseStop, func(sess remote.Session) error {
		res, err := run(ctx, sess, creds, PhaseStop, engine.StopCommand(s.pid))
		if err != nil {
			return err
		}
		if !res.OK() && !processGone(res) {
			return &TaskError{
				Kind:    ErrStop,
				Phase:   PhaseStop,
				TaskID:  taskID,
				Message: "could not signal the fuzz process",
				Output:  res.Output + res.Stderr,
			}
		}
		o.logger.Info("Fuzz process signalled",
			zap.Uint("task_id", taskID),
			zap.Uint("node_id", s.nodeID),
			zap.Int("pid", s.pid),
			zap.Bool("already_gone", !res.OK()))
		return nil
	})
	return onNode(err, node.ID, node.Address)
}
