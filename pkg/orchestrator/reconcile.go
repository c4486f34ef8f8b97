// pkg/orchestrator/reconcile.go
package orchestrator

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TaskLiveness summarizes one reconciled task.
type TaskLiveness struct {
	TaskID      uint   `yaml:"task_id"`
	Alive       int    `yaml:"alive"`
	Dead        int    `yaml:"dead"`
	Unreachable int    `yaml:"unreachable"`
	Status      string `yaml:"status"`
}

func (o *Orchestrator) limiter() *rate.Limiter {
	o.mu.Lock()
	pps := o.opts.ProbesPerSecond
	o.mu.Unlock()
	if pps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(pps), 1)
}

// SetProbesPerSecond changes the reconcile probe rate from the next pass on.
func (o *Orchestrator) SetProbesPerSecond(pps float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.ProbesPerSecond = pps
}

// Reconcile checks every running task's recorded pids. A task whose
// processes are all gone becomes stopped. Nodes that cannot be reached leave
// the task untouched and are reported in the returned error.
func (o *Orchestrator) Reconcile(ctx context.Context) ([]TaskLiveness, error) {
	ctx, span := telemetry.Start(ctx, "orchestrator.Reconcile")
	defer span.End()

	tasks, err := o.records.Tasks.List(ctx)
	if err != nil {
		return nil, err
	}

	limiter := o.limiter()
	var (
		result  *multierror.Error
		summary []TaskLiveness
	)
	for i := range tasks {
		task := &tasks[i]
		if task.Status != store.StatusRunning {
			continue
		}

		live := TaskLiveness{TaskID: task.ID}
		for _, s := range liveSlots(task) {
			if err := limiter.Wait(ctx); err != nil {
				return summary, err
			}
			alive, err := o.alive(ctx, task.ID, s)
			switch {
			case err != nil:
				live.Unreachable++
				result = multierror.Append(result, err)
			case alive:
				live.Alive++
			default:
				live.Dead++
			}
		}

		if live.Alive == 0 && live.Unreachable == 0 {
			task.Status = store.StatusStopped
			task.PIDs, task.NodeIDs = nil, nil
			if err := o.records.Tasks.Save(ctx, task); err != nil {
				result = multierror.Append(result, err)
			} else {
				o.logger.Info("Task no longer running", zap.Uint("task_id", task.ID), zap.Int("dead", live.Dead))
			}
		}
		live.Status = task.Status
		summary = append(summary, live)
	}

	span.SetAttributes(attribute.Int("tasks", len(summary)))
	return summary, result.ErrorOrNil()
}

func (o *Orchestrator) alive(ctx context.Context, taskID uint, s slot) (bool, error) {
	node, err := o.records.Nodes.Get(ctx, s.nodeID)
	if err != nil {
		return false, classify(err, PhaseReconcile, taskID)
	}
	creds := node.Credentials()

	var alive bool
	err = withSession(ctx, o.logger, o.dialer, creds, PhaseReconcile, func(sess remote.Session) error {
		res, err := run(ctx, sess, creds, PhaseReconcile, engine.AliveCommand(s.pid))
		if err != nil {
			return err
		}
		alive = res.OK()
		return nil
	})
	if err != nil {
		return false, onNode(err, node.ID, node.Address)
	}
	o.logger.Debug("Liveness checked",
		zap.Uint("task_id", taskID),
		zap.Uint("node_id", s.nodeID),
		zap.Int("pid", s.pid),
		zap.Bool("alive", alive))
	return alive, nil
}

// ReconcileEvery runs Reconcile on a ticker until ctx is done. Errors from a
// single pass are handed to report and do not stop the loop.
func (o *Orchestrator) ReconcileEvery(ctx context.Context, interval time.Duration, report func([]TaskLiveness, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report(o.Reconcile(ctx))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
