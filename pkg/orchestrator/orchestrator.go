// pkg/orchestrator/orchestrator.go

// Package orchestrator drives the remote lifecycle of fuzzing tasks:
// reachability, workspace provisioning, artifact staging, detached launch,
// stop, liveness reconciliation and teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/lock"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/telemetry"
	"github.com/hashicorp/go-multierror"
	"github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune the orchestrator.
type Options struct {
	SharedRoot string
	// ParallelLaunch fans the per-node launch out concurrently. The pid array
	// keeps selection order either way.
	ParallelLaunch bool
	// ProbesPerSecond paces liveness checks during reconciliation. Zero means
	// unlimited.
	ProbesPerSecond float64
}

// Orchestrator is the composition root of the task lifecycle.
type Orchestrator struct {
	records *store.Records
	dialer  remote.Dialer
	locker  lock.Locker
	logger  otelzap.LoggerWithCtx

	mu   sync.Mutex
	opts Options

	prober      *Prober
	provisioner *Provisioner
	stager      *Stager
	launcher    *Launcher
	teardown    *Teardown
}

// New wires the lifecycle components around one dialer. A nil locker
// disables the launch guard.
func New(logger otelzap.LoggerWithCtx, dialer remote.Dialer, records *store.Records, locker lock.Locker, opts Options) *Orchestrator {
	if locker == nil {
		locker = lock.None{}
	}
	return &Orchestrator{
		records:     records,
		dialer:      dialer,
		locker:      locker,
		opts:        opts,
		logger:      logger,
		prober:      NewProber(logger, dialer),
		provisioner: NewProvisioner(logger, dialer),
		stager:      NewStager(logger, dialer),
		launcher:    NewLauncher(logger, dialer),
		teardown:    NewTeardown(logger, dialer),
	}
}

// Workspace resolves the task directory layout under the shared root.
func (o *Orchestrator) Workspace(task *store.FuzzingTask) (engine.Workspace, error) {
	ws, err := engine.NewWorkspace(o.opts.SharedRoot, task.ID, task.Engine)
	if err != nil {
		return engine.Workspace{}, classify(err, PhaseValidation, task.ID)
	}
	return ws, nil
}

func (o *Orchestrator) loadTask(ctx context.Context, taskID uint) (*store.FuzzingTask, *store.BuildArtifact, error) {
	task, err := o.records.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, nil, classify(err, PhaseValidation, taskID)
	}
	build, err := o.records.Builds.Get(ctx, task.BuildID)
	if err != nil {
		return nil, nil, classify(err, PhaseValidation, taskID)
	}
	return task, build, nil
}

// CreateTask stores a new task and initializes it on the shared storage
// target. The record is kept when initialization fails.
func (o *Orchestrator) CreateTask(ctx context.Context, task *store.FuzzingTask) error {
	if !task.Engine.Valid() {
		return newTaskError(ErrInvalidEngine, PhaseValidation, 0, fmt.Sprintf("engine %s is not supported", task.Engine), engine.ErrInvalidEngine)
	}
	if _, err := engine.ParseEnv(task.Environment); err != nil {
		return err
	}
	if _, err := o.records.Builds.Get(ctx, task.BuildID); err != nil {
		return classify(err, PhaseValidation, 0)
	}

	task.Status = store.StatusCreated
	task.CreatedAt = time.Now().UTC()
	task.PIDs, task.NodeIDs = nil, nil
	if err := o.records.Tasks.Add(ctx, task); err != nil {
		return err
	}
	o.logger.Info("Task added", zap.Uint("task_id", task.ID), zap.String("name", task.Name), zap.String("engine", task.Engine.String()))

	return o.Initialize(ctx, task.ID)
}

// Initialize checks that the shared storage target answers, provisions the
// task workspace on it and stages the build into it. Status is left unchanged.
func (o *Orchestrator) Initialize(ctx context.Context, taskID uint) error {
	ctx, span := telemetry.Start(ctx, "orchestrator.Initialize", attribute.Int64("task_id", int64(taskID)))
	defer span.End()

	task, build, err := o.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	ws, err := o.Workspace(task)
	if err != nil {
		return err
	}
	target, err := store.SharedStorage(ctx, o.records.Storage)
	if err != nil {
		return err
	}
	creds := target.Credentials()

	o.logger.Info("Initializing task on shared storage",
		zap.Uint("task_id", taskID),
		zap.String("storage", target.Address),
		zap.String("root", ws.Root))

	if !o.prober.Probe(ctx, creds) {
		return &TaskError{Kind: ErrNodeUnreachable, Phase: PhaseProbe, TaskID: taskID, Address: target.Address,
			Message: "shared storage target is unreachable"}
	}
	if err := o.provisioner.Provision(ctx, creds, ws); err != nil {
		return err
	}
	if err := o.stager.Stage(ctx, creds, build.LocalPath(), ws, build.StoredName); err != nil {
		return err
	}

	o.logger.Info("Task initialized", zap.Uint("task_id", taskID))
	return nil
}

func validateSelection(nodeIDs []uint) error {
	if len(nodeIDs) == 0 {
		return fleet_err.NewValidationError("no nodes selected", "Pass at least one node id with --nodes")
	}
	seen := make(map[uint]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		if seen[id] {
			return fleet_err.NewValidationError(fmt.Sprintf("node %d selected more than once", id))
		}
		seen[id] = true
	}
	return nil
}

// Run launches the task on the selected nodes. Each node is probed,
// provisioned and launched; after every successful launch the pid lands at
// the node's selection index and the record is saved. The first failure
// aborts the run and names the node; earlier nodes are not rolled back.
func (o *Orchestrator) Run(ctx context.Context, taskID uint, nodeIDs []uint) (*store.FuzzingTask, error) {
	if err := validateSelection(nodeIDs); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "orchestrator.Run",
		attribute.Int64("task_id", int64(taskID)),
		attribute.Int("nodes", len(nodeIDs)),
		attribute.Bool("parallel", o.opts.ParallelLaunch))
	defer span.End()

	release, err := o.locker.Acquire(ctx, taskID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, newTaskError(ErrLaunchInProgress, PhaseLaunch, taskID, "", err)
		}
		return nil, err
	}
	defer release()

	task, build, err := o.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ws, err := o.Workspace(task)
	if err != nil {
		return nil, err
	}
	env, err := engine.ParseEnv(task.Environment)
	if err != nil {
		return nil, err
	}

	nodes := make([]*store.Node, len(nodeIDs))
	for i, id := range nodeIDs {
		n, err := o.records.Nodes.Get(ctx, id)
		if err != nil {
			return nil, classify(err, PhaseValidation, taskID)
		}
		nodes[i] = n
	}

	task.PIDs = make(pq.Int64Array, len(nodes))
	task.NodeIDs = make(pq.Int64Array, len(nodes))
	for i, n := range nodes {
		task.NodeIDs[i] = int64(n.ID)
	}

	var mu sync.Mutex
	launchOne := func(ctx context.Context, i int) error {
		node := nodes[i]
		creds := node.Credentials()

		if !o.prober.Probe(ctx, creds) {
			return &TaskError{Kind: ErrNodeUnreachable, Phase: PhaseProbe, TaskID: taskID, NodeID: node.ID, Address: node.Address}
		}
		if err := o.provisioner.Provision(ctx, creds, ws); err != nil {
			return onNode(err, node.ID, node.Address)
		}
		pid, err := o.launcher.Launch(ctx, creds, node.ID, ws, build.StoredName, env)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		task.PIDs[i] = int64(pid)
		task.Status = store.StatusRunning
		if err := o.records.Tasks.Save(ctx, task); err != nil {
			return fmt.Errorf("recording pid %d for node %d: %w", pid, node.ID, err)
		}
		return nil
	}

	if o.opts.ParallelLaunch {
		g, gctx := errgroup.WithContext(ctx)
		for i := range nodes {
			g.Go(func() error { return launchOne(gctx, i) })
		}
		err = g.Wait()
	} else {
		for i := range nodes {
			if err = launchOne(ctx, i); err != nil {
				break
			}
		}
	}
	if err != nil {
		o.logger.Error("Task run aborted", zap.Uint("task_id", taskID), zap.Error(err))
		return task, err
	}

	o.logger.Info("Task running",
		zap.Uint("task_id", taskID),
		zap.Int64s("pids", task.PIDs),
		zap.Int64s("node_ids", task.NodeIDs))
	return task, nil
}

// Delete tears the workspace down on the shared storage target and on every
// known node, without probing first. The record is removed only when every
// teardown succeeded, or unconditionally with force.
func (o *Orchestrator) Delete(ctx context.Context, taskID uint, force bool) error {
	ctx, span := telemetry.Start(ctx, "orchestrator.Delete",
		attribute.Int64("task_id", int64(taskID)),
		attribute.Bool("force", force))
	defer span.End()

	task, err := o.records.Tasks.Get(ctx, taskID)
	if err != nil {
		return classify(err, PhaseValidation, taskID)
	}
	ws, err := o.Workspace(task)
	if err != nil {
		return err
	}

	var result *multierror.Error

	if target, err := store.SharedStorage(ctx, o.records.Storage); err != nil {
		result = multierror.Append(result, err)
	} else if err := o.teardown.Remove(ctx, target.Credentials(), ws); err != nil {
		result = multierror.Append(result, err)
	}

	nodes, err := o.records.Nodes.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := o.teardown.Remove(ctx, n.Credentials(), ws); err != nil {
			result = multierror.Append(result, onNode(err, n.ID, n.Address))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		if !force {
			return err
		}
		o.logger.Warn("Teardown incomplete, removing task anyway", zap.Uint("task_id", taskID), zap.Error(err))
	}

	if err := o.records.Tasks.Remove(ctx, task); err != nil {
		return err
	}
	o.logger.Info("Task deleted", zap.Uint("task_id", taskID))
	return nil
}
