package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/lock"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t       *testing.T
	dialer  *fakeDialer
	records *store.Records
	orch    *Orchestrator
	task    *store.FuzzingTask
	nodes   []store.Node
}

func newFixture(t *testing.T, e engine.Engine, nodeCount int, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()

	d := newFakeDialer()
	recs := store.NewMemoryRecords()

	require.NoError(t, store.SetSharedStorage(ctx, recs.Storage, &store.SharedStorageTarget{Address: "nfs", Username: "fuzz", Password: "pw"}))
	d.host("nfs").listing = "in\nout\n"

	build := &store.BuildArtifact{Directory: "/var/lib/fuzzfleet/builds", StoredName: "abc.bin", OriginalName: "png_fuzzer"}
	require.NoError(t, recs.Builds.Add(ctx, build))

	task := &store.FuzzingTask{Name: "png", Engine: e, BuildID: build.ID, Status: store.StatusCreated, CreatedAt: time.Now()}
	require.NoError(t, recs.Tasks.Add(ctx, task))

	f := &fixture{t: t, dialer: d, records: recs, task: task}
	for i := 1; i <= nodeCount; i++ {
		n := &store.Node{Address: fmt.Sprintf("10.0.0.%d", i), Username: "fuzz", Password: "pw"}
		require.NoError(t, recs.Nodes.Add(ctx, n))
		h := d.host(n.Address)
		h.listing = "in\nout\n"
		h.pidOutput = fmt.Sprintf("%d\n", 1000+i)
		f.nodes = append(f.nodes, *n)
	}

	if opts.SharedRoot == "" {
		opts.SharedRoot = "/mnt/shared"
	}
	f.orch = New(testLogger(t), d, recs, nil, opts)
	return f
}

func (f *fixture) reload() *store.FuzzingTask {
	f.t.Helper()
	task, err := f.records.Tasks.Get(context.Background(), f.task.ID)
	require.NoError(f.t, err)
	return task
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, engine.AFL, 0, Options{})

	require.NoError(t, f.orch.Initialize(context.Background(), f.task.ID))

	root := fmt.Sprintf("/mnt/shared/task%d-afl/", f.task.ID)
	cmds := f.dialer.Commands("nfs")
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[0], "mkdir -p "+root)
	assert.Equal(t, "ls "+root, cmds[1])
	assert.Equal(t, "chmod +x "+root+"abc.bin && ls -l "+root+"abc.bin", cmds[2])
	assert.Equal(t, []string{"/var/lib/fuzzfleet/builds/abc.bin -> " + root + "abc.bin"}, f.dialer.uploads["nfs"])
	assert.Equal(t, store.StatusCreated, f.reload().Status)
}

func TestInitialize_StorageUnreachable(t *testing.T) {
	f := newFixture(t, engine.AFL, 0, Options{})
	f.dialer.host("nfs").down = true

	err := f.orch.Initialize(context.Background(), f.task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeUnreachable))
	var te *TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, PhaseProbe, te.Phase)
	assert.Equal(t, "nfs", te.Address)
	assert.Empty(t, f.dialer.Commands("nfs"))
	assert.Empty(t, f.dialer.uploads["nfs"])
}

func TestInitialize_NoStorage(t *testing.T) {
	f := newFixture(t, engine.AFL, 0, Options{})
	targets, _ := f.records.Storage.List(context.Background())
	require.NoError(t, f.records.Storage.Remove(context.Background(), &targets[0]))

	err := f.orch.Initialize(context.Background(), f.task.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.LibFuzzer, 0, Options{})
	f.dialer.host("nfs").listing = "in\n"

	task := &store.FuzzingTask{Name: "json", Engine: engine.LibFuzzer, BuildID: f.task.BuildID, Environment: "ASAN_OPTIONS=halt_on_error=1"}
	require.NoError(t, f.orch.CreateTask(ctx, task))
	assert.NotZero(t, task.ID)

	got, err := f.records.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCreated, got.Status)
	assert.NotEmpty(t, f.dialer.uploads["nfs"])
}

func TestCreateTask_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.AFL, 0, Options{})

	err := f.orch.CreateTask(ctx, &store.FuzzingTask{Name: "x", BuildID: f.task.BuildID})
	assert.True(t, errors.Is(err, ErrInvalidEngine))

	err = f.orch.CreateTask(ctx, &store.FuzzingTask{Name: "x", Engine: engine.AFL, BuildID: 999})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = f.orch.CreateTask(ctx, &store.FuzzingTask{Name: "x", Engine: engine.AFL, BuildID: f.task.BuildID, Environment: "not-an-assignment"})
	assert.Equal(t, fleet_err.CategoryValidation, fleet_err.CategoryOf(err))

	assert.Zero(t, f.dialer.TotalCommands())
	tasks, _ := f.records.Tasks.List(ctx)
	assert.Len(t, tasks, 1)
}

func TestRun_PIDsFollowSelectionOrder(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			f := newFixture(t, engine.AFL, 3, Options{ParallelLaunch: parallel})

			selection := []uint{f.nodes[2].ID, f.nodes[0].ID, f.nodes[1].ID}
			task, err := f.orch.Run(context.Background(), f.task.ID, selection)
			require.NoError(t, err)

			want := pq.Int64Array{1003, 1001, 1002}
			assert.Equal(t, want, task.PIDs)

			saved := f.reload()
			assert.Equal(t, store.StatusRunning, saved.Status)
			assert.Equal(t, want, saved.PIDs)
			assert.Equal(t, pq.Int64Array{int64(selection[0]), int64(selection[1]), int64(selection[2])}, saved.NodeIDs)
			assert.Zero(t, f.dialer.OpenSessions())

			for _, n := range f.nodes {
				cmds := f.dialer.Commands(n.Address)
				require.Len(t, cmds, 4)
				assert.Contains(t, cmds[2], fmt.Sprintf("-M node%d -b 0 --", n.ID))
			}
		})
	}
}

func TestRun_AbortsAtFirstFailingNode(t *testing.T) {
	f := newFixture(t, engine.AFL, 3, Options{})
	f.dialer.host(f.nodes[1].Address).down = true

	_, err := f.orch.Run(context.Background(), f.task.ID, []uint{f.nodes[0].ID, f.nodes[1].ID, f.nodes[2].ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeUnreachable))

	var te *TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, f.nodes[1].ID, te.NodeID)
	assert.Equal(t, f.nodes[1].Address, te.Address)

	assert.Empty(t, f.dialer.Commands(f.nodes[2].Address), "nodes after the failure are not touched")

	saved := f.reload()
	assert.Equal(t, store.StatusRunning, saved.Status)
	assert.Equal(t, pq.Int64Array{1001, 0, 0}, saved.PIDs, "earlier nodes are not rolled back")
}

func TestRun_NodeLostBetweenProbeAndLaunch(t *testing.T) {
	f := newFixture(t, engine.AFL, 1, Options{})
	// probe and provision succeed, the pre-launch probe does not
	f.dialer.host(f.nodes[0].Address).downAfter = 2

	_, err := f.orch.Run(context.Background(), f.task.ID, []uint{f.nodes[0].ID})
	assert.True(t, errors.Is(err, ErrNodeUnreachable))
	assert.False(t, errors.Is(err, ErrLaunch))
	assert.Equal(t, store.StatusCreated, f.reload().Status)
}

func TestRun_BadPIDFails(t *testing.T) {
	f := newFixture(t, engine.LibFuzzer, 2, Options{})
	f.dialer.host(f.nodes[1].Address).pidOutput = ""

	task, err := f.orch.Run(context.Background(), f.task.ID, []uint{f.nodes[0].ID, f.nodes[1].ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLaunch))
	assert.Equal(t, pq.Int64Array{1001, 0}, task.PIDs)
}

func TestRun_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.AFL, 1, Options{})

	_, err := f.orch.Run(ctx, f.task.ID, nil)
	assert.Equal(t, fleet_err.CategoryValidation, fleet_err.CategoryOf(err))

	_, err = f.orch.Run(ctx, f.task.ID, []uint{f.nodes[0].ID, f.nodes[0].ID})
	assert.Equal(t, fleet_err.CategoryValidation, fleet_err.CategoryOf(err))

	_, err = f.orch.Run(ctx, f.task.ID, []uint{f.nodes[0].ID, 77})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.orch.Run(ctx, 999, []uint{f.nodes[0].ID})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Zero(t, f.dialer.TotalCommands())
}

func TestRun_InvalidStoredEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.AFL, 1, Options{})
	f.task.Engine = engine.Engine(0)
	require.NoError(t, f.records.Tasks.Save(ctx, f.task))

	_, err := f.orch.Run(ctx, f.task.ID, []uint{f.nodes[0].ID})
	assert.True(t, errors.Is(err, ErrInvalidEngine))
	assert.Zero(t, f.dialer.TotalCommands())
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, uint) (func(), error) {
	return nil, fmt.Errorf("task: %w", lock.ErrHeld)
}

func TestRun_LaunchGuard(t *testing.T) {
	f := newFixture(t, engine.AFL, 1, Options{})
	f.orch.locker = heldLocker{}

	_, err := f.orch.Run(context.Background(), f.task.ID, []uint{f.nodes[0].ID})
	assert.True(t, errors.Is(err, ErrLaunchInProgress))
	assert.Zero(t, f.dialer.TotalCommands())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.LibFuzzer, 2, Options{})
	f.dialer.host(f.nodes[1].Address).down = true

	root := fmt.Sprintf("rm -rf /mnt/shared/task%d-libfuzzer/", f.task.ID)

	err := f.orch.Delete(ctx, f.task.ID, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, []string{root}, f.dialer.Commands("nfs"))
	assert.Equal(t, []string{root}, f.dialer.Commands(f.nodes[0].Address))
	f.reload()

	require.NoError(t, f.orch.Delete(ctx, f.task.ID, true))
	_, err = f.records.Tasks.Get(ctx, f.task.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = f.orch.Delete(ctx, f.task.ID, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDelete_AllHostsSucceed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.AFL, 1, Options{})

	require.NoError(t, f.orch.Delete(ctx, f.task.ID, false))
	_, err := f.records.Tasks.Get(ctx, f.task.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Zero(t, f.dialer.OpenSessions())
}

func runTask(t *testing.T, f *fixture) {
	t.Helper()
	ids := make([]uint, len(f.nodes))
	for i, n := range f.nodes {
		ids[i] = n.ID
	}
	_, err := f.orch.Run(context.Background(), f.task.ID, ids)
	require.NoError(t, err)
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.AFL, 2, Options{})
	runTask(t, f)

	f.dialer.host(f.nodes[1].Address).killExit = 1
	f.dialer.host(f.nodes[1].Address).killErr = "kill: (1002) - Operation not permitted"

	_, err := f.orch.Stop(ctx, f.task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStop))
	assert.Equal(t, store.StatusRunning, f.reload().Status)

	f.dialer.host(f.nodes[1].Address).killErr = "kill: (1002) - No such process"
	task, err := f.orch.Stop(ctx, f.task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, task.Status)

	saved := f.reload()
	assert.Equal(t, store.StatusStopped, saved.Status)
	assert.Empty(t, saved.PIDs)
	assert.Empty(t, saved.NodeIDs)

	cmds := f.dialer.Commands(f.nodes[0].Address)
	assert.Equal(t, "kill 1001", cmds[len(cmds)-1])
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("all dead", func(t *testing.T) {
		f := newFixture(t, engine.AFL, 2, Options{ProbesPerSecond: 1000})
		runTask(t, f)

		summary, err := f.orch.Reconcile(ctx)
		require.NoError(t, err)
		require.Len(t, summary, 1)
		assert.Equal(t, TaskLiveness{TaskID: f.task.ID, Dead: 2, Status: store.StatusStopped}, summary[0])
		assert.Equal(t, store.StatusStopped, f.reload().Status)
	})

	t.Run("one alive", func(t *testing.T) {
		f := newFixture(t, engine.AFL, 2, Options{})
		runTask(t, f)
		f.dialer.host(f.nodes[0].Address).alive = true

		summary, err := f.orch.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, TaskLiveness{TaskID: f.task.ID, Alive: 1, Dead: 1, Status: store.StatusRunning}, summary[0])
		assert.Equal(t, store.StatusRunning, f.reload().Status)
	})

	t.Run("unreachable keeps status", func(t *testing.T) {
		f := newFixture(t, engine.AFL, 2, Options{})
		runTask(t, f)
		f.dialer.host(f.nodes[1].Address).down = true

		summary, err := f.orch.Reconcile(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnection))
		assert.Equal(t, TaskLiveness{TaskID: f.task.ID, Dead: 1, Unreachable: 1, Status: store.StatusRunning}, summary[0])
		assert.Equal(t, store.StatusRunning, f.reload().Status)
	})

	t.Run("ignores tasks not running", func(t *testing.T) {
		f := newFixture(t, engine.AFL, 1, Options{})
		summary, err := f.orch.Reconcile(ctx)
		require.NoError(t, err)
		assert.Empty(t, summary)
		assert.Zero(t, f.dialer.TotalCommands())
	})
}

func TestReconcileEvery_StopsOnCancel(t *testing.T) {
	f := newFixture(t, engine.AFL, 1, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	passes := 0
	err := f.orch.ReconcileEvery(ctx, time.Millisecond, func(_ []TaskLiveness, _ error) {
		passes++
		if passes == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, passes, 3)
}

func TestPingAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, engine.AFL, 2, Options{})
	f.dialer.host(f.nodes[1].Address).down = true

	states, err := f.orch.PingAll(ctx)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.True(t, states[0].Reachable)
	assert.False(t, states[1].Reachable)
	assert.Equal(t, store.KindStorage, states[2].Kind)
	assert.True(t, states[2].Reachable)

	n1, err := f.records.Nodes.Get(ctx, f.nodes[1].ID)
	require.NoError(t, err)
	require.NotNil(t, n1.Connected)
	assert.False(t, *n1.Connected)
	assert.NotNil(t, n1.CheckedAt)

	target, err := store.SharedStorage(ctx, f.records.Storage)
	require.NoError(t, err)
	require.NotNil(t, target.LastState)
	assert.True(t, *target.LastState)
	assert.Zero(t, f.dialer.OpenSessions())
}
