package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

// fakeCPUPool derives availability for the "cpu" resource from the
// reservations still held by non-terminal tasks in the swarm, so a
// cancelled task's released reservation is visible through Available()
// without the orchestrator needing its own release bookkeeping.
type fakeCPUPool struct {
	st      *store.Store
	swarmID string
	total   float64
}

func (p *fakeCPUPool) Available(resourceKey string) (float64, bool) {
	if resourceKey != "cpu" {
		return 0, false
	}
	tasks, err := p.st.ListTasksBySwarm(context.Background(), p.swarmID)
	if err != nil {
		return 0, false
	}
	used := 0.0
	for _, t := range tasks {
		if t.Status == domain.TaskCompleted || t.Status == domain.TaskFailed || t.Status == domain.TaskCancelled {
			continue
		}
		for _, r := range t.ResourceRequirements {
			if r.ResourceKey == "cpu" {
				used += r.Amount
			}
		}
	}
	return p.total - used, true
}

func newTestOrchestrator(t *testing.T, resources ResourcePool) (*Orchestrator, *store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.db")
	st, err := store.Open(path, testLogger(), store.Options{}, store.HiveMindMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	swarmID := "sw-1"
	require.NoError(t, st.InsertSwarm(context.Background(), domain.Swarm{
		ID: swarmID, Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
		Status: domain.SwarmActive, MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	o := New(st, nil, logrus.NewEntry(testLogger()), Options{Resources: resources})
	return o, st, swarmID
}

// TestUpdateTask_CompletionInvariant is P1 exercised through the
// orchestrator's own UpdateTask path (store/tasks_test.go exercises the
// same invariant at the persistence layer directly).
func TestUpdateTask_CompletionInvariant(t *testing.T) {
	o, _, swarmID := newTestOrchestrator(t, nil)
	ctx := context.Background()

	task, err := o.CreateTask(ctx, CreateTaskParams{SwarmID: swarmID, Description: "build", Type: "build"})
	require.NoError(t, err)

	progress := 55
	task, err = o.UpdateTask(ctx, task.ID, UpdateTaskParams{Progress: &progress})
	require.NoError(t, err)
	require.Equal(t, 55, task.Progress)

	completed := domain.TaskCompleted
	task, err = o.UpdateTask(ctx, task.ID, UpdateTaskParams{Status: &completed})
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, task.Status)
	require.Equal(t, 100, task.Progress)
	require.NotNil(t, task.CompletedAt)
}

func TestUpdateTask_ClampsProgress(t *testing.T) {
	o, _, swarmID := newTestOrchestrator(t, nil)
	ctx := context.Background()

	task, err := o.CreateTask(ctx, CreateTaskParams{SwarmID: swarmID, Description: "d", Type: "t"})
	require.NoError(t, err)

	over := 150
	task, err = o.UpdateTask(ctx, task.ID, UpdateTaskParams{Progress: &over})
	require.NoError(t, err)
	require.Equal(t, 100, task.Progress)

	under := -10
	task, err = o.UpdateTask(ctx, task.ID, UpdateTaskParams{Progress: &under})
	require.NoError(t, err)
	require.Equal(t, 0, task.Progress)
}

// TestCreateTask_RejectsInsufficientResource checks that a resource
// requirement exceeding the pool's reported availability is rejected
// up front.
func TestCreateTask_RejectsInsufficientResource(t *testing.T) {
	pool := &fakeCPUPool{total: 8}
	o, st, swarmID := newTestOrchestrator(t, pool)
	pool.st, pool.swarmID = st, swarmID

	_, err := o.CreateTask(context.Background(), CreateTaskParams{
		SwarmID: swarmID, Description: "too big", Type: "build",
		ResourceRequirements: []domain.ResourceRequirement{{ResourceKey: "cpu", Amount: 9}},
	})
	require.Error(t, err)
}

// TestCancelTask_CascadesAndReleasesResources is Scenario 6: cancelling a
// parent cancels its subtasks, and the CPU resource's availability returns
// to the full 8 once every reservation is released.
func TestCancelTask_CascadesAndReleasesResources(t *testing.T) {
	pool := &fakeCPUPool{total: 8}
	o, st, swarmID := newTestOrchestrator(t, pool)
	pool.st, pool.swarmID = st, swarmID
	ctx := context.Background()

	parent, err := o.CreateTask(ctx, CreateTaskParams{SwarmID: swarmID, Description: "parent", Type: "build"})
	require.NoError(t, err)

	sub1, err := o.CreateTask(ctx, CreateTaskParams{
		SwarmID: swarmID, ParentTaskID: parent.ID, Description: "s1", Type: "build",
		ResourceRequirements: []domain.ResourceRequirement{{ResourceKey: "cpu", Amount: 1}},
	})
	require.NoError(t, err)

	sub2, err := o.CreateTask(ctx, CreateTaskParams{
		SwarmID: swarmID, ParentTaskID: parent.ID, Description: "s2", Type: "build",
		ResourceRequirements: []domain.ResourceRequirement{{ResourceKey: "cpu", Amount: 1}},
	})
	require.NoError(t, err)

	avail, ok := pool.Available("cpu")
	require.True(t, ok)
	require.Equal(t, 6.0, avail, "2 of 8 cpu units reserved by the two subtasks")

	running := domain.TaskRunning
	_, err = o.UpdateTask(ctx, sub1.ID, UpdateTaskParams{Status: &running})
	require.NoError(t, err)
	_, err = o.UpdateTask(ctx, sub2.ID, UpdateTaskParams{Status: &running})
	require.NoError(t, err)
	_, err = o.UpdateTask(ctx, parent.ID, UpdateTaskParams{Status: &running})
	require.NoError(t, err)

	require.NoError(t, o.CancelTask(ctx, parent.ID, "stopping", true))

	got1, err := st.GetTask(ctx, sub1.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCancelled, got1.Status)

	got2, err := st.GetTask(ctx, sub2.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCancelled, got2.Status)

	gotParent, err := st.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCancelled, gotParent.Status)

	avail, ok = pool.Available("cpu")
	require.True(t, ok)
	require.Equal(t, 8.0, avail, "cancelling both subtasks must release their cpu reservations")
}

func TestCancelTask_AlreadyTerminal_IsNoop(t *testing.T) {
	o, st, swarmID := newTestOrchestrator(t, nil)
	ctx := context.Background()

	task, err := o.CreateTask(ctx, CreateTaskParams{SwarmID: swarmID, Description: "d", Type: "t"})
	require.NoError(t, err)

	completed := domain.TaskCompleted
	_, err = o.UpdateTask(ctx, task.ID, UpdateTaskParams{Status: &completed})
	require.NoError(t, err)

	require.NoError(t, o.CancelTask(ctx, task.ID, "too late", true))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status, "cancelling an already-terminal task must not overwrite its status")
}

func TestDispatch_PicksLowestWorkloadEligibleAgent(t *testing.T) {
	o, st, swarmID := newTestOrchestrator(t, nil)
	ctx := context.Background()

	agents := []domain.Agent{
		{ID: "a-high", SwarmID: swarmID, Name: "a-high", Type: domain.WorkerCoder, Role: domain.RoleWorker, Status: domain.AgentIdle, Capabilities: []string{"coding"}, Workload: 0.9, CreatedAt: time.Now().UTC()},
		{ID: "a-low", SwarmID: swarmID, Name: "a-low", Type: domain.WorkerCoder, Role: domain.RoleWorker, Status: domain.AgentIdle, Capabilities: []string{"coding"}, Workload: 0.1, CreatedAt: time.Now().UTC()},
		{ID: "a-busy", SwarmID: swarmID, Name: "a-busy", Type: domain.WorkerCoder, Role: domain.RoleWorker, Status: domain.AgentBusy, Capabilities: []string{"coding"}, Workload: 0.0, CreatedAt: time.Now().UTC()},
		{ID: "a-wrongcap", SwarmID: swarmID, Name: "a-wrongcap", Type: domain.WorkerAnalyst, Role: domain.RoleWorker, Status: domain.AgentIdle, Capabilities: []string{"analysis"}, Workload: 0.0, CreatedAt: time.Now().UTC()},
	}
	for _, a := range agents {
		require.NoError(t, st.InsertAgent(ctx, a))
	}

	picked, ok, err := o.Dispatch(ctx, swarmID, []string{"coding"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-low", picked.ID, "the idle, capable, lowest-workload agent must be picked over a busier or incapable one")
}

// TestAssignReleaseAgent_WorkloadRatio is P6: recorded workload tracks busy
// time over wall-clock time since the agent's creation, within ±1%.
func TestAssignReleaseAgent_WorkloadRatio(t *testing.T) {
	o, st, swarmID := newTestOrchestrator(t, nil)
	ctx := context.Background()

	created := time.Now().UTC().Add(-200 * time.Millisecond)
	require.NoError(t, st.InsertAgent(ctx, domain.Agent{
		ID: "a-1", SwarmID: swarmID, Name: "a-1", Type: domain.WorkerCoder, Role: domain.RoleWorker,
		Status: domain.AgentIdle, Capabilities: []string{"coding"}, CreatedAt: created,
	}))

	a, err := o.AssignAgent(ctx, "a-1", "t-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentBusy, a.Status)
	require.Contains(t, a.CurrentTasks, "t-1")

	time.Sleep(100 * time.Millisecond)

	a, err = o.ReleaseAgent(ctx, "a-1", "t-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentIdle, a.Status)
	require.NotContains(t, a.CurrentTasks, "t-1")

	wantRatio := float64(a.Metrics.BusyDuration) / float64(a.Metrics.WallDuration)
	require.InDelta(t, wantRatio, a.Workload, 0.01, "recorded workload must match busy/wall ratio within 1%%")
	require.Greater(t, a.Workload, 0.0)
	require.LessOrEqual(t, a.Workload, 1.0)

	got, err := st.GetAgent(ctx, "a-1")
	require.NoError(t, err)
	require.InDelta(t, a.Workload, got.Workload, 0.0001, "workload must round-trip through persistence")
}

func TestDispatch_NoEligibleAgent(t *testing.T) {
	o, _, swarmID := newTestOrchestrator(t, nil)
	_, ok, err := o.Dispatch(context.Background(), swarmID, []string{"coding"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunWorkflow_StartsOnlyDependencySatisfiedTasks(t *testing.T) {
	o, st, swarmID := newTestOrchestrator(t, nil)
	ctx := context.Background()

	root, err := o.CreateTask(ctx, CreateTaskParams{SwarmID: swarmID, Description: "root", Type: "t"})
	require.NoError(t, err)

	blocked, err := o.CreateTask(ctx, CreateTaskParams{
		SwarmID: swarmID, Description: "blocked", Type: "t",
		Dependencies: []domain.TaskDependency{{TaskID: root.ID, Kind: domain.DepFinishToStart}},
	})
	require.NoError(t, err)

	started, err := o.RunWorkflow(ctx, swarmID)
	require.NoError(t, err)
	require.Len(t, started, 1)
	require.Equal(t, root.ID, started[0].ID)

	stillQueued, err := st.GetTask(ctx, blocked.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskQueued, stillQueued.Status)

	completed := domain.TaskCompleted
	_, err = o.UpdateTask(ctx, root.ID, UpdateTaskParams{Status: &completed})
	require.NoError(t, err)

	woken, err := o.WakeDependents(ctx, swarmID)
	require.NoError(t, err)
	require.Len(t, woken, 1)
	require.Equal(t, blocked.ID, woken[0].ID)
}
