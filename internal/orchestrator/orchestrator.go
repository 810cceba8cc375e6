// Package orchestrator implements the Orchestrator (spec.md §4.8, C8): task
// lifecycle, dependency-aware workflow execution, and capability/workload
// dispatch.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/sanitize"
	"github.com/hive-mind/hivecore/internal/store"
)

const defaultMaxConcurrentTasks = 10

// CreateTaskParams is the validated input to CreateTask.
type CreateTaskParams struct {
	SwarmID              string
	ParentTaskID         string
	Description          string
	Type                 string
	Priority             int
	Dependencies         []domain.TaskDependency
	ResourceRequirements []domain.ResourceRequirement
	Schedule             domain.TaskSchedule
	Tags                 []string
	Metadata             domain.TaskMetadata
}

// ResourcePool reports availability for a named resource so CreateTask can
// validate resource requirements (spec.md §4.8: "every resource requirement
// resolves to a known resource with sufficient availability").
type ResourcePool interface {
	Available(resourceKey string) (float64, bool)
}

// Orchestrator is the C8 component.
type Orchestrator struct {
	st                 *store.Store
	rt                 *runtime.Runtime
	log                *logrus.Entry
	sanitize           *sanitize.Sanitizer
	resources          ResourcePool
	maxConcurrentTasks int

	mu          sync.Mutex
	busyStarted map[string]time.Time
}

// Options configures the Orchestrator.
type Options struct {
	MaxConcurrentTasks int
	Resources          ResourcePool
}

// New builds an Orchestrator over an already-open Store.
func New(st *store.Store, rt *runtime.Runtime, log *logrus.Entry, opts Options) *Orchestrator {
	max := opts.MaxConcurrentTasks
	if max <= 0 {
		max = defaultMaxConcurrentTasks
	}
	return &Orchestrator{
		st: st, rt: rt, log: log, sanitize: sanitize.New(), resources: opts.Resources, maxConcurrentTasks: max,
		busyStarted: make(map[string]time.Time),
	}
}

// CreateTask validates dependencies and resource requirements, inserts a
// queued task, and updates the parent's subtask list if set (spec.md §4.8
// createTask()).
func (o *Orchestrator) CreateTask(ctx context.Context, p CreateTaskParams) (domain.Task, error) {
	for _, dep := range p.Dependencies {
		if _, err := o.st.GetTask(ctx, dep.TaskID); err != nil {
			return domain.Task{}, errs.New(errs.KindValidation, "orchestrator", fmt.Sprintf("unknown dependency task %q", dep.TaskID))
		}
	}
	if o.resources != nil {
		for _, req := range p.ResourceRequirements {
			avail, ok := o.resources.Available(req.ResourceKey)
			if !ok {
				return domain.Task{}, errs.New(errs.KindValidation, "orchestrator", fmt.Sprintf("unknown resource %q", req.ResourceKey))
			}
			if avail < req.Amount {
				return domain.Task{}, errs.New(errs.KindValidation, "orchestrator", fmt.Sprintf("insufficient availability for resource %q", req.ResourceKey))
			}
		}
	}

	p.Description = o.sanitize.Text(p.Description)

	t := domain.Task{
		ID:                   uuid.NewString(),
		SwarmID:              p.SwarmID,
		ParentTaskID:         p.ParentTaskID,
		Dependencies:         p.Dependencies,
		Description:          p.Description,
		Type:                 p.Type,
		Priority:             p.Priority,
		Status:               domain.TaskQueued,
		Progress:             0,
		ResourceRequirements: p.ResourceRequirements,
		Schedule:             p.Schedule,
		Tags:                 p.Tags,
		Metadata:             p.Metadata,
		CreatedAt:            time.Now().UTC(),
	}
	if err := o.st.InsertTask(ctx, t); err != nil {
		return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "insert task", err)
	}

	if p.ParentTaskID != "" {
		parent, err := o.st.GetTask(ctx, p.ParentTaskID)
		if err != nil {
			return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "load parent task", err)
		}
		parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
		if err := o.st.UpdateTask(ctx, parent); err != nil {
			return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "update parent subtasks", err)
		}
	}

	o.emit(events.TaskCreated, t.SwarmID, t.ID, t.Status)
	return t, nil
}

// UpdateTaskParams is the optional-field input to UpdateTask.
type UpdateTaskParams struct {
	Status          *domain.TaskStatus
	Progress        *int
	AssignedAgentID *string
	Metadata        *domain.TaskMetadata
}

// UpdateTask clamps progress, finalizes completedAt on completion, and
// emits typed events (spec.md §4.8 updateTask()).
func (o *Orchestrator) UpdateTask(ctx context.Context, id string, p UpdateTaskParams) (domain.Task, error) {
	t, err := o.st.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "get task", err)
	}

	if p.AssignedAgentID != nil {
		t.AssignedAgentID = *p.AssignedAgentID
	}
	if p.Metadata != nil {
		t.Metadata = *p.Metadata
	}
	if p.Progress != nil {
		t.Progress = clamp(*p.Progress, 0, 100)
	}
	if p.Status != nil {
		t.Status = *p.Status
		if t.Status == domain.TaskCompleted {
			t.Progress = 100
			now := time.Now().UTC()
			t.CompletedAt = &now
		}
	}

	if err := o.st.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "update task", err)
	}
	o.emit(events.TaskStatusChanged, t.SwarmID, t.ID, t.Status)
	return t, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CancelTask recursively cancels subtasks and marks id cancelled; a no-op
// if the task is already terminal (spec.md §4.8 cancelTask()). rollback is
// accepted for API symmetry with the spec's signature; resource release is
// performed unconditionally since holding a resource past cancellation has
// no benefit in this design.
func (o *Orchestrator) CancelTask(ctx context.Context, id, reason string, rollback bool) error {
	t, err := o.st.GetTask(ctx, id)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "orchestrator", "get task", err)
	}
	if isTerminal(t.Status) {
		return nil
	}

	for _, subID := range t.SubtaskIDs {
		if err := o.CancelTask(ctx, subID, reason, rollback); err != nil {
			return err
		}
	}

	t.Status = domain.TaskCancelled
	t.ResourceRequirements = nil // released
	if err := o.st.UpdateTask(ctx, t); err != nil {
		return errs.Wrap(errs.KindStorage, "orchestrator", "update task", err)
	}
	o.emit(events.TaskCancelled, t.SwarmID, t.ID, t.Status)
	return nil
}

func isTerminal(s domain.TaskStatus) bool {
	return s == domain.TaskCompleted || s == domain.TaskFailed || s == domain.TaskCancelled
}

// RunWorkflow starts every task in swarmID with no unsatisfied dependency
// (spec.md §4.8 runWorkflow()). Waking dependents on completion is the
// caller's responsibility via WakeDependents, invoked from the task
// lifecycle that observes completion events.
func (o *Orchestrator) RunWorkflow(ctx context.Context, swarmID string) ([]domain.Task, error) {
	tasks, err := o.st.ListTasksBySwarm(ctx, swarmID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "orchestrator", "list tasks", err)
	}

	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var started []domain.Task
	for _, t := range tasks {
		if t.Status != domain.TaskQueued {
			continue
		}
		if dependenciesSatisfied(t, byID) {
			if s, err := o.tryStart(ctx, t); err == nil {
				started = append(started, s)
			}
		}
	}
	return started, nil
}

func dependenciesSatisfied(t domain.Task, byID map[string]domain.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := byID[dep.TaskID]
		if !ok {
			return false
		}
		switch dep.Kind {
		case domain.DepFinishToStart, domain.DepFinishToFinish:
			if d.Status != domain.TaskCompleted {
				return false
			}
		case domain.DepStartToStart, domain.DepStartToFinish:
			if d.Status != domain.TaskRunning && d.Status != domain.TaskCompleted {
				return false
			}
		}
	}
	return true
}

func (o *Orchestrator) tryStart(ctx context.Context, t domain.Task) (domain.Task, error) {
	running, err := o.st.ListTasksByStatus(ctx, t.SwarmID, domain.TaskRunning)
	if err != nil {
		return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "count running tasks", err)
	}
	if len(running) >= o.maxConcurrentTasks {
		return domain.Task{}, errs.New(errs.KindConflict, "orchestrator", "maxConcurrentTasks reached")
	}

	t.Status = domain.TaskRunning
	if err := o.st.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, errs.Wrap(errs.KindStorage, "orchestrator", "start task", err)
	}
	o.emit(events.TaskStatusChanged, t.SwarmID, t.ID, t.Status)
	return t, nil
}

// WakeDependents re-evaluates every queued task in the swarm against the
// latest task states — called after a task completes (spec.md §4.8
// runWorkflow(): "on each task completion, wake dependents").
func (o *Orchestrator) WakeDependents(ctx context.Context, swarmID string) ([]domain.Task, error) {
	return o.RunWorkflow(ctx, swarmID)
}

// Dispatch picks the eligible idle agent with the lowest workload for a
// task's required capability tags, tie-broken by agent id lexicographically
// (spec.md §4.8 dispatch).
func (o *Orchestrator) Dispatch(ctx context.Context, swarmID string, requiredCapabilities []string) (domain.Agent, bool, error) {
	agents, err := o.st.ListAgentsBySwarm(ctx, swarmID)
	if err != nil {
		return domain.Agent{}, false, errs.Wrap(errs.KindStorage, "orchestrator", "list agents", err)
	}

	var eligible []domain.Agent
	for _, a := range agents {
		if a.Status != domain.AgentIdle {
			continue
		}
		if hasAllCapabilities(a.Capabilities, requiredCapabilities) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return domain.Agent{}, false, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Workload != eligible[j].Workload {
			return eligible[i].Workload < eligible[j].Workload
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0], true, nil
}

// AssignAgent marks an agent busy on behalf of a dispatched task and starts
// accruing its busy interval, the counterpart to ReleaseAgent that together
// maintain the workload ratio checked by spec.md §8 P6.
func (o *Orchestrator) AssignAgent(ctx context.Context, agentID, taskID string) (domain.Agent, error) {
	a, err := o.st.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, errs.Wrap(errs.KindStorage, "orchestrator", "get agent", err)
	}
	a.Status = domain.AgentBusy
	a.CurrentTasks = appendIfMissing(a.CurrentTasks, taskID)
	if err := o.st.UpdateAgent(ctx, a); err != nil {
		return domain.Agent{}, errs.Wrap(errs.KindStorage, "orchestrator", "update agent", err)
	}

	o.mu.Lock()
	o.busyStarted[agentID] = time.Now().UTC()
	o.mu.Unlock()
	return a, nil
}

// ReleaseAgent returns an agent to idle, folding the interval since its
// matching AssignAgent into Metrics.BusyDuration and recomputing Workload as
// BusyDuration/WallDuration, where WallDuration is measured from the agent's
// creation (spec.md §8 P6: "sum of task-time while busy divided by
// wall-clock time ≈ recorded workload").
func (o *Orchestrator) ReleaseAgent(ctx context.Context, agentID, taskID string) (domain.Agent, error) {
	a, err := o.st.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, errs.Wrap(errs.KindStorage, "orchestrator", "get agent", err)
	}

	now := time.Now().UTC()
	o.mu.Lock()
	start, ok := o.busyStarted[agentID]
	delete(o.busyStarted, agentID)
	o.mu.Unlock()
	if ok && now.After(start) {
		a.Metrics.BusyDuration += now.Sub(start)
	}
	if wall := now.Sub(a.CreatedAt); wall > 0 {
		a.Metrics.WallDuration = wall
		a.Workload = clampFloat(float64(a.Metrics.BusyDuration)/float64(wall), 0, 1)
	}

	a.Status = domain.AgentIdle
	a.CurrentTasks = removeString(a.CurrentTasks, taskID)
	if err := o.st.UpdateAgent(ctx, a); err != nil {
		return domain.Agent{}, errs.Wrap(errs.KindStorage, "orchestrator", "update agent", err)
	}
	return a, nil
}

func appendIfMissing(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hasAllCapabilities(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, c := range want {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

func (o *Orchestrator) emit(kind events.SwarmEventKind, swarmID, taskID string, status domain.TaskStatus) {
	if o.rt == nil {
		return
	}
	o.rt.EmitSwarm(events.SwarmEvent{Kind: kind, SwarmID: swarmID, EntityID: taskID, Detail: string(status)})
}
