// Package coordinator implements HookCoordinator (spec.md §4.4, C4): the
// deadlock-prevention layer on top of HookQueue — a static dependency
// graph, JWT-signed advisory locks with TTL/reclaim, dependency-wait
// polling, and a periodic cleanup loop.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/hooks"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/store"
)

// edge describes one hookType's static dependency relationship (spec.md
// §4.4 dependency graph table).
type edge struct {
	dependsOn []domain.HookType
	blockedBy []domain.HookType
	priority  domain.HookPriority
}

var dependencyGraph = map[domain.HookType]edge{
	domain.HookPreTask:        {priority: domain.PriorityHigh},
	domain.HookPreBash:        {priority: domain.PriorityHigh},
	domain.HookPreEdit:        {dependsOn: []domain.HookType{domain.HookPreTask}, blockedBy: []domain.HookType{domain.HookPostEdit}, priority: domain.PriorityHigh},
	domain.HookPreRead:        {priority: domain.PriorityLow},
	domain.HookPostEdit:       {dependsOn: []domain.HookType{domain.HookPreEdit}, blockedBy: []domain.HookType{domain.HookPostTask}, priority: domain.PriorityMedium},
	domain.HookPostTask:       {dependsOn: []domain.HookType{domain.HookPreTask}, priority: domain.PriorityMedium},
	domain.HookNotify:         {priority: domain.PriorityLow},
	domain.HookSessionRestore: {blockedBy: []domain.HookType{domain.HookSessionEnd}, priority: domain.PriorityHigh},
	domain.HookSessionEnd:     {dependsOn: []domain.HookType{domain.HookSessionRestore}, priority: domain.PriorityMedium},
}

const (
	lockTTL             = 30 * time.Second
	lockAcquireAttempts = 10
	lockBackoffUnit     = 50 * time.Millisecond
	dependencyWaitMax   = 30 * time.Second
	dependencyPollEvery = 100 * time.Millisecond
	maxConcurrentOther  = 3
	staleExecutionAge   = 5 * time.Minute
	cleanupInterval     = 10 * time.Second
)

// Coordinator is the C4 component.
type Coordinator struct {
	st        *store.Store
	queue     *hooks.Queue
	pool      poolResetter
	rt        *runtime.Runtime
	log       *logrus.Entry
	processID string
	jwtSecret []byte

	mu      sync.Mutex
	running map[domain.HookType]int // live "running" executions, by hookType, across all owners
}

// poolResetter is the subset of pool.Pool needed for emergencyReset; kept
// as an interface so the coordinator doesn't import pool for its full API.
type poolResetter interface {
	Reinitialize() error
}

// New builds a Coordinator. jwtSecret signs the advisory lock tokens that
// back coordination_locks rows.
func New(st *store.Store, queue *hooks.Queue, pl poolResetter, rt *runtime.Runtime, log *logrus.Entry, jwtSecret []byte) *Coordinator {
	c := &Coordinator{
		st:        st,
		queue:     queue,
		pool:      pl,
		rt:        rt,
		log:       log,
		processID: uuid.NewString(),
		jwtSecret: jwtSecret,
		running:   make(map[domain.HookType]int),
	}
	if rt != nil {
		rt.Ticker("hook-coordinator-cleanup", cleanupInterval, c.cleanup)
	}
	return c
}

// lockClaims is the JWT payload signing a lock's identity, so the lockId
// embedded in a HookExecution can be independently verified instead of
// trusted as an opaque string.
type lockClaims struct {
	jwt.RegisteredClaims
	ResourceKey string `json:"resource_key"`
	HookType    string `json:"hook_type"`
}

func (c *Coordinator) signLockToken(resourceKey string, hookType domain.HookType, expiresAt time.Time) (string, error) {
	claims := lockClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.processID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
		ResourceKey: resourceKey,
		HookType:    string(hookType),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}

// Coordinate runs the full state machine: received → deadlock-check →
// lock-wait → dep-wait → running → {completed, failed} → released (spec.md
// §4.4). Failure at any stage releases any partially-held resources.
func (c *Coordinator) Coordinate(ctx context.Context, hookType domain.HookType, argLine string, priority domain.HookPriority) (string, error) {
	if err := c.deadlockCheck(ctx, hookType); err != nil {
		return "", err
	}

	lockToken, _, err := c.acquireLock(ctx, hookType)
	if err != nil {
		return "", err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		_ = c.st.ReleaseLock(context.Background(), lockToken, c.processID)
		c.emit(events.LockReleased, hookType)
	}
	defer release()
	c.emit(events.LockAcquired, hookType)

	execID := uuid.NewString()
	deps := dependencyGraph[hookType].dependsOn
	depNames := make([]string, len(deps))
	for i, d := range deps {
		depNames[i] = string(d)
	}
	if err := c.st.InsertHookExecution(ctx, store.HookExecution{
		ExecID: execID, HookType: string(hookType), ProcessID: c.processID,
		Deps: depNames, Status: string(domain.ExecPending), StartTime: time.Now().UTC(),
	}); err != nil {
		return "", errs.Wrap(errs.KindStorage, "coordinator", "register execution", err)
	}
	defer func() { _ = c.st.DeleteHookExecution(context.Background(), execID) }()

	if err := c.waitForDependencies(ctx, hookType); err != nil {
		_ = c.st.UpdateHookExecutionStatus(context.Background(), execID, string(domain.ExecFailed))
		return "", err
	}

	if err := c.st.UpdateHookExecutionStatus(ctx, execID, string(domain.ExecRunning)); err != nil {
		return "", errs.Wrap(errs.KindStorage, "coordinator", "mark running", err)
	}
	c.trackRunning(hookType, 1)
	defer c.trackRunning(hookType, -1)

	out := <-c.queue.Enqueue(ctx, hookType, argLine, priority)

	if out.Err != nil {
		_ = c.st.UpdateHookExecutionStatus(context.Background(), execID, string(domain.ExecFailed))
		return "", out.Err
	}
	_ = c.st.UpdateHookExecutionStatus(context.Background(), execID, string(domain.ExecCompleted))
	return out.Output, nil
}

// deadlockCheck rejects circular dependencies and would-block conditions
// (spec.md §4.4 step 1).
func (c *Coordinator) deadlockCheck(ctx context.Context, hookType domain.HookType) error {
	if cycle := findCycle(hookType); cycle {
		return errs.New(errs.KindDeadlock, "coordinator", fmt.Sprintf("circular dependency involving %s", hookType))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.running {
		total += n
	}
	if total < maxConcurrentOther {
		return nil
	}
	for _, blocker := range dependencyGraph[hookType].blockedBy {
		if c.running[blocker] > 0 {
			return errs.New(errs.KindConflict, "coordinator", fmt.Sprintf("would-block on %s", blocker))
		}
	}
	return nil
}

// findCycle walks dependsOn edges from start looking for a path back to
// itself. The static table is small and fixed at init time, so a simple DFS
// suffices (spec.md §4.4: "dependency graph (initialization-time static)").
func findCycle(start domain.HookType) bool {
	visited := map[domain.HookType]bool{}
	var walk func(domain.HookType) bool
	walk = func(h domain.HookType) bool {
		if h == start && visited[h] {
			return true
		}
		if visited[h] {
			return false
		}
		visited[h] = true
		for _, dep := range dependencyGraph[h].dependsOn {
			if dep == start || walk(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range dependencyGraph[start].dependsOn {
		if walk(dep) {
			return true
		}
	}
	return false
}

// acquireLock retries with linear backoff up to 10 attempts (spec.md §4.4
// step 2).
func (c *Coordinator) acquireLock(ctx context.Context, hookType domain.HookType) (lockID string, expiresAt time.Time, err error) {
	resourceKey := string(hookType)

	for attempt := 1; attempt <= lockAcquireAttempts; attempt++ {
		now := time.Now().UTC()
		expiresAt = now.Add(lockTTL)
		token, signErr := c.signLockToken(resourceKey, hookType, expiresAt)
		if signErr != nil {
			return "", time.Time{}, errs.Wrap(errs.KindFatal, "coordinator", "sign lock token", signErr)
		}

		acquireErr := c.st.AcquireLock(ctx, store.CoordinationLock{
			LockID: token, OwnerProcessID: c.processID, ResourceKey: resourceKey,
			HookType: string(hookType), AcquiredAt: now, ExpiresAt: expiresAt,
		}, now)
		if acquireErr == nil {
			return token, expiresAt, nil
		}
		if acquireErr != store.ErrLockHeld {
			return "", time.Time{}, errs.Wrap(errs.KindStorage, "coordinator", "acquire lock", acquireErr)
		}

		select {
		case <-ctx.Done():
			return "", time.Time{}, errs.Wrap(errs.KindTimeout, "coordinator", "lock acquire cancelled", ctx.Err())
		case <-time.After(lockBackoffUnit * time.Duration(attempt)):
		}
	}
	return "", time.Time{}, errs.New(errs.KindTimeout, "coordinator", "lock acquisition retries exhausted")
}

// waitForDependencies polls until every dependsOn type is either completed
// or not currently running (spec.md §4.4 step 4).
func (c *Coordinator) waitForDependencies(ctx context.Context, hookType domain.HookType) error {
	deps := dependencyGraph[hookType].dependsOn
	if len(deps) == 0 {
		return nil
	}

	deadline := time.Now().Add(dependencyWaitMax)
	for {
		satisfied := true
		for _, dep := range deps {
			execs, err := c.st.ListHookExecutionsByType(ctx, string(dep))
			if err != nil {
				return errs.Wrap(errs.KindStorage, "coordinator", "list dependency executions", err)
			}
			for _, e := range execs {
				if e.Status == string(domain.ExecRunning) {
					satisfied = false
					break
				}
			}
			if !satisfied {
				break
			}
		}
		if satisfied {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.KindTimeout, "coordinator", fmt.Sprintf("dependency timeout waiting for %v", deps))
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindTimeout, "coordinator", "dependency wait cancelled", ctx.Err())
		case <-time.After(dependencyPollEvery):
		}
	}
}

func (c *Coordinator) emit(kind events.HookEventKind, hookType domain.HookType) {
	if c.rt == nil {
		return
	}
	c.rt.EmitHook(events.HookEvent{Kind: kind, HookType: string(hookType)})
}

func (c *Coordinator) trackRunning(hookType domain.HookType, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[hookType] += delta
	if c.running[hookType] < 0 {
		c.running[hookType] = 0
	}
}

// cleanup removes expired locks and stale (>5min) executions every 10s
// (spec.md §4.4 cleanup loop).
func (c *Coordinator) cleanup(ctx context.Context) {
	now := time.Now().UTC()
	if n, err := c.st.GCExpiredLocks(ctx, now); err != nil {
		c.log.WithError(err).Warn("coordinator: gc expired locks failed")
	} else if n > 0 {
		c.log.WithField("count", n).Debug("coordinator: reclaimed expired locks")
	}

	stale, err := c.st.ListStaleHookExecutions(ctx, now.Add(-staleExecutionAge))
	if err != nil {
		c.log.WithError(err).Warn("coordinator: list stale executions failed")
		return
	}
	for _, e := range stale {
		if err := c.st.DeleteHookExecution(ctx, e.ExecID); err != nil {
			c.log.WithError(err).Warn("coordinator: delete stale execution failed")
		}
	}
}

// EmergencyReset releases every lock, clears pending executions, drains the
// queue, and reinitializes the ProcessPool (spec.md §4.4 emergencyReset()).
func (c *Coordinator) EmergencyReset(ctx context.Context) error {
	if err := c.st.EmergencyResetCoordination(ctx); err != nil {
		return errs.Wrap(errs.KindStorage, "coordinator", "emergency reset coordination", err)
	}
	c.queue.EmergencyClear()
	if c.pool != nil {
		if err := c.pool.Reinitialize(); err != nil {
			return errs.Wrap(errs.KindFatal, "coordinator", "reinitialize process pool", err)
		}
	}
	c.mu.Lock()
	c.running = make(map[domain.HookType]int)
	c.mu.Unlock()
	return nil
}
