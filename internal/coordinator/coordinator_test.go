package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/hooks"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func newTestCoordinator(t *testing.T, exec hooks.Executor) (*Coordinator, *store.Store, *runtime.Runtime) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.db")
	st, err := store.Open(path, testLogger(), store.Options{}, store.SwarmMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rt := runtime.New(testLogger(), runtime.Options{})
	t.Cleanup(rt.Shutdown)

	q := hooks.New(exec, rt, logrus.NewEntry(testLogger()), hooks.Options{})
	c := New(st, q, nil, rt, logrus.NewEntry(testLogger()), []byte("test-secret"))
	return c, st, rt
}

func instantExecutor(ctx context.Context, hookType domain.HookType, argLine string) (string, error) {
	return "ok", nil
}

// TestCoordinate_CircularDependency_RejectsAndReleasesNothing is Scenario 2:
// a hook type made to depend on itself is rejected with a deadlock error,
// and the attempt acquires no lock.
func TestCoordinate_CircularDependency_RejectsAndReleasesNothing(t *testing.T) {
	c, st, _ := newTestCoordinator(t, instantExecutor)

	original := dependencyGraph[domain.HookPostEdit]
	dependencyGraph[domain.HookPostEdit] = edge{
		dependsOn: []domain.HookType{domain.HookPostEdit},
		priority:  original.priority,
	}
	defer func() { dependencyGraph[domain.HookPostEdit] = original }()

	_, err := c.Coordinate(context.Background(), domain.HookPostEdit, "payload", domain.PriorityMedium)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindDeadlock), "expected a deadlock error, got %v", err)

	_, getErr := st.GetLock(context.Background(), string(domain.HookPostEdit))
	require.ErrorIs(t, getErr, store.ErrNotFound, "a rejected coordinate must not leave a lock behind")
}

// TestCoordinate_SingleLockPerResource is P3: at most one live
// CoordinationLock exists per resourceKey at any instant. Concurrent
// Coordinate calls for the same hookType must serialize rather than
// double-acquire.
func TestCoordinate_SingleLockPerResource(t *testing.T) {
	var inFlight, maxSeen int64
	exec := func(ctx context.Context, hookType domain.HookType, argLine string) (string, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			cur := atomic.LoadInt64(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt64(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "ok", nil
	}
	c, _, _ := newTestCoordinator(t, exec)

	const n = 10
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Coordinate(context.Background(), domain.HookNotify, "payload", domain.PriorityMedium)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), atomic.LoadInt64(&maxSeen), "no two coordinated hook executions of the same type may run simultaneously")
}

// TestCoordinate_DependencyPrecedesExecution is P5: coordinating post-edit
// must wait until pre-edit's registered execution is no longer "running"
// before post-edit transitions to running itself.
func TestCoordinate_DependencyPrecedesExecution(t *testing.T) {
	release := make(chan struct{})
	var preEditRunning int32
	exec := func(ctx context.Context, hookType domain.HookType, argLine string) (string, error) {
		if hookType == domain.HookPreEdit {
			atomic.StoreInt32(&preEditRunning, 1)
			<-release
			atomic.StoreInt32(&preEditRunning, 0)
		}
		return "ok", nil
	}
	c, _, _ := newTestCoordinator(t, exec)

	preEditDone := make(chan error, 1)
	go func() {
		_, err := c.Coordinate(context.Background(), domain.HookPreEdit, "edit", domain.PriorityHigh)
		preEditDone <- err
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&preEditRunning) == 1 }, time.Second, 5*time.Millisecond)

	postEditDone := make(chan error, 1)
	go func() {
		_, err := c.Coordinate(context.Background(), domain.HookPostEdit, "edit", domain.PriorityMedium)
		postEditDone <- err
	}()

	select {
	case <-postEditDone:
		t.Fatal("post-edit must not complete while its dependency pre-edit is still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	require.NoError(t, <-preEditDone)
	require.NoError(t, <-postEditDone)
}

// TestEmergencyReset is P9: after EmergencyReset, no locks, no pending
// executions, and the hook queue reports a clean slate.
func TestEmergencyReset(t *testing.T) {
	c, st, _ := newTestCoordinator(t, instantExecutor)

	_, err := c.Coordinate(context.Background(), domain.HookNotify, "payload", domain.PriorityLow)
	require.NoError(t, err)

	require.NoError(t, c.EmergencyReset(context.Background()))

	_, getErr := st.GetLock(context.Background(), string(domain.HookNotify))
	require.ErrorIs(t, getErr, store.ErrNotFound)

	execs, err := st.ListHookExecutionsByType(context.Background(), string(domain.HookNotify))
	require.NoError(t, err)
	require.Empty(t, execs)

	c.mu.Lock()
	total := 0
	for _, n := range c.running {
		total += n
	}
	c.mu.Unlock()
	require.Equal(t, 0, total, "running counters must be cleared")
}

// fakePool counts Reinitialize calls instead of terminating anything, so
// tests can assert EmergencyReset recovers the pool rather than killing it.
type fakePool struct {
	reinitCount int32
	shutdown    bool
}

func (p *fakePool) Reinitialize() error {
	atomic.AddInt32(&p.reinitCount, 1)
	p.shutdown = false
	return nil
}

// TestEmergencyReset_ReinitializesPoolRatherThanShuttingItDownPermanently
// guards against emergencyReset calling a terminal Shutdown() on the process
// pool: that would leave every future Acquire failing, killing the very
// subsystem the reset is meant to recover.
func TestEmergencyReset_ReinitializesPoolRatherThanShuttingItDownPermanently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.db")
	st, err := store.Open(path, testLogger(), store.Options{}, store.SwarmMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rt := runtime.New(testLogger(), runtime.Options{})
	t.Cleanup(rt.Shutdown)

	q := hooks.New(instantExecutor, rt, logrus.NewEntry(testLogger()), hooks.Options{})
	fp := &fakePool{shutdown: true}
	c := New(st, q, fp, rt, logrus.NewEntry(testLogger()), []byte("test-secret"))

	require.NoError(t, c.EmergencyReset(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&fp.reinitCount))
	require.False(t, fp.shutdown, "the pool must come back usable after an emergency reset, not stay permanently shut down")
}
