// Package hooks implements HookQueue (spec.md §4.3, C3): a single
// in-process priority queue of hook invocations, executed one at a time to
// guarantee the absence of hook-to-hook deadlock (spec.md §5, point 2).
package hooks

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/runtime"
)

var hookTimeouts = map[domain.HookType]time.Duration{
	domain.HookPreTask:        5 * time.Second,
	domain.HookPreEdit:        2 * time.Second,
	domain.HookPreRead:        1 * time.Second,
	domain.HookPreBash:        2 * time.Second,
	domain.HookPostEdit:       3 * time.Second,
	domain.HookPostTask:       10 * time.Second,
	domain.HookNotify:         1 * time.Second,
	domain.HookSessionRestore: 15 * time.Second,
	domain.HookSessionEnd:     20 * time.Second,
}

var priorityRank = map[domain.HookPriority]int{
	domain.PriorityHigh:   0,
	domain.PriorityMedium: 1,
	domain.PriorityLow:    2,
}

// Executor runs one hook attempt. In production this delegates to
// pool.Pool.ExecuteHook; tests substitute a fake.
type Executor func(ctx context.Context, hookType domain.HookType, argLine string) (string, error)

// task is one queued invocation plus its result channel.
type task struct {
	hookType domain.HookType
	argLine  string
	priority domain.HookPriority
	seq      int64 // insertion order, for FIFO-within-priority
	result   chan Result
}

// Result is what enqueue's returned future ultimately resolves to.
type Result struct {
	Output string
	Err    error
}

// taskHeap orders by priority rank then insertion sequence.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	pi, pj := priorityRank[h[i].priority], priorityRank[h[j].priority]
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// hookStats is the sliding-window stat set retained per hookType (spec.md
// §4.3: "count, successCount, failureCount, successRate, min/avg/max
// duration over a sliding window (last 100)").
type hookStats struct {
	count, success, failure int64
	durations               []time.Duration // ring buffer, capped at 100
}

const statsWindow = 100

func (s *hookStats) record(ok bool, d time.Duration) {
	s.count++
	if ok {
		s.success++
	} else {
		s.failure++
	}
	s.durations = append(s.durations, d)
	if len(s.durations) > statsWindow {
		s.durations = s.durations[len(s.durations)-statsWindow:]
	}
}

// Snapshot is the public stats view for one hookType.
type Snapshot struct {
	Count       int64
	Success     int64
	Failure     int64
	SuccessRate float64
	MinDuration time.Duration
	AvgDuration time.Duration
	MaxDuration time.Duration
}

func (s *hookStats) snapshot() Snapshot {
	snap := Snapshot{Count: s.count, Success: s.success, Failure: s.failure}
	if s.count > 0 {
		snap.SuccessRate = float64(s.success) / float64(s.count)
	}
	if len(s.durations) == 0 {
		return snap
	}
	snap.MinDuration, snap.MaxDuration = s.durations[0], s.durations[0]
	var total time.Duration
	for _, d := range s.durations {
		total += d
		if d < snap.MinDuration {
			snap.MinDuration = d
		}
		if d > snap.MaxDuration {
			snap.MaxDuration = d
		}
	}
	snap.AvgDuration = total / time.Duration(len(s.durations))
	return snap
}

// Options configures retry/admission behavior.
type Options struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	AdmissionRate rate.Limit
	AdmissionBurst int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.AdmissionRate <= 0 {
		o.AdmissionRate = 50
	}
	if o.AdmissionBurst <= 0 {
		o.AdmissionBurst = 50
	}
	return o
}

// Queue is the C3 component: a single processing worker drains a priority
// heap, one task at a time.
type Queue struct {
	opts     Options
	exec     Executor
	rt       *runtime.Runtime
	log      *logrus.Entry
	limiter  *rate.Limiter

	mu       sync.Mutex
	heap     taskHeap
	nextSeq  int64
	stats    map[domain.HookType]*hookStats
	breakers map[domain.HookType]*gobreaker.CircuitBreaker
	notify   chan struct{}
}

// New builds a Queue and, when rt is non-nil, starts its single draining
// worker goroutine on rt; with a nil rt no worker is started.
func New(exec Executor, rt *runtime.Runtime, log *logrus.Entry, opts Options) *Queue {
	opts = opts.withDefaults()
	q := &Queue{
		opts:     opts,
		exec:     exec,
		rt:       rt,
		log:      log,
		limiter:  rate.NewLimiter(opts.AdmissionRate, opts.AdmissionBurst),
		stats:    make(map[domain.HookType]*hookStats),
		breakers: make(map[domain.HookType]*gobreaker.CircuitBreaker),
		notify:   make(chan struct{}, 1),
	}
	heap.Init(&q.heap)
	if rt != nil {
		rt.Go("hook-queue-worker", q.run)
	}
	return q
}

func (q *Queue) breakerFor(hookType domain.HookType) *gobreaker.CircuitBreaker {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.breakers[hookType]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(hookType),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	q.breakers[hookType] = b
	return b
}

// Enqueue admits one task into the priority queue, returning a channel the
// caller receives the eventual Result on (spec.md §4.3 enqueue()).
func (q *Queue) Enqueue(ctx context.Context, hookType domain.HookType, argLine string, priority domain.HookPriority) <-chan Result {
	out := make(chan Result, 1)

	if err := q.limiter.Wait(ctx); err != nil {
		out <- Result{Err: errs.Wrap(errs.KindTimeout, "hooks", "admission limiter", err)}
		return out
	}

	q.mu.Lock()
	q.nextSeq++
	t := &task{hookType: hookType, argLine: argLine, priority: priority, seq: q.nextSeq, result: out}
	heap.Push(&q.heap, t)
	q.mu.Unlock()

	q.emit(events.HookQueued, hookType, 0, nil, 0)
	q.wake()
	return out
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// run is the single processing worker: while one task runs, others wait
// (spec.md §4.3, §5 point 2).
func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
		for {
			t := q.pop()
			if t == nil {
				break
			}
			q.execute(ctx, t)
		}
	}
}

func (q *Queue) pop() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*task)
}

func (q *Queue) execute(ctx context.Context, t *task) {
	timeout := hookTimeouts[t.hookType]
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	breaker := q.breakerFor(t.hookType)

	q.emit(events.HookStarted, t.hookType, 0, nil, 0)

	var lastErr error
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := breaker.Execute(func() (any, error) {
			return q.exec(attemptCtx, t.hookType, t.argLine)
		})
		cancel()
		duration := time.Since(start)

		q.recordStat(t.hookType, err == nil, duration)

		if err == nil {
			q.emit(events.HookCompleted, t.hookType, attempt, nil, duration)
			t.result <- Result{Output: output.(string)}
			return
		}

		lastErr = err
		if errs.Is(err, errs.KindValidation) {
			break // validation failure short-circuits retries
		}
		if attempt == q.opts.MaxAttempts {
			break
		}
		q.emit(events.HookRetried, t.hookType, attempt, err, duration)
		time.Sleep(q.opts.BaseBackoff * time.Duration(attempt))
	}

	q.emit(events.HookFailed, t.hookType, q.opts.MaxAttempts, lastErr, 0)
	t.result <- Result{Err: fmt.Errorf("hooks: %s exhausted retries: %w", t.hookType, lastErr)}
}

func (q *Queue) recordStat(hookType domain.HookType, ok bool, d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, found := q.stats[hookType]
	if !found {
		s = &hookStats{}
		q.stats[hookType] = s
	}
	s.record(ok, d)
}

func (q *Queue) emit(kind events.HookEventKind, hookType domain.HookType, attempt int, err error, duration time.Duration) {
	if q.rt == nil {
		return
	}
	ev := events.HookEvent{Kind: kind, HookType: string(hookType), Attempt: attempt, Duration: duration}
	if err != nil {
		ev.Err = err.Error()
	}
	q.rt.EmitHook(ev)
}

// Stats returns the current sliding-window snapshot for one hookType.
func (q *Queue) Stats(hookType domain.HookType) Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.stats[hookType]
	if !ok {
		return Snapshot{}
	}
	return s.snapshot()
}

// EmergencyClear drains the queue, rejecting every waiting task with a
// "cleared" error (spec.md §4.3 emergencyClear()).
func (q *Queue) EmergencyClear() {
	q.mu.Lock()
	pending := q.heap
	q.heap = nil
	heap.Init(&q.heap)
	q.mu.Unlock()

	for _, t := range pending {
		t.result <- Result{Err: errs.New(errs.KindFatal, "hooks", "cleared")}
	}
}
