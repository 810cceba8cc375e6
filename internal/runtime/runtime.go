// Package runtime provides the single Runtime value constructed at process
// startup (spec.md §9: "replace singletons and global timer registries with
// a single Runtime value threaded into components that need timers,
// background tasks, or cleanup registration"). It owns the three typed
// event channels of internal/events, the background-loop registry, and an
// optional Redis pub/sub mirror for cross-process observers.
package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/events"
)

// Runtime is threaded into every component that needs a clock, a
// background-task registry, or an event channel.
type Runtime struct {
	logger *logrus.Logger

	swarmCh  chan events.SwarmEvent
	hookCh   chan events.HookEvent
	memoryCh chan events.MemoryEvent

	redisClient *redis.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures the Runtime's channel buffering and optional Redis
// mirror.
type Options struct {
	ChannelBuffer int
	RedisAddr     string // empty disables the Redis mirror (single-host default)
}

// New constructs a Runtime. Call Shutdown to drain all registered
// background loops before the process exits.
func New(logger *logrus.Logger, opts Options) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())

	buf := opts.ChannelBuffer
	if buf <= 0 {
		buf = 256
	}

	rt := &Runtime{
		logger:   logger,
		swarmCh:  make(chan events.SwarmEvent, buf),
		hookCh:   make(chan events.HookEvent, buf),
		memoryCh: make(chan events.MemoryEvent, buf),
		ctx:      ctx,
		cancel:   cancel,
	}

	if opts.RedisAddr != "" {
		rt.redisClient = redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	}

	return rt
}

// Context returns the Runtime's shutdown-scoped context. Background loops
// started with Go should select on Done() to notice shutdown.
func (rt *Runtime) Context() context.Context { return rt.ctx }

// SwarmEvents exposes a read-only view of the swarm channel for observers.
func (rt *Runtime) SwarmEvents() <-chan events.SwarmEvent { return rt.swarmCh }

// HookEvents exposes a read-only view of the hook channel for observers.
func (rt *Runtime) HookEvents() <-chan events.HookEvent { return rt.hookCh }

// MemoryEvents exposes a read-only view of the memory channel for observers.
func (rt *Runtime) MemoryEvents() <-chan events.MemoryEvent { return rt.memoryCh }

// EmitSwarm publishes a swarm event. Non-blocking: a full channel drops the
// event rather than stall the caller, since events are an observability aid,
// never a correctness dependency (spec.md §4.2 LRU cache note applies here
// too — observability must never gate correctness).
func (rt *Runtime) EmitSwarm(ev events.SwarmEvent) {
	ev.Timestamp = now()
	select {
	case rt.swarmCh <- ev:
	default:
		rt.logger.WithField("kind", ev.Kind).Warn("runtime: swarm event channel full, dropping")
	}
	rt.mirror("hive:events:swarm", ev)
}

// EmitHook publishes a hook event.
func (rt *Runtime) EmitHook(ev events.HookEvent) {
	ev.Timestamp = now()
	select {
	case rt.hookCh <- ev:
	default:
		rt.logger.WithField("kind", ev.Kind).Warn("runtime: hook event channel full, dropping")
	}
	rt.mirror("hive:events:hook", ev)
}

// EmitMemory publishes a memory event.
func (rt *Runtime) EmitMemory(ev events.MemoryEvent) {
	ev.Timestamp = now()
	select {
	case rt.memoryCh <- ev:
	default:
		rt.logger.WithField("kind", ev.Kind).Warn("runtime: memory event channel full, dropping")
	}
	rt.mirror("hive:events:memory", ev)
}

func (rt *Runtime) mirror(channel string, payload any) {
	if rt.redisClient == nil {
		return
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return
	}
	// Best-effort: the Redis mirror is an optional cross-process fan-out,
	// never a correctness dependency, so errors are logged and swallowed.
	if err := rt.redisClient.Publish(rt.ctx, channel, buf).Err(); err != nil {
		rt.logger.WithError(err).Debug("runtime: redis publish failed")
	}
}

// Go registers a background loop under the Runtime's shutdown context and
// WaitGroup, mirroring the three background loops of spec.md §5(a-c):
// HookCoordinator cleanup (10s), SharedMemory GC (~5min), HookQueue metrics
// aggregation (30s). Shutdown blocks until every registered loop returns.
func (rt *Runtime) Go(name string, fn func(ctx context.Context)) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.logger.WithField("loop", name).Debug("runtime: background loop started")
		fn(rt.ctx)
		rt.logger.WithField("loop", name).Debug("runtime: background loop drained")
	}()
}

// Ticker runs fn on a fixed interval until shutdown, a small helper shared
// by all three background loops.
func (rt *Runtime) Ticker(name string, interval time.Duration, fn func(ctx context.Context)) {
	rt.Go(name, func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	})
}

// Shutdown cancels the shutdown context and waits for every registered
// background loop to drain before returning.
func (rt *Runtime) Shutdown() {
	rt.cancel()
	rt.wg.Wait()
	close(rt.swarmCh)
	close(rt.hookCh)
	close(rt.memoryCh)
	if rt.redisClient != nil {
		_ = rt.redisClient.Close()
	}
}

// now is indirected so tests can be written without depending on wall-clock
// jitter in assertions about event ordering.
var now = time.Now
