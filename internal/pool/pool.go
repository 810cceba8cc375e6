// Package pool implements ProcessPool (spec.md §4.5, C5): a bounded pool of
// reusable worker processes that execute individual hook actions via the
// stdin/stdout sentinel protocol of spec.md §6.
package pool

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
)

const completionSentinel = "HOOK_EXECUTION_COMPLETE"

// hookTimeouts mirrors the per-hookType timeout table of spec.md §4.3; the
// pool enforces it at the process-execution boundary.
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

// Timeout returns the configured hard timeout for hookType.
func Timeout(hookType domain.HookType) time.Duration {
	if d, ok := hookTimeouts[hookType]; ok {
		return d
	}
	return 5 * time.Second
}

// handle wraps one live worker subprocess.
type handle struct {
	id      int
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	stdout  *bufio.Reader
	stderr  *stderrBuffer
	idle    *time.Timer
}

// Options configures pool sizing and command construction.
type Options struct {
	MinSize     int
	MaxSize     int
	IdleTimeout time.Duration
	Command     string   // executable invoked for every handle
	Args        []string // fixed args prepended to every handle's invocation
}

func (o Options) withDefaults() Options {
	if o.MinSize <= 0 {
		o.MinSize = 1
	}
	if o.MaxSize <= 0 {
		o.MaxSize = 3
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.Command == "" {
		o.Command = "true" // a no-op default so a pool can exist without a configured hook runner
	}
	return o
}

// Pool is the C5 component.
type Pool struct {
	opts Options
	log  *logrus.Entry

	mu       sync.Mutex
	free     []*handle
	live     int
	nextID   int
	shutdown bool
}

// New constructs a Pool and spawns minSize handles eagerly, per spec.md
// §4.10's "ProcessPool unable to create a single process at startup" being
// a fatal condition — callers are expected to check that first spawn here.
func New(opts Options, log *logrus.Entry) (*Pool, error) {
	opts = opts.withDefaults()
	p := &Pool{opts: opts, log: log}

	for i := 0; i < opts.MinSize; i++ {
		h, err := p.spawn()
		if err != nil {
			return nil, errs.Wrap(errs.KindFatal, "pool", "spawn initial handle", err)
		}
		p.mu.Lock()
		p.free = append(p.free, h)
		p.mu.Unlock()
	}
	return p, nil
}

func (p *Pool) spawn() (*handle, error) {
	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errBuf := newStderrBuffer()
	cmd.Stderr = errBuf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.live++
	p.mu.Unlock()

	return &handle{
		id:     id,
		cmd:    cmd,
		stdin:  bufio.NewWriter(stdin),
		stdout: bufio.NewReader(stdout),
		stderr: errBuf,
	}, nil
}

// Acquire returns a free handle, spawning one if under maxSize, otherwise
// polling every 100ms (spec.md §4.5 acquire()).
func (p *Pool) Acquire(ctx context.Context) (*handle, error) {
	for {
		p.mu.Lock()
		if p.shutdown {
			p.mu.Unlock()
			return nil, errs.New(errs.KindFatal, "pool", "shutting down")
		}
		if n := len(p.free); n > 0 {
			h := p.free[n-1]
			p.free = p.free[:n-1]
			if h.idle != nil {
				h.idle.Stop()
			}
			p.mu.Unlock()
			return h, nil
		}
		canSpawn := p.live < p.opts.MaxSize
		p.mu.Unlock()

		if canSpawn {
			h, err := p.spawn()
			if err != nil {
				return nil, errs.Wrap(errs.KindTransient, "pool", "spawn", err)
			}
			return h, nil
		}

		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindTimeout, "pool", "acquire cancelled", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release returns h to the free list with a fresh idle timer, or terminates
// it if the pool is already at capacity (spec.md §4.5 release()).
func (p *Pool) Release(h *handle) {
	p.mu.Lock()
	if p.shutdown || len(p.free) >= p.opts.MaxSize {
		p.mu.Unlock()
		p.terminate(h)
		return
	}
	h.idle = time.AfterFunc(p.opts.IdleTimeout, func() { p.expireIdle(h) })
	p.free = append(p.free, h)
	p.mu.Unlock()
}

func (p *Pool) expireIdle(h *handle) {
	p.mu.Lock()
	for i, f := range p.free {
		if f == h {
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.terminate(h)
}

// terminate sends SIGTERM, then SIGKILL after 5s if the process hasn't
// exited (spec.md §4.5).
func (p *Pool) terminate(h *handle) {
	_ = h.cmd.Process.Signal(processTerminateSignal)
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = h.cmd.Process.Kill()
		<-done
	}

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

// ExecuteHook sends one command line to an acquired handle, waits for the
// completion sentinel, and returns the accumulated output (spec.md §4.5
// executeHook(), §6 hook subprocess protocol). On timeout the handle is
// terminated and not returned to the pool.
func (p *Pool) ExecuteHook(ctx context.Context, hookType domain.HookType, argLine string) (string, error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}

	timeout := Timeout(hookType)
	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		if _, err := h.stdin.WriteString(fmt.Sprintf("hook %s %s\n", hookType, argLine)); err != nil {
			errCh <- fmt.Errorf("write command: %w", err)
			return
		}
		if err := h.stdin.Flush(); err != nil {
			errCh <- fmt.Errorf("flush command: %w", err)
			return
		}

		var out []byte
		for {
			line, err := h.stdout.ReadString('\n')
			out = append(out, []byte(line)...)
			if err != nil {
				errCh <- fmt.Errorf("read stdout: %w", err)
				return
			}
			if containsSentinel(line) {
				break
			}
		}
		resultCh <- string(out)
	}()

	select {
	case out := <-resultCh:
		p.Release(h)
		return out, nil
	case err := <-errCh:
		p.terminate(h)
		return "", errs.Wrap(errs.KindTransient, "pool", "execute hook", fmt.Errorf("%w (stderr: %s)", err, h.stderr.String()))
	case <-time.After(timeout):
		p.terminate(h)
		return "", errs.New(errs.KindTimeout, "pool", fmt.Sprintf("hook %s exceeded %s", hookType, timeout))
	case <-ctx.Done():
		p.terminate(h)
		return "", errs.Wrap(errs.KindTimeout, "pool", "execute hook cancelled", ctx.Err())
	}
}

func containsSentinel(line string) bool {
	for i := 0; i+len(completionSentinel) <= len(line); i++ {
		if line[i:i+len(completionSentinel)] == completionSentinel {
			return true
		}
	}
	return false
}

// Shutdown clears all timers, terminates every handle, and empties the
// pool (spec.md §4.5 shutdown()).
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	handles := p.free
	p.free = nil
	for _, h := range handles {
		if h.idle != nil {
			h.idle.Stop()
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			p.terminate(h)
		}(h)
	}
	wg.Wait()
}

// Reinitialize terminates every free handle, clears the shutdown flag, and
// re-spawns minSize handles fresh (spec.md §4.4 emergencyReset()
// reinitializing the ProcessPool). Unlike Shutdown, the pool accepts new
// Acquire calls again once this returns.
func (p *Pool) Reinitialize() error {
	p.mu.Lock()
	handles := p.free
	p.free = nil
	p.shutdown = true
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			p.terminate(h)
		}(h)
	}
	wg.Wait()

	p.mu.Lock()
	p.shutdown = false
	p.mu.Unlock()

	for i := 0; i < p.opts.MinSize; i++ {
		h, err := p.spawn()
		if err != nil {
			return errs.Wrap(errs.KindFatal, "pool", "respawn handle", err)
		}
		p.mu.Lock()
		p.free = append(p.free, h)
		p.mu.Unlock()
	}
	return nil
}

// LiveCount reports the number of live (free + in-use) handles.
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}
