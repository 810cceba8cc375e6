package pool

import (
	"bytes"
	"sync"
	"syscall"
)

// processTerminateSignal is sent before escalating to SIGKILL (spec.md
// §4.5: "SIGTERM then SIGKILL after 5s if not dead").
var processTerminateSignal = syscall.SIGTERM

// stderrBuffer is a concurrency-safe sink for a handle's stderr, written by
// the subprocess's stderr copier and read back by ExecuteHook's error path.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newStderrBuffer() *stderrBuffer { return &stderrBuffer{} }

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
