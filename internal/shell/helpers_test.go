package shell

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"
)

func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// newTestPool builds an unprivileged sh-backed pool that is reset on cleanup.
func newTestPool(t *testing.T, mutate func(*Config)) *Pool {
	t.Helper()
	requireShell(t)
	cfg := DefaultConfig(Unprivileged)
	cfg.ExecutablePath = "/opt/shellpool/busybox"
	cfg.ExecTimeout = 10 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	p := NewPool(cfg)
	t.Cleanup(p.Reset)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// busyTracer records which process ids are in use and counts double use.
type busyTracer struct {
	mu         sync.Mutex
	inUse      map[string]bool
	violations int
	acquired   int
}

func newBusyTracer() *busyTracer {
	return &busyTracer{inUse: make(map[string]bool)}
}

func (b *busyTracer) Acquired(p *Process) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse[p.ID] {
		b.violations++
	}
	b.inUse[p.ID] = true
	b.acquired++
}

func (b *busyTracer) Released(p *Process) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inUse, p.ID)
}
