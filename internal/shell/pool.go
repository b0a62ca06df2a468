package shell

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/shellpool/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Tracer observes busy transitions. Both hooks run under the pool mutex.
type Tracer interface {
	Acquired(p *Process)
	Released(p *Process)
}

// Config configures one Pool.
type Config struct {
	Kind    Kind
	Spawner Spawner

	// ExecutablePath is the resolved privileged-utility binary. Empty means
	// not initialized and every Execute fails with ErrNotInitialized.
	ExecutablePath string
	// UsePrefix prepends the escaped ExecutablePath to every command line.
	UsePrefix bool

	ExecTimeout  time.Duration
	ProbeTimeout time.Duration
	// MaxProcesses caps live subprocesses; 0 means unlimited.
	MaxProcesses int
	// SyncStderr echoes the marker on stderr too and waits for both streams.
	SyncStderr bool

	Markers MarkerFunc
	Tracer  Tracer
}

// DefaultConfig returns pool defaults for a kind. The privileged pool
// prefixes commands with the executable path; the unprivileged pool does not.
func DefaultConfig(kind Kind) Config {
	return Config{
		Kind:         kind,
		Spawner:      LocalSpawner{},
		UsePrefix:    kind == Privileged,
		ExecTimeout:  30 * time.Second,
		ProbeTimeout: 5 * time.Second,
		SyncStderr:   true,
		Markers:      NewMarker,
	}
}

func (c Config) withDefaults() Config {
	if c.Spawner == nil {
		c.Spawner = LocalSpawner{}
	}
	if c.Markers == nil {
		c.Markers = NewMarker
	}
	if c.MaxProcesses < 0 {
		c.MaxProcesses = 0
	}
	return c
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Kind string `json:"kind"`
	Size int    `json:"size"`
	Idle int    `json:"idle"`
	Busy int    `json:"busy"`
}

// Pool owns the live shell subprocesses of one kind and their busy flags.
// Pool is safe for concurrent use.
type Pool struct {
	cfg    Config
	prefix string
	sem    *semaphore.Weighted

	mu    sync.Mutex
	procs map[string]*Process
	// generation is bumped by Reset so spawns that straddle it are dropped.
	generation uint64
}

// NewPool creates an empty pool. Subprocesses are spawned lazily.
func NewPool(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:   cfg,
		procs: make(map[string]*Process),
	}
	if cfg.UsePrefix {
		p.prefix = EscapePath(strings.TrimSpace(cfg.ExecutablePath))
	}
	if cfg.MaxProcesses > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.MaxProcesses))
	}
	return p
}

// Kind returns the pool class.
func (p *Pool) Kind() Kind {
	return p.cfg.Kind
}

// Acquire returns an idle process flagged busy, spawning one when none is
// idle. Every successful Acquire must be paired with Release or Discard.
// Spawning runs outside the pool mutex.
func (p *Pool) Acquire(ctx context.Context) (*Process, error) {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	proc, generation := p.takeIdle()
	if proc != nil {
		return proc, nil
	}

	proc, err := p.cfg.Spawner.Spawn(p.cfg.Kind)
	if err != nil {
		p.releaseSlot()
		return nil, &SpawnError{Kind: p.cfg.Kind, Err: err}
	}

	p.mu.Lock()
	if p.generation != generation {
		p.mu.Unlock()
		_ = proc.Kill()
		p.releaseSlot()
		return nil, fmt.Errorf("%w: kind=%s process=%s pool reset during spawn", ErrProcessTerminated, p.cfg.Kind, proc.ID)
	}
	p.procs[proc.ID] = proc
	p.markBusy(proc)
	size := len(p.procs)
	p.mu.Unlock()

	observability.RecordSpawn(p.cfg.Kind.String())
	observability.SetLiveProcesses(p.cfg.Kind.String(), size)
	log.Debug().
		Str("kind", p.cfg.Kind.String()).
		Str("process", proc.ID).
		Int("size", size).
		Msg("shell process spawned")
	return proc, nil
}

// takeIdle flags and returns an idle live process, or nil with the current
// reset generation. Exited idle processes are killed and dropped on the way.
func (p *Pool) takeIdle() (*Process, uint64) {
	p.mu.Lock()
	var dead []*Process
	var found *Process
	for id, proc := range p.procs {
		if proc.busy {
			continue
		}
		if proc.HasExited() {
			delete(p.procs, id)
			dead = append(dead, proc)
			continue
		}
		p.markBusy(proc)
		found = proc
		break
	}
	generation, size := p.generation, len(p.procs)
	p.mu.Unlock()

	for _, proc := range dead {
		_ = proc.Kill()
	}
	if len(dead) > 0 {
		observability.SetLiveProcesses(p.cfg.Kind.String(), size)
	}
	return found, generation
}

func (p *Pool) releaseSlot() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

func (p *Pool) markBusy(proc *Process) {
	proc.busy = true
	if p.cfg.Tracer != nil {
		p.cfg.Tracer.Acquired(proc)
	}
}

// Release flags proc idle again. A process dropped by Reset in the meantime
// stays dropped.
func (p *Pool) Release(proc *Process) {
	p.mu.Lock()
	if tracked, ok := p.procs[proc.ID]; ok && tracked == proc {
		if p.cfg.Tracer != nil {
			p.cfg.Tracer.Released(proc)
		}
		proc.busy = false
	}
	p.mu.Unlock()

	p.releaseSlot()
}

// Discard kills proc and stops tracking it. Used for processes that died or
// stopped answering mid-call.
func (p *Pool) Discard(proc *Process) {
	p.mu.Lock()
	if tracked, ok := p.procs[proc.ID]; ok && tracked == proc {
		if p.cfg.Tracer != nil {
			p.cfg.Tracer.Released(proc)
		}
		delete(p.procs, proc.ID)
	}
	size := len(p.procs)
	p.mu.Unlock()

	_ = proc.Kill()
	observability.SetLiveProcesses(p.cfg.Kind.String(), size)
	p.releaseSlot()
}

// Reset force-terminates every tracked process and empties the pool.
// Calls in flight on a killed process fail with ErrProcessTerminated.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.generation++
	killed := len(p.procs)
	for id, proc := range p.procs {
		_ = proc.Kill()
		delete(p.procs, id)
	}
	p.mu.Unlock()

	if killed == 0 {
		return
	}
	observability.RecordReset(p.cfg.Kind.String(), killed)
	observability.SetLiveProcesses(p.cfg.Kind.String(), 0)
	log.Debug().
		Str("kind", p.cfg.Kind.String()).
		Int("killed", killed).
		Msg("shell pool reset")
}

// Size returns the number of tracked processes.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// Idle returns the number of tracked processes not serving a call.
func (p *Pool) Idle() int {
	return p.Stats().Idle
}

// Stats returns size and busy/idle counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{Kind: p.cfg.Kind.String(), Size: len(p.procs)}
	for _, proc := range p.procs {
		if proc.busy {
			stats.Busy++
		} else {
			stats.Idle++
		}
	}
	return stats
}
