// Package toolbox is the facade over the privileged and unprivileged shell
// pools.
//
// Execute prefers the privileged pool whenever its probe round-trip works and
// falls back to the unprivileged pool otherwise. The executable path is fixed
// at construction; a Toolbox cannot exist without one.
package toolbox

import (
	"context"
	"strings"

	"github.com/danmuck/shellpool/internal/lifecycle"
	"github.com/danmuck/shellpool/internal/shell"
	"golang.org/x/sync/errgroup"
)

// Config configures both pools. Kind, ExecutablePath and UsePrefix of the
// pool configs are overwritten by New.
type Config struct {
	ExecutablePath string
	Privileged     shell.Config
	Unprivileged   shell.Config
}

// DefaultConfig returns pool defaults for an already resolved executable.
func DefaultConfig(executablePath string) Config {
	return Config{
		ExecutablePath: executablePath,
		Privileged:     shell.DefaultConfig(shell.Privileged),
		Unprivileged:   shell.DefaultConfig(shell.Unprivileged),
	}
}

// Toolbox owns the two named pools and the observer tracker that tears them
// down.
type Toolbox struct {
	executablePath string
	privileged     *shell.Pool
	unprivileged   *shell.Pool
	observers      *lifecycle.Tracker
}

// New builds both pools. It fails with shell.ErrNotInitialized when the
// executable path is empty.
func New(cfg Config) (*Toolbox, error) {
	path := strings.TrimSpace(cfg.ExecutablePath)
	if path == "" {
		return nil, shell.ErrNotInitialized
	}

	priv := cfg.Privileged
	priv.Kind = shell.Privileged
	priv.ExecutablePath = path
	priv.UsePrefix = true

	unpriv := cfg.Unprivileged
	unpriv.Kind = shell.Unprivileged
	unpriv.ExecutablePath = path
	unpriv.UsePrefix = false

	tb := &Toolbox{
		executablePath: path,
		privileged:     shell.NewPool(priv),
		unprivileged:   shell.NewPool(unpriv),
	}
	tb.observers = lifecycle.NewTracker(tb.Reset)
	return tb, nil
}

func (tb *Toolbox) ExecutablePath() string {
	return tb.executablePath
}

func (tb *Toolbox) Privileged() *shell.Pool {
	return tb.privileged
}

func (tb *Toolbox) Unprivileged() *shell.Pool {
	return tb.unprivileged
}

// Pool returns the named pool for kind.
func (tb *Toolbox) Pool(kind shell.Kind) *shell.Pool {
	if kind == shell.Privileged {
		return tb.privileged
	}
	return tb.unprivileged
}

// Observers is the lifecycle side of the facade; detaching the last
// observer resets both pools.
func (tb *Toolbox) Observers() *lifecycle.Tracker {
	return tb.observers
}

// Select probes the privileged pool and returns it when available, the
// unprivileged pool otherwise.
func (tb *Toolbox) Select(ctx context.Context) *shell.Pool {
	if tb.privileged.Available(ctx) {
		return tb.privileged
	}
	return tb.unprivileged
}

// Execute runs the batch on the privileged pool when available, otherwise on
// the unprivileged pool.
func (tb *Toolbox) Execute(ctx context.Context, commands ...string) ([]string, error) {
	_, lines, err := tb.Run(ctx, commands...)
	return lines, err
}

// Run is Execute that also returns the pool that served the batch. An empty
// batch touches no pool, probe included, and returns a nil pool.
func (tb *Toolbox) Run(ctx context.Context, commands ...string) (*shell.Pool, []string, error) {
	if len(commands) == 0 {
		return nil, []string{}, nil
	}
	pool := tb.Select(ctx)
	lines, err := pool.Execute(ctx, commands...)
	return pool, lines, err
}

// ExecuteSafe is Execute returning nil instead of an error.
func (tb *Toolbox) ExecuteSafe(ctx context.Context, commands ...string) []string {
	lines, err := tb.Execute(ctx, commands...)
	if err != nil {
		return nil
	}
	return lines
}

// Reset kills every subprocess of both pools.
func (tb *Toolbox) Reset() {
	var g errgroup.Group
	g.Go(func() error {
		tb.privileged.Reset()
		return nil
	})
	g.Go(func() error {
		tb.unprivileged.Reset()
		return nil
	})
	_ = g.Wait()
}

// Stats returns a snapshot of both pools, privileged first.
func (tb *Toolbox) Stats() []shell.Stats {
	return []shell.Stats{tb.privileged.Stats(), tb.unprivileged.Stats()}
}
