package shell

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Process is one long-lived shell subprocess tracked by a Pool.
//
// The busy flag is owned by the Pool and only read or written under the
// Pool's mutex.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Kind is the pool class the process was spawned for.
	Kind Kind

	// Started is the time the process was spawned.
	Started time.Time

	stdin  io.WriteCloser
	stdout *stream
	stderr *stream

	// done is closed when the subprocess exits.
	done chan struct{}
	// quit is closed on Kill so the stream pumps stop.
	quit chan struct{}

	kill     func() error
	killOnce sync.Once

	exited  atomic.Bool
	exitErr error
	mu      sync.RWMutex

	busy bool
	// pending tracks a batch that finished early on stderr and whose stream
	// tails have not been read yet. Only the busy holder touches it.
	pending pendingMarker
}

// newProcess wires the pipes of an already started subprocess. wait must
// block until the subprocess exits; kill must force-terminate it.
func newProcess(kind Kind, stdin io.WriteCloser, stdout, stderr io.Reader, wait func() error, kill func() error) *Process {
	p := &Process{
		ID:      uuid.NewString(),
		Kind:    kind,
		Started: time.Now(),
		stdin:   stdin,
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
		kill:    kill,
	}
	p.stdout = startStream(stdout, p.quit)
	p.stderr = startStream(stderr, p.quit)
	go p.waitLoop(wait)
	return p
}

// waitLoop reaps the subprocess once both pumps hit EOF, so wait never closes
// a pipe that still holds unread output.
func (p *Process) waitLoop(wait func() error) {
	<-p.stdout.closed
	<-p.stderr.closed
	err := wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	p.exited.Store(true)
	close(p.done)
}

// Done returns a channel that is closed when the subprocess exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// HasExited reports whether the subprocess is gone.
func (p *Process) HasExited() bool {
	return p.exited.Load()
}

// ExitError returns the error reported when the subprocess exited, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Kill closes stdin and force-terminates the subprocess. It is one-shot:
// later calls return nil without signalling again.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		close(p.quit)
		_ = p.stdin.Close()
		if p.kill != nil {
			err = p.kill()
		}
	})
	return err
}

func (p *Process) write(payload string) error {
	if _, err := io.WriteString(p.stdin, payload); err != nil {
		return fmt.Errorf("%w: write stdin: %v", ErrProcessTerminated, err)
	}
	return nil
}
