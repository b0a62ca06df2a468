package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/shellpool/internal/observability"
)

// ProbeCommand and ProbeOutput form the availability round-trip.
const (
	ProbeCommand = "echo test"
	ProbeOutput  = "test"
)

// Execute runs a command batch on one pooled shell and returns stdout lines.
// Non-empty stderr fails the call with a *CommandError carrying that text.
func (p *Pool) Execute(ctx context.Context, commands ...string) ([]string, error) {
	if strings.TrimSpace(p.cfg.ExecutablePath) == "" {
		return nil, ErrNotInitialized
	}
	if len(commands) == 0 {
		return []string{}, nil
	}

	start := time.Now()
	lines, err := p.execute(ctx, commands)
	observability.RecordExecution(p.cfg.Kind.String(), Outcome(err), time.Since(start))
	return lines, err
}

// ExecuteSafe is Execute with every failure collapsed into a nil result.
func (p *Pool) ExecuteSafe(ctx context.Context, commands ...string) []string {
	lines, err := p.Execute(ctx, commands...)
	if err != nil {
		return nil
	}
	return lines
}

// Available reports whether the pool's shell answers the probe round-trip
// within ProbeTimeout.
func (p *Pool) Available(ctx context.Context) bool {
	if p.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		defer cancel()
	}
	lines, err := p.Execute(ctx, ProbeCommand)
	return err == nil && len(lines) > 0 && lines[0] == ProbeOutput
}

func (p *Pool) execute(ctx context.Context, commands []string) ([]string, error) {
	proc, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.settlePending(ctx, proc); err != nil {
		p.Discard(proc)
		return nil, err
	}
	// Both markers of the previous batch were consumed, so anything still
	// buffered is unsolicited output.
	proc.stdout.discard()
	proc.stderr.discard()

	marker := p.cfg.Markers()
	if err := proc.write(Frame(p.prefix, commands, marker)); err != nil {
		var out, errOut bytes.Buffer
		collectRemaining(proc, &out, &errOut, exitGrace)
		p.Discard(proc)
		return nil, p.terminated(proc, "write stdin", errOut.String())
	}

	syncStderr := p.cfg.SyncStderr
	stdout, stderr, err := p.wait(ctx, proc, func(stdout, stderr string) bool {
		return settled(stdout, stderr, marker, syncStderr)
	})
	if err != nil {
		p.Discard(proc)
		return nil, err
	}
	proc.pending = pendingMarker{
		marker: marker,
		stdout: !strings.Contains(stdout, marker),
		stderr: !strings.Contains(stderr, marker),
	}
	p.Release(proc)

	return classify(stdout, stderr, marker)
}

// pendingMarker records which streams still owe the marker of a batch that
// ended early on stderr.
type pendingMarker struct {
	marker string
	stdout bool
	stderr bool
}

func (m pendingMarker) owed() bool {
	return m.stdout || m.stderr
}

// settlePending consumes the tail of a batch that ended early on stderr, so
// neither its output nor its markers show up in the next call.
func (p *Pool) settlePending(ctx context.Context, proc *Process) error {
	pending := proc.pending
	if !pending.owed() {
		return nil
	}
	_, _, err := p.wait(ctx, proc, func(stdout, stderr string) bool {
		return (!pending.stdout || strings.Contains(stdout, pending.marker)) &&
			(!pending.stderr || strings.Contains(stderr, pending.marker))
	})
	if err != nil {
		return err
	}
	proc.pending = pendingMarker{}
	return nil
}

// exitGrace bounds how long a dead process gets to flush its pipes.
const exitGrace = 500 * time.Millisecond

// wait collects stdout and stderr until done reports true, the process goes
// away, the exec timeout fires or ctx ends.
func (p *Pool) wait(ctx context.Context, proc *Process, done func(stdout, stderr string) bool) (string, string, error) {
	var out, errOut bytes.Buffer

	var deadline <-chan time.Time
	if p.cfg.ExecTimeout > 0 {
		timer := time.NewTimer(p.cfg.ExecTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		stdoutOpen := proc.stdout.drain(&out)
		stderrOpen := proc.stderr.drain(&errOut)
		if done(out.String(), errOut.String()) {
			return out.String(), errOut.String(), nil
		}
		if !stdoutOpen || !stderrOpen {
			collectRemaining(proc, &out, &errOut, exitGrace)
			return "", "", p.terminated(proc, "stream closed", errOut.String())
		}

		select {
		case chunk, ok := <-proc.stdout.chunks:
			if ok {
				out.Write(chunk)
			}
		case chunk, ok := <-proc.stderr.chunks:
			if ok {
				errOut.Write(chunk)
			}
		case <-proc.Done():
			collectRemaining(proc, &out, &errOut, exitGrace)
			if done(out.String(), errOut.String()) {
				return out.String(), errOut.String(), nil
			}
			return "", "", p.terminated(proc, "process exited", errOut.String())
		case <-deadline:
			return "", "", fmt.Errorf("%w: kind=%s process=%s after=%s", ErrTimeout, p.cfg.Kind, proc.ID, p.cfg.ExecTimeout)
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

// collectRemaining reads both streams until they close or grace runs out.
func collectRemaining(proc *Process, out, errOut *bytes.Buffer, grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	stdout, stderr := proc.stdout.chunks, proc.stderr.chunks
	for stdout != nil || stderr != nil {
		select {
		case chunk, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			out.Write(chunk)
		case chunk, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			errOut.Write(chunk)
		case <-timer.C:
			return
		}
	}
}

func (p *Pool) terminated(proc *Process, reason, stderr string) error {
	err := fmt.Errorf("%w: kind=%s process=%s %s", ErrProcessTerminated, p.cfg.Kind, proc.ID, reason)
	if text := strings.TrimSpace(stderr); text != "" {
		err = fmt.Errorf("%w: stderr=%q", err, text)
	}
	if exitErr := proc.ExitError(); exitErr != nil {
		err = fmt.Errorf("%w: %v", err, exitErr)
	}
	return err
}

// settled reports whether the batch output is complete: both streams end
// with the marker. Without syncStderr, stderr text ending in a newline ahead
// of its marker also ends the wait.
func settled(stdout, stderr, marker string, syncStderr bool) bool {
	stdoutDone := strings.HasSuffix(strings.TrimSpace(stdout), marker)
	stderrDone := strings.HasSuffix(strings.TrimSpace(stderr), marker)
	if stdoutDone && stderrDone {
		return true
	}
	if syncStderr {
		return false
	}
	text := cutFirst(stderr, marker)
	return strings.TrimSpace(text) != "" && strings.HasSuffix(text, "\n")
}

// classify turns the drained text into result lines or a CommandError.
func classify(stdout, stderr, marker string) ([]string, error) {
	if errText := strings.TrimSpace(cutFirst(stderr, marker)); errText != "" {
		return nil, &CommandError{Stderr: errText}
	}

	result := strings.TrimSpace(cutLast(strings.TrimSpace(stdout), marker))
	if result == "" {
		return []string{}, nil
	}
	if !strings.Contains(result, "\n") {
		return []string{result}, nil
	}
	return strings.Split(result, "\n"), nil
}

// cutFirst truncates s at the first occurrence of sep.
func cutFirst(s, sep string) string {
	before, _, _ := strings.Cut(s, sep)
	return before
}

// cutLast truncates s at the last occurrence of sep.
func cutLast(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i]
	}
	return s
}

// Outcome maps an Execute error to a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCommandFailed):
		return "command_failed"
	case errors.Is(err, ErrProcessTerminated):
		return "terminated"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSpawn):
		return "spawn_failed"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
