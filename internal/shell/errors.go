package shell

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized    = errors.New("shell: executable path is not initialized")
	ErrSpawn             = errors.New("shell: spawn failed")
	ErrCommandFailed     = errors.New("shell: command failed")
	ErrProcessTerminated = errors.New("shell: process terminated")
	ErrTimeout           = errors.New("shell: execution timed out")
)

// CommandError carries the trimmed stderr text of a failed batch.
// Its message is exactly that text.
type CommandError struct {
	Stderr string
}

func (e *CommandError) Error() string {
	return e.Stderr
}

// Is reports CommandError as ErrCommandFailed for errors.Is checks.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// SpawnError reports a shell subprocess that could not be created.
type SpawnError struct {
	Kind Kind
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%v: kind=%s: %v", ErrSpawn, e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}
