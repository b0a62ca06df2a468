package shell

import (
	"fmt"
	"os/exec"
	"strings"
)

// Spawner starts one interactive shell subprocess for a pool kind.
type Spawner interface {
	Spawn(kind Kind) (*Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(kind Kind) (*Process, error)

func (f SpawnerFunc) Spawn(kind Kind) (*Process, error) {
	return f(kind)
}

// LocalSpawner starts shells on the local host with os/exec.
type LocalSpawner struct {
	// Argv overrides the shell invocation per kind; DefaultArgv otherwise.
	Argv map[Kind][]string
	// Dir is the working directory of spawned shells.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

func (s LocalSpawner) Spawn(kind Kind) (*Process, error) {
	argv := argvFor(s.Argv, kind)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}
	configureProcAttr(cmd)

	var created []interface{ Close() error }
	cleanup := func() {
		for _, c := range created {
			_ = c.Close()
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	created = append(created, stdin)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	created = append(created, stdout)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	created = append(created, stderr)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("start %s: %w", strings.Join(argv, " "), err)
	}

	return newProcess(kind, stdin, stdout, stderr, cmd.Wait, func() error {
		return killTree(cmd)
	}), nil
}

func argvFor(overrides map[Kind][]string, kind Kind) []string {
	if argv, ok := overrides[kind]; ok && len(argv) > 0 && strings.TrimSpace(argv[0]) != "" {
		return argv
	}
	return DefaultArgv(kind)
}
