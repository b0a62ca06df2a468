package shell

import (
	"fmt"
	"strings"
)

// Kind selects which shell program a pool spawns.
type Kind int

const (
	Unprivileged Kind = iota
	Privileged
)

// String returns the pool name used in logs, metrics and HTTP payloads.
func (k Kind) String() string {
	switch k {
	case Privileged:
		return "privileged"
	case Unprivileged:
		return "unprivileged"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind maps a pool name back to its Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "privileged", "su", "root":
		return Privileged, nil
	case "unprivileged", "sh", "user":
		return Unprivileged, nil
	default:
		return Unprivileged, fmt.Errorf("shell: unknown kind %q", raw)
	}
}

// DefaultArgv returns the shell invocation for a kind when none is configured.
func DefaultArgv(kind Kind) []string {
	if kind == Privileged {
		return []string{"su"}
	}
	return []string{"sh"}
}
