package shell

import (
	"strings"
	"unicode"
)

// EscapePath backslash-escapes every whitespace rune so the shell reads the
// path as one token.
func EscapePath(path string) string {
	if !strings.ContainsFunc(path, unicode.IsSpace) {
		return path
	}
	var builder strings.Builder
	builder.Grow(len(path) + 4)
	for _, r := range path {
		if unicode.IsSpace(r) {
			builder.WriteByte('\\')
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// Frame builds the literal stdin payload for one batch: one line per command,
// each prefixed when prefix is set, then the marker echoed to stdout and to
// stderr so both streams carry a terminator.
func Frame(prefix string, commands []string, marker string) string {
	var builder strings.Builder
	for _, command := range commands {
		if prefix != "" {
			builder.WriteString(prefix)
			builder.WriteByte(' ')
		}
		builder.WriteString(command)
		builder.WriteByte('\n')
	}
	builder.WriteString("echo ")
	builder.WriteString(marker)
	builder.WriteString("\necho ")
	builder.WriteString(marker)
	builder.WriteString(" >&2\n")
	return builder.String()
}
