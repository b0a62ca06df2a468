// Package install resolves the privileged-utility executable.
//
// Ownership boundary:
// - extracting the bundled binary into a workspace-local install root
//
// - executable-bit verification on every resolve
//
// The resolved path is handed to the shell pools as an opaque string.
package install
