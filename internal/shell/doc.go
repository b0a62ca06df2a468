// Package shell owns pooled interactive shell execution.
//
// Ownership boundary:
// - shell kind selection and process spawning
//
// - idle/busy pool bookkeeping
//
// - command framing and sentinel-marker completion detection
//
// - stdout/stderr draining and result classification
//
// Execution order:
// - acquire -> write -> drain -> release -> classify
//
// - a process that dies or times out mid-drain is discarded, never released.
//
// The package never logs execution failures; every failure is returned to the
// immediate caller.
package shell
