// Package process launches and reaps a single encoder child: an argument
// vector in, a ChildHandle out, plus the signal/wait operations a source
// supervisor needs to drive its state machine.
//
// It does not know about restart policy, backoff, or multiple named
// children — that lifecycle belongs to internal/supervisor. This package
// only wraps os/exec: start, tail stdout/stderr line-wise into a bounded
// ring, signal, and wait with a deadline.
package process
