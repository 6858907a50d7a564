// Package errs defines the wire error taxonomy shared by the broker and its
// clients: CommandError for caller/protocol violations, TransferError for
// sticky SWD/JTAG bus faults, and an implicit catch-all for anything else a
// dispatch loop recovers from.
package errs

import "fmt"

// CommandError reports a protocol or argument violation: an unknown command,
// a state-machine violation, or an unknown probe id.
type CommandError struct {
	msg string
}

func NewCommandError(format string, args ...interface{}) *CommandError {
	return &CommandError{msg: fmt.Sprintf(format, args...)}
}

func (e *CommandError) Error() string { return e.msg }

// Kind identifies the wire error kind for encoding a {error, message} frame.
func (e *CommandError) Kind() string { return "CommandError" }

// TransferError reports a sticky SWD/JTAG bus fault surfaced by the debug
// engine after it has already self-healed its caches.
type TransferError struct {
	msg string
}

func NewTransferError(format string, args ...interface{}) *TransferError {
	return &TransferError{msg: fmt.Sprintf(format, args...)}
}

func (e *TransferError) Error() string { return e.msg }

func (e *TransferError) Kind() string { return "TransferError" }

// Kinder is implemented by errors that know their own wire error kind.
// Errors that don't implement it are reported under their dynamic Go type
// name, mirroring the Python server's `type(exc).__name__` fallback.
type Kinder interface {
	Kind() string
}
