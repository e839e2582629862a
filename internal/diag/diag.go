// Package diag defines the structured diagnostics emitted when lowering a
// function fails. Every failure in the pipeline is deterministic given the
// same input and tables, so a diagnostic always points at either the target
// description or the input module, never at a transient condition.
package diag

import (
	"errors"
	"fmt"
)

// Error locates a fatal lowering failure: which function, where inside it,
// which stage gave up, and why. It is the only externally observable artifact
// of a failed function.
type Error struct {
	Fn     string // function name
	Block  int    // block index, -1 if not block-specific
	Instr  int    // instruction index within the function arena, -1 if n/a
	Stage  string // stage name ("translate", "legalize", ...)
	Op     string // operation involved, if any
	Reason string
}

func (e *Error) Error() string {
	loc := e.Fn
	if e.Block >= 0 {
		loc = fmt.Sprintf("%s: block %d", loc, e.Block)
	}
	if e.Instr >= 0 {
		loc = fmt.Sprintf("%s: instr %d", loc, e.Instr)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s: %s", loc, e.Stage, e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", loc, e.Stage, e.Reason)
}

// Errf builds an Error with a formatted reason.
func Errf(stage, fn string, block, instr int, op, format string, args ...any) *Error {
	return &Error{
		Fn:     fn,
		Block:  block,
		Instr:  instr,
		Stage:  stage,
		Op:     op,
		Reason: fmt.Sprintf(format, args...),
	}
}

// AsError unwraps err into a *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
