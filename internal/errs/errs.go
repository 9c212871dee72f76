// Package errs implements the Panic channel the runtime uses for
// implementation invariant violations. The other, sharply distinguished
// channel, Throw for user-level exceptions that unwind through call frames
// and can be caught by the `try` builtin, is vm.ThrownError.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Panic is an implementation invariant violation: stack underflow, unknown
// opcode, allocator failure, malformed internal state. Never caught by user
// code.
type Panic struct {
	Message string
	cause   error
}

func (p *Panic) Error() string { return p.Message }

func (p *Panic) Unwrap() error { return p.cause }

// Raise panics with a *Panic, annotated with a stack trace via pkg/errors so
// a crashing embedder can print a useful trace.
func Raise(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(&Panic{Message: msg, cause: errors.New(msg)})
}

// IsPanic reports whether a recovered value from a deferred recover() is a
// *Panic (fatal, not catchable by try) as opposed to some other error value
// propagating as a user-level Throw.
func IsPanic(r interface{}) (*Panic, bool) {
	p, ok := r.(*Panic)
	return p, ok
}
