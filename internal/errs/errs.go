package errs

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Wrap adds context and keeps errors.Is/As working on the cause.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	// err goes last so the trailing %w picks it up.
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}

// WithStack records the current stack once, at the boundary where a foreign
// error enters. Wrap/Wrapf on top of it keep the recorded stack.
func WithStack(err error) error {
	if err == nil {
		return nil
	}

	// Already captured deeper in the chain.
	var se *StackError
	if errors.As(err, &se) {
		return err
	}

	return &StackError{
		err:   err,
		stack: debug.Stack(),
	}
}

// StackError carries the stack captured by WithStack.
type StackError struct {
	err   error
	stack []byte
}

func (e *StackError) Error() string { return e.err.Error() }
func (e *StackError) Unwrap() error { return e.err }
func (e *StackError) Stack() []byte { return e.stack }

// kinded errors classify themselves, e.g. transaction failures.
type kinded interface {
	ErrorKind() string
}

type loggable struct{ err error }

// Loggable renders err as a structured group: slog.Any("err", errs.Loggable(err)).
func Loggable(err error) slog.LogValuer { return loggable{err: err} }

func (l loggable) LogValue() slog.Value {
	if l.err == nil {
		return slog.GroupValue()
	}

	attrs := []slog.Attr{
		slog.String("message", l.err.Error()),
		slog.Any("chain", ErrorChainStrings(l.err)),
	}

	var k kinded
	if errors.As(l.err, &k) {
		attrs = append(attrs, slog.String("kind", k.ErrorKind()))
	}

	var se *StackError
	if errors.As(l.err, &se) {
		// Plain string so JSON handlers keep it readable.
		attrs = append(attrs, slog.String("stack", string(se.Stack())))
	}

	return slog.GroupValue(attrs...)
}

// ErrorChainStrings returns the messages along the unwrap chain, outermost first.
func ErrorChainStrings(err error) []string {
	if err == nil {
		return nil
	}

	out := make([]string, 0, 8)
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e.Error())

		// errors.Join results have no single cause; descend into each branch.
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				out = append(out, ErrorChainStrings(inner)...)
			}
			break
		}
	}
	return out
}
