package tx

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures. Callers switch on the kind instead of concrete types.
type Kind int

const (
	KindUnknown Kind = iota
	// KindIllegalState: the caller broke the propagation contract.
	KindIllegalState
	KindInvalidTimeout
	// KindNestedNotSupported and KindSuspensionNotSupported are unsupported capabilities.
	KindNestedNotSupported
	KindSuspensionNotSupported
	// KindUnexpectedRollback: commit was requested but the transaction ended in rollback.
	KindUnexpectedRollback
	// KindResourceFailure: the provider failed to begin, commit or roll back.
	KindResourceFailure
)

func (k Kind) String() string {
	switch k {
	case KindIllegalState:
		return "illegal transaction state"
	case KindInvalidTimeout:
		return "invalid timeout"
	case KindNestedNotSupported:
		return "nested transaction not supported"
	case KindSuspensionNotSupported:
		return "transaction suspension not supported"
	case KindUnexpectedRollback:
		return "unexpected rollback"
	case KindResourceFailure:
		return "transaction resource failure"
	default:
		return "unknown transaction failure"
	}
}

var (
	ErrIllegalState           = &Error{Kind: KindIllegalState}
	ErrInvalidTimeout         = &Error{Kind: KindInvalidTimeout}
	ErrNestedNotSupported     = &Error{Kind: KindNestedNotSupported}
	ErrSuspensionNotSupported = &Error{Kind: KindSuspensionNotSupported}
	ErrUnexpectedRollback     = &Error{Kind: KindUnexpectedRollback}
	ErrResourceFailure        = &Error{Kind: KindResourceFailure}
)

// Error is the single error type returned by the engine.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Errorf builds an *Error of kind k.
func Errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// ResourceFailure wraps a provider error, keeping an existing kind if err already has one.
func ResourceFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: KindResourceFailure, Msg: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind names the kind in structured logs.
func (e *Error) ErrorKind() string { return e.Kind.String() }

// Is matches the kind sentinels (ErrIllegalState, ...) regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
