package check

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Verdict is the (success, message) shape a handler may return as a single value.
type Verdict struct {
	Success bool
	Message string
}

// Exception captures an error raised while running a check.
// A nil *Exception means the check did not raise.
type Exception struct {
	Kind    string
	Message string
	Stack   string
}

func (e *Exception) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s(%q)", e.Kind, e.Message)
}

// MarshalText implements encoding.TextMarshaler so that exceptions always
// serialize as a string and never as a nested record.
func (e *Exception) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for persisted results.
// The stack is not round-tripped.
func (e *Exception) UnmarshalText(text []byte) error {
	s := string(text)
	kind, rest, ok := strings.Cut(s, "(")
	if !ok || !strings.HasSuffix(rest, ")") {
		e.Kind, e.Message = "", s
		return nil
	}
	e.Kind = kind
	e.Message = strings.TrimSuffix(rest, ")")
	if unquoted, err := strconv.Unquote(e.Message); err == nil {
		e.Message = unquoted
	}
	return nil
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// UnexpectedReturnError reports a handler value that cannot be coerced into a Result.
// It is a programmer error and is never recorded as a check failure.
type UnexpectedReturnError struct {
	Check string
	Type  string
}

func (e *UnexpectedReturnError) Error() string {
	return fmt.Sprintf("check %q returned unexpected value of type %q", e.Check, e.Type)
}

func newException(err error) *Exception {
	exc := &Exception{
		Kind:    errorKind(err),
		Message: err.Error(),
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		exc.Stack = string(panicErr.Stack)
	}
	return exc
}

func errorKind(err error) string {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return "panic"
	}
	kind := fmt.Sprintf("%T", err)
	kind = strings.TrimPrefix(kind, "*")
	return kind
}

// setOutcome records a handler's return value on r.
func setOutcome(r *Result, value any) error {
	switch v := value.(type) {
	case nil:
		r.setSuccess(true)
	case bool:
		r.setSuccess(v)
	case string:
		r.setSuccess(true)
		r.Message = v
	case Verdict:
		r.setSuccess(v.Success)
		r.Message = v.Message
	case error:
		r.setSuccess(false)
		r.Exception = newException(v)
		r.Message = fmt.Sprintf("caught exception: %s", r.Exception)
	default:
		return &UnexpectedReturnError{Check: r.Name, Type: fmt.Sprintf("%T", value)}
	}
	return nil
}

// setError records an error raised by a handler on r and logs it.
func setError(logger *zerolog.Logger, r *Result, err error) {
	_ = setOutcome(r, err)
	event := logger.Error().
		Err(err).
		Str("check", r.Name).
		Str("check_id", r.ID).
		Str("kind", r.Exception.Kind)
	if r.Exception.Stack != "" {
		event = event.Str("stack", r.Exception.Stack)
	}
	event.Msg("check raised an error")
}
