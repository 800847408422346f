package check

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Handler is the normalized form of every check handler: it returns a value
// accepted by the result coercion (nil, bool, string, Verdict) or an error.
type Handler func(ctx context.Context) (any, error)

// RunHandler runs handler and records its outcome and timing on r.
//
// Errors returned by the handler and panics are recorded as failures and
// logged through the logger carried by ctx. The only error RunHandler
// returns is an *UnexpectedReturnError for values that cannot be coerced.
// RunAt and Runtime are always set, whatever the outcome.
func RunHandler(ctx context.Context, r *Result, handler Handler) (err error) {
	runAt := time.Now()
	r.RunAt = &runAt
	defer func() {
		elapsed := Duration(time.Since(runAt))
		r.Runtime = &elapsed
	}()

	value, handlerErr := invoke(ctx, handler)
	if handlerErr != nil {
		setError(zerolog.Ctx(ctx), r, handlerErr)
		return nil
	}
	return setOutcome(r, value)
}

func invoke(ctx context.Context, handler Handler) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			value = nil
			err = &PanicError{Value: recovered, Stack: debug.Stack()}
		}
	}()
	return handler(ctx)
}

// RunFunc runs a one-off handler under the given name and returns the
// resulting check. It suits connectors with too few conditions to warrant
// a Collection. The handler accepts the same shapes as Define.
func RunFunc(ctx context.Context, name, description string, fn any) (Result, error) {
	handler, err := adaptHandler(name, fn)
	if err != nil {
		return Result{}, err
	}
	r, err := NewResult(Spec{Name: name, Description: description})
	if err != nil {
		return Result{}, err
	}
	if err := RunHandler(ctx, &r, handler); err != nil {
		return r, err
	}
	return r, nil
}
