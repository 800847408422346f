package check

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// Spec is the fixed metadata of a check.
type Spec struct {
	Name        string
	Description string
	// ID is a short identifier for referencing the check. Define defaults it
	// to the handler's function name, NewResult to a digest of Name.
	ID       string
	Required bool
	Tags     []string
}

// Validate reports malformed metadata.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Err: errors.New("must not be empty")}
	}
	return validateTags(s.Tags)
}

// Check is a handler bound to its metadata. Every call to Run produces a
// fresh Result.
type Check struct {
	meta    Result
	handler Handler
}

// Define wraps fn into a Check.
//
// fn takes either no parameters or a single context.Context and returns
// one of: nothing, bool, string, (bool, string) or Verdict, optionally
// followed by an error; a lone error is accepted too. The signature is
// validated once, here, and a *SignatureError is returned for anything else.
func Define(spec Spec, fn any) (*Check, error) {
	handler, err := adaptHandler(spec.Name, fn)
	if err != nil {
		return nil, err
	}
	if spec.ID == "" {
		spec.ID = funcName(fn)
	}
	meta, err := NewResult(spec)
	if err != nil {
		return nil, err
	}
	return &Check{meta: meta, handler: handler}, nil
}

// MustDefine is like Define but panics on error. It is meant for package
// level check declarations.
func MustDefine(spec Spec, fn any) *Check {
	c, err := Define(spec, fn)
	if err != nil {
		panic(err)
	}
	return c
}

// Meta returns the check's metadata as an unrun Result.
func (c *Check) Meta() Result {
	return c.meta.clone()
}

// ID returns the check identifier.
func (c *Check) ID() string {
	return c.meta.ID
}

// Name returns the check name.
func (c *Check) Name() string {
	return c.meta.Name
}

// Run executes the check and returns its Result.
func (c *Check) Run(ctx context.Context) (Result, error) {
	r := c.meta.clone()
	err := RunHandler(ctx, &r, c.handler)
	return r, err
}

// SignatureError reports a handler whose signature cannot be used for a check.
type SignatureError struct {
	Check     string
	Signature string
	Reason    string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid check handler for %q: %s in signature %s", e.Check, e.Reason, e.Signature)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	boolType    = reflect.TypeOf(false)
	stringType  = reflect.TypeOf("")
	verdictType = reflect.TypeOf(Verdict{})
)

type resultShape int

const (
	shapeNone resultShape = iota
	shapeBool
	shapeString
	shapePair
	shapeVerdict
)

// boundHandler calls a validated handler with the extra arguments it declared.
type boundHandler func(ctx context.Context, args ...reflect.Value) (any, error)

func adaptHandler(name string, fn any) (Handler, error) {
	bound, err := bindHandler(name, fn)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (any, error) {
		return bound(ctx)
	}, nil
}

// bindHandler validates fn against the accepted handler signatures. params
// lists the types of arguments expected after the optional context.
func bindHandler(name string, fn any, params ...reflect.Type) (boundHandler, error) {
	if fn == nil {
		return nil, &SignatureError{Check: name, Signature: "<nil>", Reason: "handler is nil"}
	}
	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()
	sigErr := func(reason string) error {
		return &SignatureError{Check: name, Signature: fnType.String(), Reason: reason}
	}
	if fnType.Kind() != reflect.Func {
		return nil, sigErr("handler is not a function")
	}
	if fnValue.IsNil() {
		return nil, sigErr("handler is nil")
	}
	if fnType.IsVariadic() {
		return nil, sigErr("variadic parameters are not supported")
	}

	in := 0
	takesContext := fnType.NumIn() > 0 && fnType.In(0) == contextType
	if takesContext {
		in++
	}
	if fnType.NumIn()-in != len(params) {
		return nil, sigErr(fmt.Sprintf("unexpected parameter count %d", fnType.NumIn()))
	}
	for i, param := range params {
		if !param.AssignableTo(fnType.In(in + i)) {
			return nil, sigErr(fmt.Sprintf("unexpected parameter of type %s", fnType.In(in+i)))
		}
	}

	out := fnType.NumOut()
	returnsError := out > 0 && fnType.Out(out-1) == errorType
	if returnsError {
		out--
	}
	var shape resultShape
	switch {
	case out == 0:
		shape = shapeNone
	case out == 1 && fnType.Out(0) == boolType:
		shape = shapeBool
	case out == 1 && fnType.Out(0) == stringType:
		shape = shapeString
	case out == 1 && fnType.Out(0) == verdictType:
		shape = shapeVerdict
	case out == 2 && fnType.Out(0) == boolType && fnType.Out(1) == stringType:
		shape = shapePair
	default:
		return nil, sigErr("incompatible return types, expected bool, string, (bool, string) or Verdict with an optional error")
	}

	return func(ctx context.Context, args ...reflect.Value) (any, error) {
		callArgs := make([]reflect.Value, 0, len(args)+1)
		if takesContext {
			callArgs = append(callArgs, reflect.ValueOf(&ctx).Elem())
		}
		callArgs = append(callArgs, args...)
		results := fnValue.Call(callArgs)
		if returnsError {
			if errValue := results[len(results)-1]; !errValue.IsNil() {
				return nil, errValue.Interface().(error)
			}
		}
		switch shape {
		case shapeBool:
			return results[0].Bool(), nil
		case shapeString:
			return results[0].String(), nil
		case shapeVerdict:
			return results[0].Interface().(Verdict), nil
		case shapePair:
			return Verdict{Success: results[0].Bool(), Message: results[1].String()}, nil
		default:
			return nil, nil
		}
	}, nil
}

var anonymousFunc = regexp.MustCompile(`^(func\d+|\d+)$`)

// funcName returns the declared name of a named function or method value,
// or "" for closures.
func funcName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || anonymousFunc.MatchString(name) {
		return ""
	}
	return name
}
