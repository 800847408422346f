// Package check runs readiness checks for servo connectors.
//
// A check is an atomic verification that some aspect of a connector's
// configuration is functional. Handlers are plain Go functions that report
// their outcome as a bool, a string, a (bool, string) pair, nothing at all,
// or an error. The package wraps them into Check values that produce a
// Result on every run, collects them in declaration order into a
// Collection, and runs a Collection with an optional Filter and a
// HaltPolicy that lets required checks stop the run early.
package check

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	idDigestSize = 4
	maxTagLength = 32
)

var tagPattern = regexp.MustCompile(`^[0-9a-z.-]*$`)

// Result reports the outcome of a single check.
//
// A Result is built unrun by a Check, filled in exactly once by RunHandler
// and treated as a value afterwards.
type Result struct {
	Name        string     `json:"name" yaml:"name"`
	ID          string     `json:"id" yaml:"id"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool       `json:"required" yaml:"required"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Success     *bool      `json:"success,omitempty" yaml:"success,omitempty"`
	Message     string     `json:"message,omitempty" yaml:"message,omitempty"`
	Exception   *Exception `json:"exception,omitempty" yaml:"exception,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	RunAt       *time.Time `json:"run_at,omitempty" yaml:"run_at,omitempty"`
	Runtime     *Duration  `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// NewResult returns an unrun Result for the given spec. The id is derived
// from the name when the spec does not carry one.
func NewResult(spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	id := spec.ID
	if id == "" {
		id = GenerateID(spec.Name)
	}
	return Result{
		Name:        spec.Name,
		ID:          id,
		Description: spec.Description,
		Required:    spec.Required,
		Tags:        normalizeTags(spec.Tags),
		CreatedAt:   time.Now(),
	}, nil
}

// Failed reports whether the check did not succeed. An unrun check counts as failed.
func (r Result) Failed() bool {
	return r.Success == nil || !*r.Success
}

// Passed reports whether the check ran and succeeded.
func (r Result) Passed() bool {
	return !r.Failed()
}

// HasRun reports whether execution of the check has started.
func (r Result) HasRun() bool {
	return r.RunAt != nil
}

// Status returns a short label for the outcome.
func (r Result) Status() string {
	switch {
	case r.Success == nil:
		return "pending"
	case *r.Success:
		return "passed"
	default:
		return "failed"
	}
}

// clone returns a copy that shares no mutable state with r.
func (r Result) clone() Result {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Success = nil
	out.Message = ""
	out.Exception = nil
	out.RunAt = nil
	out.Runtime = nil
	out.CreatedAt = time.Now()
	return out
}

func (r *Result) setSuccess(v bool) {
	r.Success = &v
}

// GenerateID derives the short identifier used for checks without an explicit id.
// The same name always yields the same 8 character hex id.
func GenerateID(name string) string {
	h, err := blake2b.New(idDigestSize, nil)
	if err != nil {
		// unreachable: the digest size is a valid constant and no key is used
		panic(err)
	}
	h.Write([]byte(name))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidationError reports malformed check or filter metadata.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateTag checks a single tag: 1 to 32 characters of lowercase
// alphanumerics, hyphens and periods. Surrounding whitespace is ignored.
func ValidateTag(tag string) error {
	trimmed := strings.TrimSpace(tag)
	switch {
	case trimmed == "":
		return &ValidationError{Field: "tag", Value: tag, Err: errors.New("must not be empty")}
	case len(trimmed) > maxTagLength:
		return &ValidationError{Field: "tag", Value: tag, Err: fmt.Errorf("must be at most %d characters", maxTagLength)}
	case !tagPattern.MatchString(trimmed):
		return &ValidationError{Field: "tag", Value: tag, Err: errors.New("may only contain lowercase alphanumerics, '-' and '.'")}
	}
	return nil
}

func validateTags(tags []string) error {
	for _, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			return err
		}
	}
	return nil
}

// normalizeTags trims, dedupes and sorts tags. Nil stays nil so that an
// untagged check can be told apart from one with an empty tag set.
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Duration is a time.Duration that marshals as text ("1.5s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Day and week units are accepted.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := str2duration.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
