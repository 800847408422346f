package check

import (
	"fmt"
	"strings"
)

// HaltPolicy decides which failures stop a Collection run.
type HaltPolicy string

const (
	// HaltOnRequirement stops the run when a required check fails.
	HaltOnRequirement HaltPolicy = "requirement"
	// HaltOnCheck stops the run on any failure.
	HaltOnCheck HaltPolicy = "check"
	// HaltNever runs every applicable check regardless of failures.
	HaltNever HaltPolicy = "never"
)

// ParseHaltPolicy parses a policy name. Empty text yields HaltOnRequirement.
func ParseHaltPolicy(text string) (HaltPolicy, error) {
	switch HaltPolicy(strings.ToLower(strings.TrimSpace(text))) {
	case "", HaltOnRequirement:
		return HaltOnRequirement, nil
	case HaltOnCheck:
		return HaltOnCheck, nil
	case HaltNever:
		return HaltNever, nil
	default:
		return "", &ValidationError{Field: "halt policy", Value: text, Err: fmt.Errorf("expected one of %s, %s, %s", HaltOnRequirement, HaltOnCheck, HaltNever)}
	}
}

// Halts reports whether r stops the run under the policy.
func (p HaltPolicy) Halts(r Result) bool {
	if !r.Failed() {
		return false
	}
	switch p {
	case HaltOnCheck:
		return true
	case HaltNever:
		return false
	default:
		return r.Required
	}
}
