package runner

import "fmt"

// Step names the part of a connector run that failed.
type Step string

const (
	StepRunChecks    Step = "run checks"
	StepPersistState Step = "persist state"
)

// RunError reports a connector run that ended early. The loop logs it and
// tries again on the next tick.
type RunError struct {
	Connector string
	Step      Step
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("connector %s: %s: %v", e.Connector, e.Step, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
