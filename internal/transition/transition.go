package transition

import (
	"sort"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/state"
)

// Status values carried by a transition. They match check.Result.Status.
const (
	StatusPending = "pending"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
)

// CheckTransition captures a status change of one check between two runs.
type CheckTransition struct {
	Connector string `json:"connector"`
	CheckID   string `json:"check_id"`
	Name      string `json:"name"`
	Required  bool   `json:"required"`
	Previous  string `json:"previous"`
	Current   string `json:"current"`
	Message   string `json:"message,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// Recovered reports whether the check moved from failing to passing.
func (t CheckTransition) Recovered() bool {
	return t.Previous == StatusFailed && t.Current == StatusPassed
}

// DetectCheckTransitions compares the stored snapshot of a connector with the
// results of its latest run. Checks seen for the first time only produce a
// transition when they fail; checks missing from the latest run are ignored.
func DetectCheckTransitions(connector string, prev *state.ConnectorSnapshot, current []check.Result) []CheckTransition {
	previous := map[string]check.Result{}
	if prev != nil {
		for _, r := range prev.Results {
			previous[r.ID] = r
		}
	}

	transitions := make([]CheckTransition, 0)
	for _, r := range current {
		if !r.HasRun() {
			continue
		}
		prevStatus := StatusPending
		if old, ok := previous[r.ID]; ok && old.HasRun() {
			prevStatus = old.Status()
		}
		status := r.Status()

		if prevStatus == status {
			continue
		}
		if prevStatus == StatusPending && status == StatusPassed {
			continue
		}

		t := CheckTransition{
			Connector: connector,
			CheckID:   r.ID,
			Name:      r.Name,
			Required:  r.Required,
			Previous:  prevStatus,
			Current:   status,
			Message:   r.Message,
		}
		if r.Exception != nil {
			t.Exception = r.Exception.String()
		}
		transitions = append(transitions, t)
	}

	sort.Slice(transitions, func(i, j int) bool {
		if transitions[i].Connector != transitions[j].Connector {
			return transitions[i].Connector < transitions[j].Connector
		}
		return transitions[i].CheckID < transitions[j].CheckID
	})

	return transitions
}
