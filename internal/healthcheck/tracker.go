package healthcheck

import (
	"sort"
	"sync"
	"time"

	"github.com/nholik/servo/internal/check"
)

// ConnectorStatus is the latest recorded run of one connector.
type ConnectorStatus struct {
	LastRun        time.Time `json:"last_run"`
	DurationMS     int64     `json:"duration_ms"`
	Total          int       `json:"total"`
	Passed         int       `json:"passed"`
	Failed         int       `json:"failed"`
	RequiredFailed int       `json:"required_failed"`
	Error          string    `json:"error,omitempty"`
}

// Ready reports whether the run completed without a failed required check.
func (s ConnectorStatus) Ready() bool {
	return s.Error == "" && s.RequiredFailed == 0
}

// Snapshot describes the latest cycle timing details.
type Snapshot struct {
	LastCycleTime       *time.Time                 `json:"last_cycle_time"`
	CycleDurationMS     int64                      `json:"cycle_duration_ms"`
	ConnectorsEvaluated int                        `json:"connectors_evaluated"`
	NotReady            []string                   `json:"not_ready,omitempty"`
	Connectors          map[string]ConnectorStatus `json:"connectors,omitempty"`
}

// Tracker records connector runs for health endpoints.
type Tracker struct {
	mu         sync.RWMutex
	lastCycle  time.Time
	duration   time.Duration
	connectors map[string]ConnectorStatus
	now        func() time.Time
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		connectors: make(map[string]ConnectorStatus),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordRun stores the outcome of one connector run. err is the error that
// aborted the run, if any.
func (t *Tracker) RecordRun(connector string, summary check.Summary, duration time.Duration, err error) {
	if t == nil {
		return
	}
	now := t.now()
	status := ConnectorStatus{
		LastRun:        now,
		DurationMS:     duration.Milliseconds(),
		Total:          summary.Total,
		Passed:         summary.Passed,
		Failed:         summary.Failed,
		RequiredFailed: summary.RequiredFailed,
	}
	if err != nil {
		status.Error = err.Error()
	}

	t.mu.Lock()
	t.lastCycle = now
	t.duration = duration
	t.connectors[connector] = status
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		CycleDurationMS:     t.duration.Milliseconds(),
		ConnectorsEvaluated: len(t.connectors),
		NotReady:            t.notReadyLocked(),
	}
	if !t.lastCycle.IsZero() {
		last := t.lastCycle
		snap.LastCycleTime = &last
	}
	if len(t.connectors) > 0 {
		snap.Connectors = make(map[string]ConnectorStatus, len(t.connectors))
		for name, status := range t.connectors {
			snap.Connectors[name] = status
		}
	}
	return snap
}

// Ready reports whether at least one run has completed and no connector's
// latest run failed a required check.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connectors) > 0 && len(t.notReadyLocked()) == 0
}

// Healthy reports whether the last run completed within 2x the check interval.
func (t *Tracker) Healthy(now time.Time, interval time.Duration) bool {
	if t == nil || interval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastCycle.IsZero() {
		return false
	}
	return now.Sub(t.lastCycle) <= 2*interval
}

func (t *Tracker) notReadyLocked() []string {
	var names []string
	for name, status := range t.connectors {
		if !status.Ready() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
