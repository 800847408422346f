package state

import (
	"context"
	"sync"
	"time"

	"github.com/nholik/servo/internal/check"
)

// ConnectorSnapshot captures the persisted check results for a connector.
type ConnectorSnapshot struct {
	Results     []check.Result `json:"results"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// Result returns the stored result with the given check id.
func (s ConnectorSnapshot) Result(id string) (check.Result, bool) {
	for _, r := range s.Results {
		if r.ID == id {
			return r, true
		}
	}
	return check.Result{}, false
}

// State stores snapshots for all connectors.
type State struct {
	Connectors map[string]ConnectorSnapshot `json:"connectors"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// MemoryStore keeps state in process. It is used when no state path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: emptyState()}
}

func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.copy(), nil
}

func (s *MemoryStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.copy()
	return nil
}

func (s State) copy() State {
	out := State{Connectors: make(map[string]ConnectorSnapshot, len(s.Connectors))}
	for name, snapshot := range s.Connectors {
		snapshot.Results = append([]check.Result(nil), snapshot.Results...)
		out.Connectors[name] = snapshot
	}
	return out
}
