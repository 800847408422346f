package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore persists the last check results per connector as JSON on disk.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a JSON-backed state store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("path", path).Logger(),
	}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads state from disk. A missing or corrupt file yields empty state and a warning.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Msg("state file missing, starting fresh")
		return emptyState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn().Err(err).Msg("state file corrupt, starting fresh")
		return emptyState(), nil
	}
	if loaded.Connectors == nil {
		loaded.Connectors = map[string]ConnectorSnapshot{}
	}
	return loaded, nil
}

// Save writes state to a temp file in the same directory and renames it into place.
func (s *FileStore) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.Connectors == nil {
		st.Connectors = map[string]ConnectorSnapshot{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".servo-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	if err := writeAndClose(tmp, st); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func writeAndClose(f *os.File, st State) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	return f.Close()
}

func emptyState() State {
	return State{Connectors: map[string]ConnectorSnapshot{}}
}
