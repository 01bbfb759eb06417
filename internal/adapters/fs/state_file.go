package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const stateFileName = "agent-state.json"

// AgentState is the last lifecycle snapshot an agent wrote to disk. The CLI
// reads it to report on an agent running in another process.
type AgentState struct {
	State               string    `json:"state"`
	PID                 int       `json:"pid"`
	ProviderDhsCode     string    `json:"provider_dhs_code"`
	StatusAddr          string    `json:"status_addr,omitempty"`
	RecoveredClaims     int64     `json:"recovered_claims"`
	RecoveredDispatches int64     `json:"recovered_dispatches"`
	StartedUtc          time.Time `json:"started_utc"`
	UpdatedUtc          time.Time `json:"updated_utc"`
}

// StateFile persists AgentState as a JSON file.
type StateFile struct {
	dir string
}

// NewStateFile creates a StateFile for the given directory.
func NewStateFile(dir string) *StateFile {
	return &StateFile{dir: dir}
}

// Load retrieves the last saved state from disk.
// Returns an empty state and nil error if no state file exists.
func (f *StateFile) Load(ctx context.Context) (AgentState, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return AgentState{}, nil
		}
		return AgentState{}, err
	}

	var state AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return AgentState{}, err
	}
	return state, nil
}

// Save persists the state atomically: write to a temp file, then rename.
func (f *StateFile) Save(ctx context.Context, state AgentState) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}

	path := f.Path()
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Path returns the full path to the state file.
func (f *StateFile) Path() string {
	return filepath.Join(f.dir, stateFileName)
}
