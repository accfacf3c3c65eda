package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// StateFile is the JSON sidecar name inside the state directory.
const StateFile = "state.json"

// ConfigVersion is bumped when the sidecar layout changes.
const ConfigVersion = 1

// State is the small sidecar recording where indexing last stopped.
type State struct {
	LastIndexedCommit string `json:"last_indexed_commit"`
	ConfigVersion     int    `json:"config_version"`
}

// LoadState reads the sidecar; a missing file yields the zero state.
func LoadState(stateDir string) (State, error) {
	var st State
	data, err := os.ReadFile(filepath.Join(stateDir, StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return State{ConfigVersion: ConfigVersion}, nil
		}
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		// corrupt sidecar: treat as never indexed
		return State{ConfigVersion: ConfigVersion}, nil
	}
	return st, nil
}

// SaveState writes the sidecar atomically.
func SaveState(stateDir string, st State) error {
	st.ConfigVersion = ConfigVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(stateDir, StateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(stateDir, StateFile))
}
