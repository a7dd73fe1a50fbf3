// Package checkpoint persists the incremental loader's watermark so runs can
// resume where the previous one left off. A store holds exactly one State
// per configured location; it is overwritten on every successful load.
// Concurrent writers are not supported (last writer wins).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// State is the persisted loader state.
type State struct {
	// LastLoadedTimestamp is the greatest created_date observed in the
	// last successful non-empty load (ISO-8601, no zone).
	LastLoadedTimestamp string `json:"last_loaded_timestamp"`

	// SCD2Mode records whether the loader was tracking changes (new +
	// updated records) or only new records when the state was written.
	SCD2Mode bool `json:"scd2_mode"`
}

// Store persists and reloads loader state. Load returns (nil, nil) when no
// prior state exists; the loader treats any Load error the same way, as a
// fresh start.
type Store interface {
	Load() (*State, error)
	Save(*State) error
}

// FileStore keeps the state as a JSON file on local disk.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store, creating parent directories as
// needed.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file is a fresh start, not an error.
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Printf("[checkpoint] no state at %s (fresh start)", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &st, nil
}

// Save writes the state atomically via temp file + rename so a crash cannot
// leave a torn file behind.
func (s *FileStore) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
