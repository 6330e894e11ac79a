// Package store persists small JSON state files (tracker rosters, snapshot
// history metadata) with atomic replace semantics.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// envelope versions every state file so a format change invalidates stale
// data instead of half-decoding it.
type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Store reads and writes versioned JSON state files under a base directory.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save marshals v and replaces the state file atomically via a temp file
// rename, so a crash mid-write never leaves a truncated file behind.
func (s *Store) Save(key string, version int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	blob, err := json.Marshal(envelope{Version: version, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", key, err)
	}

	final := s.path(key)
	tmp, err := os.CreateTemp(s.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// Load unmarshals a state file into v. A missing file or a version mismatch
// reports found=false without error; the caller starts fresh.
func (s *Store) Load(key string, version int, v any) (bool, error) {
	blob, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	if env.Version != version {
		log.Printf("[DEBUG] store: %s has version %d, want %d, discarding", key, env.Version, version)
		return false, nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return false, fmt.Errorf("decode %s data: %w", key, err)
	}
	return true, nil
}
