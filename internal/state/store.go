// Package state persists the aging record across invocations.
//
// The record is a small self-describing JSON file so fields can be added
// later without breaking older readers. Writes go through a temporary file
// and an atomic rename; a crash mid-write never leaves a half-written file
// behind. A file that cannot be parsed is treated as absent (aging starts
// over), never as a fatal condition.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"

	"github.com/aptsettle/aptsettle/internal/aging"
)

// record is the on-disk representation. Timestamps are RFC 3339 UTC strings.
type record struct {
	CandidateVersion string `json:"candidateVersion"`
	FirstSeenUTC     string `json:"firstSeenUtc"`
	LastCheckUTC     string `json:"lastCheckUtc"`
}

// Store reads and writes the aging state file at a fixed path.
type Store struct {
	path string
}

// NewStore returns a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored aging state, or (nil, nil) when no usable state
// exists. A missing file is the normal first-run case; a corrupt or
// incomplete file is logged as a warning and likewise treated as absent.
func (s *Store) Load() (*aging.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warnf("State file %s is corrupt, starting aging over: %v", s.path, err)
		return nil, nil
	}

	st, err := rec.toState()
	if err != nil {
		log.Warnf("State file %s is incomplete, starting aging over: %v", s.path, err)
		return nil, nil
	}
	return st, nil
}

// Save writes the state atomically, creating the parent directory if needed.
func (s *Store) Save(st aging.State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	rec := record{
		CandidateVersion: st.CandidateVersion,
		FirstSeenUTC:     st.FirstSeenAt.UTC().Format(time.RFC3339Nano),
		LastCheckUTC:     st.LastCheckAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	data = append(data, '\n')

	if err := renameio.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the state file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file %s: %w", s.path, err)
	}
	return nil
}

func (r record) toState() (*aging.State, error) {
	if r.CandidateVersion == "" {
		return nil, fmt.Errorf("missing candidateVersion")
	}
	firstSeen, err := time.Parse(time.RFC3339Nano, r.FirstSeenUTC)
	if err != nil {
		return nil, fmt.Errorf("bad firstSeenUtc: %w", err)
	}
	lastCheck, err := time.Parse(time.RFC3339Nano, r.LastCheckUTC)
	if err != nil {
		return nil, fmt.Errorf("bad lastCheckUtc: %w", err)
	}
	return &aging.State{
		CandidateVersion: r.CandidateVersion,
		FirstSeenAt:      firstSeen.UTC(),
		LastCheckAt:      lastCheck.UTC(),
	}, nil
}
