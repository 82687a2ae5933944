package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/simcoreservers/nutetra/internal/dosing"
	"github.com/simcoreservers/nutetra/pkg/logx"
)

// StateOutcome tags how the dosing state was obtained, so a fresh
// install (no state file yet) is distinguishable from a corrupted one.
type StateOutcome int

const (
	StateLoaded StateOutcome = iota
	StateDefaulted
)

func (o StateOutcome) String() string {
	if o == StateDefaulted {
		return "defaulted"
	}
	return "loaded"
}

// StateStore persists the dosing controller's state (targets, pumps,
// PID gains, fault settings, last-dose times) as a JSON file.
// It implements dosing.Store.
type StateStore struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func NewStateStore(path string, log logx.Logger) *StateStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StateStore{path: path, log: log}
}

// Load reads the state file. A missing file yields the default
// configuration tagged StateDefaulted; an unreadable or malformed file
// is an error so a corrupted store is never silently replaced.
func (s *StateStore) Load() (dosing.Config, StateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return dosing.DefaultConfig(), StateDefaulted, nil
		}
		return dosing.Config{}, StateDefaulted, err
	}

	var cfg dosing.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return dosing.Config{}, StateDefaulted, fmt.Errorf("state file %s is corrupt: %w", s.path, err)
	}
	return cfg, StateLoaded, nil
}

// Save writes the state atomically (temp file + rename).
func (s *StateStore) Save(cfg dosing.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}
