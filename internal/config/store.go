package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable, validated configuration. Version increases with every successful reload.
type Snapshot struct {
	Version int64
	Config  *ControllerConfig
}

// Store holds the current configuration snapshot. Readers never observe a partially applied reload.
type Store struct {
	path    string
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	changes chan struct{}
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*ControllerConfig, error) {
	cfg := &ControllerConfig{}
	if err := cfg.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// NewStore loads the initial snapshot from path.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:    path,
		changes: make(chan struct{}, 1),
	}
	s.current.Store(&Snapshot{Version: 1, Config: cfg})
	return s, nil
}

// NewStaticStore wraps an already validated configuration.
func NewStaticStore(cfg *ControllerConfig) *Store {
	s := &Store{changes: make(chan struct{}, 1)}
	s.current.Store(&Snapshot{Version: 1, Config: cfg})
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the configuration file. An invalid file leaves the current snapshot in place.
func (s *Store) Reload() (*Snapshot, error) {
	if s.path == "" {
		return s.Load(), fmt.Errorf("configuration store has no backing file")
	}
	cfg, err := Load(s.path)
	if err != nil {
		return s.Load(), err
	}
	return s.Replace(cfg), nil
}

// Replace swaps in cfg as a new snapshot and notifies listeners.
func (s *Store) Replace(cfg *ControllerConfig) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &Snapshot{Version: s.current.Load().Version + 1, Config: cfg}
	s.current.Store(next)

	select {
	case s.changes <- struct{}{}:
	default:
	}
	return next
}

// Changes signals after a new snapshot was stored. Signals are coalesced.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}
