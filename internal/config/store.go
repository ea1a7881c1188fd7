package config

import "sync"

// Store holds the live configuration. API writes are in-memory only; the
// settings file is read once at startup and never written back.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	onChange []func(Config)
}

// NewStore wraps a validated configuration.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Current returns a copy of the live configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// OnChange registers a callback invoked after every accepted change.
// Register before the API starts serving.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SelectVersion switches the active protocol version. The change applies to
// the next card; the run in flight keeps its settings snapshot.
func (s *Store) SelectVersion(version string) error {
	s.mu.Lock()
	if _, ok := s.cfg.Service.Versions[version]; !ok {
		s.mu.Unlock()
		return &UnknownVersionError{Version: version}
	}
	s.cfg.Service.SelectedVersion = version
	cfg := s.cfg
	callbacks := s.onChange
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// UnknownVersionError reports a version switch to an unconfigured version.
type UnknownVersionError struct {
	Version string
}

func (e *UnknownVersionError) Error() string {
	return "unknown protocol version " + e.Version
}
