package config

import "sync/atomic"

// Store holds the current configuration behind a single atomic pointer: the
// Go rendering of spec.md §9's "global mutable configuration... immutable
// value type behind a single reference updated by C3." Readers always see
// either the previous full configuration or the new one, never a partial
// tree (spec.md §3, §5, P4).
type Store struct {
	p atomic.Pointer[Configuration]
}

// Get returns the current configuration, or nil if none has been loaded yet
// (spec.md §7 ControlState: callers must treat this as "not configured").
func (s *Store) Get() *Configuration {
	return s.p.Load()
}

// Swap atomically installs cfg as the current configuration.
func (s *Store) Swap(cfg *Configuration) {
	s.p.Store(cfg)
}

// Configured reports whether a configuration has been successfully loaded.
func (s *Store) Configured() bool {
	return s.p.Load() != nil
}
