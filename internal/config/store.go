package config

import "sync/atomic"

// Store holds the process-wide configuration snapshot spec.md §5 allows
// as the one exception to "no global mutable singleton": a read-only
// document replaced atomically (copy-on-write) by POST /api/config.
// Every other component reads through Store.Current rather than holding
// its own copy, so a config swap takes effect on the next read.
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore creates a Store seeded with the initial configuration.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.ptr.Store(&cfg)
	return s
}

// Current returns the active snapshot. The returned value is a copy of
// the struct header; slice/map fields are shared and must not be
// mutated by callers.
func (s *Store) Current() Config {
	return *s.ptr.Load()
}

// Swap validates the new document and, on success, installs it as the
// new snapshot, returning the config that is now active.
func (s *Store) Swap(next Config) (Config, error) {
	if err := Validate(next); err != nil {
		return Config{}, err
	}
	s.ptr.Store(&next)
	return next, nil
}
