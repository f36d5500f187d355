package materialize

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Sessions hands out one Registry per session ID. At most
// maxSessions registries are kept; evicting one purges its files.
type Sessions struct {
	dir        string
	perSession int
	registries *lru.Cache
	createL    sync.Mutex
}

// NewSessions ...
func NewSessions(dir string, perSession, maxSessions int) (*Sessions, error) {
	cache, err := lru.NewWithEvict(maxSessions, func(_ interface{}, value interface{}) {
		value.(*Registry).Purge()
	})
	if err != nil {
		return nil, fmt.Errorf("lru: %v", err)
	}
	return &Sessions{
		dir:        dir,
		perSession: perSession,
		registries: cache,
	}, nil
}

// For returns the registry of a session, creating it on first use.
func (s *Sessions) For(sessionID string) (*Registry, error) {
	if v, ok := s.registries.Get(sessionID); ok {
		return v.(*Registry), nil
	}
	s.createL.Lock()
	defer s.createL.Unlock()
	if v, ok := s.registries.Get(sessionID); ok {
		return v.(*Registry), nil
	}
	reg, err := NewRegistry(s.dir, s.perSession)
	if err != nil {
		return nil, err
	}
	s.registries.Add(sessionID, reg)
	return reg, nil
}

// Lookup returns the registry of a session without creating one.
func (s *Sessions) Lookup(sessionID string) (*Registry, bool) {
	v, ok := s.registries.Get(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Registry), true
}

// End purges and forgets a session's files.
func (s *Sessions) End(sessionID string) {
	s.registries.Remove(sessionID)
}

// Close purges every session.
func (s *Sessions) Close() {
	s.registries.Purge()
}
