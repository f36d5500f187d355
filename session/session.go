package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"

	"github.com/thavlik/molsuite/pocket"
)

// CookieName holds the session ID in the browser.
const CookieName = "molsuite_session"

// DefaultTTL is how long an idle session's state is kept.
const DefaultTTL = 24 * time.Hour

// State is what a session remembers across workflow visits. Only
// the pocket workflow stores anything. ProteinFile is the protein's
// ID in the session's file registry and ProteinName is the name it
// was uploaded or adopted under; ProteinPath is never shown.
type State struct {
	Pockets     *pocket.Pockets   `json:"pockets,omitempty"`
	ProteinPath string            `json:"protein_path,omitempty"`
	ProteinFile string            `json:"protein_file,omitempty"`
	ProteinName string            `json:"protein_name,omitempty"`
	Selection   *pocket.Selection `json:"selection,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HasPockets reports whether a prediction result is cached.
func (s *State) HasPockets() bool {
	return s != nil && s.Pockets.Len() > 0
}

// Store persists session state. Get returns an empty State for
// unknown sessions. Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Put(ctx context.Context, id string, state *State) error
	Clear(ctx context.Context, id string) error
}

// NewID ...
func NewID() string {
	return uuid.New().String()
}

// FromRequest returns the session ID from the request cookie,
// issuing a new one on the response if there is none.
func FromRequest(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

type entry struct {
	state   State
	expires time.Time
}

// MemoryStore keeps state in process.
type MemoryStore struct {
	ttl      time.Duration
	sessions map[string]*entry
	l        sync.Mutex
	now      func() time.Time
}

// NewMemoryStore ...
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// Get ...
func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.l.Lock()
	defer m.l.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return &State{}, nil
	}
	if m.now().After(e.expires) {
		delete(m.sessions, id)
		return &State{}, nil
	}
	state := e.state
	return &state, nil
}

// Put ...
func (m *MemoryStore) Put(_ context.Context, id string, state *State) error {
	if state == nil {
		return errors.New("nil state")
	}
	m.l.Lock()
	defer m.l.Unlock()
	now := m.now()
	stored := *state
	stored.UpdatedAt = now
	m.sessions[id] = &entry{state: stored, expires: now.Add(m.ttl)}
	return nil
}

// Clear ...
func (m *MemoryStore) Clear(_ context.Context, id string) error {
	m.l.Lock()
	delete(m.sessions, id)
	m.l.Unlock()
	return nil
}

// Prune drops expired sessions and returns how many were removed.
func (m *MemoryStore) Prune() int {
	m.l.Lock()
	defer m.l.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.sessions {
		if now.After(e.expires) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// PruneEvery calls Prune on every tick until ctx is done.
func (m *MemoryStore) PruneEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				log.Printf("Pruned %d expired sessions", n)
			}
		}
	}
}

// Len is the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.l.Lock()
	defer m.l.Unlock()
	return len(m.sessions)
}

// RedisStore keeps state as JSON under a per-session key that
// expires after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore ...
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func rkSession(id string) string {
	return fmt.Sprintf("s:%s", id)
}

// Get ...
func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	data, err := s.client.WithContext(ctx).Get(rkSession(id)).Bytes()
	if err == redis.Nil {
		return &State{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis: %v", err)
	}
	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("unmarshal: %v", err)
	}
	return state, nil
}

// Put ...
func (s *RedisStore) Put(ctx context.Context, id string, state *State) error {
	if state == nil {
		return errors.New("nil state")
	}
	stored := *state
	stored.UpdatedAt = time.Now()
	body, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal: %v", err)
	}
	if err := s.client.WithContext(ctx).Set(rkSession(id), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: %v", err)
	}
	return nil
}

// Clear ...
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	if err := s.client.WithContext(ctx).Del(rkSession(id)).Err(); err != nil {
		return fmt.Errorf("redis: %v", err)
	}
	return nil
}
