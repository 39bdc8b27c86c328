package cache

import (
	"context"
	"sync"
	"time"

	"surveyrun/internal/model"
)

// MemorySessionStore is the in-process SessionStore used in test mode. States
// are stored encoded so callers never share mutable state with the store.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

type memoryEntry struct {
	data     []byte
	lastSeen time.Time
}

// NewMemorySessionStore creates a store whose entries expire after ttl of inactivity
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Get(_ context.Context, surveyID, sessionID string) (*model.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(surveyID, sessionID)
	entry, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	if m.expired(entry, m.now()) {
		delete(m.sessions, key)
		return nil, nil
	}
	return decodeSession(entry.data)
}

func (m *MemorySessionStore) Save(_ context.Context, state *model.SessionState) error {
	now := m.now()
	state.UpdatedAt = now
	data, err := encodeSession(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey(state.SurveyID, state.ID)] = memoryEntry{data: data, lastSeen: now}
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, surveyID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey(surveyID, sessionID))
	return nil
}

func (m *MemorySessionStore) expired(e memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.lastSeen) > m.ttl
}

// Sweep drops idle sessions and reports how many were removed
func (m *MemorySessionStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, e := range m.sessions {
		if m.expired(e, now) {
			delete(m.sessions, key)
			n++
		}
	}
	return n
}

// Len reports the number of stored sessions
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
