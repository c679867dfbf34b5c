package runtime

import (
	"context"
	"encoding/json"
	"sync"
)

// SessionStore persists session state. The engine is a stateless request
// handler over this store; implementations must provide read-after-write
// consistency per session key.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	// Acquire takes the exclusive per-session advance lock. It returns a
	// conflict error immediately when the lock is held; callers retry.
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// MemorySessionStore keeps sessions in process memory. Used for local
// development and tests; production deployments use the Postgres store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	locks    map[string]*sync.Mutex
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string][]byte),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemorySessionStore) Create(ctx context.Context, session *Session) error {
	return s.Save(ctx, session)
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	payload, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(CodeSessionNotFound, "session "+sessionID+" not found")
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *MemorySessionStore) Save(_ context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[session.ID] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Acquire(_ context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()

	if !lock.TryLock() {
		return nil, NewConflictError(sessionID)
	}
	return lock.Unlock, nil
}
