// Package session holds live conversation states between turns.
//
// The turn engine depends only on the Store interface; the durable checkpoint
// store remains the source of truth, so any Store may forget a session and the
// engine will rehydrate it from its checkpoint.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// ErrNotFound is returned by Get when the session is not held by the store.
var ErrNotFound = errors.New("session not found")

// Store keeps live conversation states by session ID.
type Store interface {
	Get(ctx context.Context, sessionID string) (*models.ConversationState, error)
	Put(ctx context.Context, state *models.ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}

type entry struct {
	state    *models.ConversationState
	lastSeen time.Time
}

// MemoryStore is an in-process Store. States are copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*models.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = m.now()
	return e.state.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, state *models.ConversationState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("session: state without session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.SessionID] = &entry{state: state.Clone(), lastSeen: m.now()}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than ttl and returns how many were removed.
// Evicted sessions can still be resumed from their durable checkpoint.
func (m *MemoryStore) Sweep(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		slog.Info("MemoryStore.Sweep: evicted idle sessions", "count", n, "remaining", len(m.sessions))
	}
	return n
}
