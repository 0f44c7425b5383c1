package proctor

import (
	"sync"
	"time"

	"proctor-go/internal/events"
)

// Store holds the live sessions and a short-lived record of ended ones, so
// late calls against an ended session can be told apart from unknown ids.
type Store struct {
	mu     sync.RWMutex
	active map[string]*Session
	ended  map[string]tombstone
}

type tombstone struct {
	endedAt time.Time
	browser []events.BrowserViolation
}

func NewStore() *Store {
	return &Store{
		active: make(map[string]*Session),
		ended:  make(map[string]tombstone),
	}
}

func (st *Store) Create(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[s.SessionID] = s
}

// Get returns the live session, ErrSessionEnded for a recently ended one, or
// ErrSessionNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.active[id]; ok {
		return s, nil
	}
	if _, ok := st.ended[id]; ok {
		return nil, ErrSessionEnded
	}
	return nil, ErrSessionNotFound
}

// Remove releases a session and leaves a tombstone carrying its browser
// events.
func (st *Store) Remove(id string, at time.Time, browser []events.BrowserViolation) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.active, id)
	st.ended[id] = tombstone{endedAt: at, browser: browser}
}

// endedSession returns the tombstone of an ended session.
func (st *Store) endedSession(id string) (tombstone, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	t, ok := st.ended[id]
	return t, ok
}

// Active returns a snapshot of the live sessions.
func (st *Store) Active() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.active))
	for _, s := range st.active {
		out = append(out, s)
	}
	return out
}

// Prune drops tombstones of sessions that ended before cutoff and returns
// their ids.
func (st *Store) Prune(cutoff time.Time) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	var ids []string
	for id, t := range st.ended {
		if t.endedAt.Before(cutoff) {
			delete(st.ended, id)
			ids = append(ids, id)
		}
	}
	return ids
}
