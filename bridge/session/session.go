// Package session is the single source of truth for which connection is
// authorized to see which accounts on which chain. Sessions are keyed by
// (connection id, origin): two windows pointed at the same origin never
// share a session.
package session

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type key struct {
	connectionID string
	origin       string
}

// Session is a standing grant of account visibility from one connection to
// one origin. Accounts are ordered; the first entry is the active account.
type Session struct {
	ConnectionID string           `json:"connectionId"`
	Origin       string           `json:"origin"`
	Accounts     []common.Address `json:"accounts"`
	ChainID      uint64           `json:"chainId"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastSeen     time.Time        `json:"lastSeen"`
	AutoApproved bool             `json:"autoApproved"`
}

func (s Session) clone() Session {
	s.Accounts = append([]common.Address(nil), s.Accounts...)
	return s
}

// Store holds all live sessions. Every operation takes the lock for its full
// duration; callers never observe a half-written session.
type Store struct {
	mu       sync.RWMutex
	sessions map[key]Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[key]Session),
		now:      time.Now,
	}
}

// Get returns a copy of the session for (connectionID, origin), if any.
func (s *Store) Get(connectionID, origin string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key{connectionID, origin}]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Create inserts or replaces the session for (connectionID, origin). There is
// at most one session per pair; a repeat Connect refreshes rather than
// duplicates.
func (s *Store) Create(connectionID, origin string, accounts []common.Address, chainID uint64, autoApproved bool) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess := Session{
		ConnectionID: connectionID,
		Origin:       origin,
		Accounts:     append([]common.Address(nil), accounts...),
		ChainID:      chainID,
		CreatedAt:    now,
		LastSeen:     now,
		AutoApproved: autoApproved,
	}
	s.sessions[key{connectionID, origin}] = sess
	return sess.clone()
}

// UpdateChain records an approved network switch. Returns false when no
// session exists for the pair.
func (s *Store) UpdateChain(connectionID, origin string, chainID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{connectionID, origin}
	sess, ok := s.sessions[k]
	if !ok {
		return false
	}
	sess.ChainID = chainID
	sess.LastSeen = s.now()
	s.sessions[k] = sess
	return true
}

// Touch bumps the activity timestamp. Missing sessions are ignored.
func (s *Store) Touch(connectionID, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{connectionID, origin}
	if sess, ok := s.sessions[k]; ok {
		sess.LastSeen = s.now()
		s.sessions[k] = sess
	}
}

// Revoke removes the session for (connectionID, origin). Revoking a session
// that does not exist is a no-op.
func (s *Store) Revoke(connectionID, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key{connectionID, origin})
}

// RevokeAll removes every session belonging to a connection. Called on
// disconnect; returns the number of sessions removed.
func (s *Store) RevokeAll(connectionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.sessions {
		if k.connectionID == connectionID {
			delete(s.sessions, k)
			removed++
		}
	}
	return removed
}

// RevokeOrigin removes every session granted to an origin, across all
// connections. Used by the wallet UI's "disconnect site" action.
func (s *Store) RevokeOrigin(origin string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.sessions {
		if k.origin == origin {
			delete(s.sessions, k)
			removed++
		}
	}
	return removed
}

// All returns copies of every live session.
func (s *Store) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	return out
}

// PruneIdle drops sessions with no activity for longer than maxIdle.
func (s *Store) PruneIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for k, sess := range s.sessions {
		if sess.LastSeen.Before(cutoff) {
			delete(s.sessions, k)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
