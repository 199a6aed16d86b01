package httpapi

import (
	"sync"
	"time"

	"venue-loyalty/pkg/util"
)

const sessionTTL = 12 * time.Hour

type session struct {
	customerID string
	admin      bool
	expiresAt  time.Time
}

// SessionStore maps opaque bearer tokens to sessions. Tokens are
// capabilities minted at login; they carry no claims and die with the
// process, which is acceptable for a single-process deployment.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]session)}
}

func (s *SessionStore) MintAdmin() string {
	return s.mint(session{admin: true})
}

func (s *SessionStore) MintCustomer(customerID string) string {
	return s.mint(session{customerID: customerID})
}

func (s *SessionStore) mint(sess session) string {
	token := util.GenerateToken()
	sess.expiresAt = time.Now().Add(sessionTTL)

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()

	return token
}

func (s *SessionStore) IsAdmin(token string) bool {
	sess, ok := s.lookup(token)
	return ok && sess.admin
}

// CustomerID resolves a customer token; admin tokens do not double as
// customer tokens.
func (s *SessionStore) CustomerID(token string) (string, bool) {
	sess, ok := s.lookup(token)
	if !ok || sess.admin {
		return "", false
	}
	return sess.customerID, true
}

func (s *SessionStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *SessionStore) lookup(token string) (session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return session{}, false
	}
	if time.Now().After(sess.expiresAt) {
		s.Revoke(token)
		return session{}, false
	}
	return sess, true
}
