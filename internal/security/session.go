package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout = time.Hour
	tokenBytes         = 16
)

// ErrEmptyCallerID is returned when a session is requested without an identity.
var ErrEmptyCallerID = errors.New("caller id must not be empty")

// Session is a caller's bounded-lifetime credential.
type Session struct {
	Token          string    `json:"token"`
	CallerID       string    `json:"caller_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type sessionEntry struct {
	mu      sync.Mutex
	session Session
	dead    bool
}

// SessionStore issues tokens and expires them after a period of inactivity.
// Expiry is decided lazily on access; Sweep only reclaims memory.
type SessionStore struct {
	idleTimeout time.Duration
	clock       clockwork.Clock
	random      io.Reader
	logger      *zap.Logger

	sessions sync.Map // token -> *sessionEntry
}

// NewSessionStore creates a store. A zero idle timeout means one hour.
func NewSessionStore(idleTimeout time.Duration, clock clockwork.Clock, logger *zap.Logger) *SessionStore {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		idleTimeout: idleTimeout,
		clock:       clock,
		random:      rand.Reader,
		logger:      logger.Named("sessions"),
	}
}

// Create issues a new 128-bit token for callerID.
func (s *SessionStore) Create(callerID string) (string, error) {
	if callerID == "" {
		return "", ErrEmptyCallerID
	}

	buf := make([]byte, tokenBytes)
	for {
		if _, err := io.ReadFull(s.random, buf); err != nil {
			return "", fmt.Errorf("failed to generate session token: %w", err)
		}
		token := hex.EncodeToString(buf)
		now := s.clock.Now()
		entry := &sessionEntry{session: Session{
			Token:          token,
			CallerID:       callerID,
			CreatedAt:      now,
			LastAccessedAt: now,
		}}
		if _, loaded := s.sessions.LoadOrStore(token, entry); !loaded {
			s.logger.Debug("Session created.", zap.String("caller_id", callerID))
			return token, nil
		}
	}
}

// Validate reports whether token is live, extending it if so.
func (s *SessionStore) Validate(token string) bool {
	_, ok := s.Lookup(token)
	return ok
}

// Lookup validates token and returns a copy of its session. An expired
// session is evicted on the spot.
func (s *SessionStore) Lookup(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	v, ok := s.sessions.Load(token)
	if !ok {
		return Session{}, false
	}
	e := v.(*sessionEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Session{}, false
	}

	now := s.clock.Now()
	if now.Sub(e.session.LastAccessedAt) > s.idleTimeout {
		e.dead = true
		s.sessions.CompareAndDelete(token, e)
		s.logger.Debug("Session expired.", zap.String("caller_id", e.session.CallerID))
		return Session{}, false
	}
	e.session.LastAccessedAt = now
	return e.session, true
}

// Peek returns a copy of token's session without extending or evicting it.
func (s *SessionStore) Peek(token string) (Session, bool) {
	v, ok := s.sessions.Load(token)
	if !ok {
		return Session{}, false
	}
	e := v.(*sessionEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || s.clock.Now().Sub(e.session.LastAccessedAt) > s.idleTimeout {
		return Session{}, false
	}
	return e.session, true
}

// Revoke destroys token. It reports whether a live session was removed.
func (s *SessionStore) Revoke(token string) bool {
	v, ok := s.sessions.Load(token)
	if !ok {
		return false
	}
	e := v.(*sessionEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return false
	}
	e.dead = true
	s.sessions.CompareAndDelete(token, e)
	return true
}

// Sweep evicts every session idle past the timeout and returns how many went.
func (s *SessionStore) Sweep() int {
	removed := 0
	now := s.clock.Now()
	s.sessions.Range(func(key, value any) bool {
		e := value.(*sessionEntry)
		e.mu.Lock()
		if !e.dead && now.Sub(e.session.LastAccessedAt) > s.idleTimeout {
			e.dead = true
			s.sessions.CompareAndDelete(key, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	if removed > 0 {
		s.logger.Debug("Swept expired sessions.", zap.Int("removed", removed))
	}
	return removed
}

// Len counts stored sessions, including ones that have expired but not yet been touched.
func (s *SessionStore) Len() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
