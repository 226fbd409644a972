package gate

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State represents the verification progress of a visitor session.
type State string

const (
	StatePlateEntry State = "plate_entry"
	StateOtpSent    State = "otp_sent"
	StateVerified   State = "verified"
)

// Session is one visitor's verification attempt, keyed by the invite
// session id.
type Session struct {
	ID          string
	BookingID   string
	PlateNumber string
	State       State
	StartedAt   time.Time
	UpdatedAt   time.Time
	mu          sync.Mutex
}

// NewSession creates a session in the plate-entry state.
func NewSession(id, bookingID string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		BookingID: bookingID,
		State:     StatePlateEntry,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetState updates the session state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.UpdatedAt = time.Now()
}

// GetState returns current state.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// IsExpired checks if session has expired.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.UpdatedAt) > timeout
}

// SessionStore manages visitor sessions.
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	timeout  time.Duration
}

// NewSessionStore creates a new session store.
func NewSessionStore(timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		timeout:  timeout,
	}
}

// Get returns the session for an id, nil when missing or expired.
func (ss *SessionStore) Get(id string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	session := ss.sessions[id]
	if session == nil || session.IsExpired(ss.timeout) {
		return nil
	}
	return session
}

// Put stores a session.
func (ss *SessionStore) Put(session *Session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions[session.ID] = session
}

// Delete removes a session.
func (ss *SessionStore) Delete(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, id)
}

// Cleanup removes expired sessions.
func (ss *SessionStore) Cleanup() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	removed := 0
	for id, session := range ss.sessions {
		if session.IsExpired(ss.timeout) {
			delete(ss.sessions, id)
			removed++
		}
	}
	return removed
}

// FSM manages the visitor verification transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates the FSM with the verification flow.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StatePlateEntry: {StateOtpSent},
			StateOtpSent:    {StateVerified, StateOtpSent},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition updates the session state if the transition is allowed.
func (f *FSM) Transition(session *Session, to State) bool {
	if f.CanTransition(session.GetState(), to) {
		session.SetState(to)
		return true
	}
	return false
}

// NewSessionID builds an invite session id for a booking.
func NewSessionID(bookingID string, now time.Time) string {
	return fmt.Sprintf("%s-%d", bookingID, now.UnixMilli())
}

// BookingIDFromSession extracts the booking id from an invite session id:
// everything before the last dash.
func BookingIDFromSession(sessionID string) (string, error) {
	idx := strings.LastIndex(sessionID, "-")
	if idx <= 0 {
		return "", fmt.Errorf("malformed session id %q", sessionID)
	}
	return sessionID[:idx], nil
}
