package internal

import (
	"sync"
	"time"
)

// State is a position in the admin panel
type State int

const (
	StateMenu State = iota
	StateEditWelcome
	StateEditBankSelect
	StateEditBankURL
	StateAddBankKey
	StateAddBankURL
	StateRemoveBankSelect
)

func (s State) String() string {
	switch s {
	case StateMenu:
		return "MENU"
	case StateEditWelcome:
		return "EDIT_WELCOME"
	case StateEditBankSelect:
		return "EDIT_BANK_SELECT"
	case StateEditBankURL:
		return "EDIT_BANK_URL"
	case StateAddBankKey:
		return "ADD_BANK_KEY"
	case StateAddBankURL:
		return "ADD_BANK_URL"
	case StateRemoveBankSelect:
		return "REMOVE_BANK_SELECT"
	}
	return "UNKNOWN"
}

// Session is the in-memory admin panel state of one admin
type Session struct {
	AdminID int64
	State   State
	// BankKey is the existing bank being edited or staged for removal
	BankKey string
	// Pending holds the new bank key entered in ADD_BANK_KEY
	Pending   string
	UpdatedAt time.Time
}

// reset returns the session to the menu and drops staged values
func (s *Session) reset() {
	s.State = StateMenu
	s.BankKey = ""
	s.Pending = ""
}

// SessionStore keeps admin sessions keyed by Telegram user ID.
// Sessions idle for longer than ttl are dropped on access; ttl 0 disables expiry.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[int64]*Session
	now      func() time.Time
}

// NewSessionStore creates an empty store
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

// Open starts a fresh session at the menu, replacing any existing one
func (s *SessionStore) Open(adminID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{AdminID: adminID, State: StateMenu, UpdatedAt: s.now()}
	s.sessions[adminID] = sess
	return sess
}

// Get returns the live session of adminID
func (s *SessionStore) Get(adminID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[adminID]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl {
		delete(s.sessions, adminID)
		return nil, false
	}
	return sess, true
}

// Touch marks the session as active
func (s *SessionStore) Touch(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = s.now()
}

// Close destroys the session of adminID
func (s *SessionStore) Close(adminID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, adminID)
}

// Len returns the number of stored sessions, expired ones included
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// userLocks serializes event handling per Telegram user
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

// lock blocks until id is free and returns the matching unlock
func (l *userLocks) lock(id int64) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*userLock)
	}
	ul, ok := l.locks[id]
	if !ok {
		ul = &userLock{}
		l.locks[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
