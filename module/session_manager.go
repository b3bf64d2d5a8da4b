package module

import (
	"sync"
	"sync/atomic"

	"github.com/miekg/pkcs11"

	"github.com/niclabs/p11nethsm/ckr"
)

// SessionManager owns the open sessions of the process. Handles start at
// 1 and are never reused.
type SessionManager struct {
	last atomic.Uint64

	mu       sync.RWMutex
	sessions map[uint]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[uint]*Session)}
}

// Open creates a session on slot.
func (m *SessionManager) Open(slot *Slot, flags uint) (uint, error) {
	if flags&pkcs11.CKF_SERIAL_SESSION == 0 {
		return 0, ckr.New("SessionManager.Open", "sessions must be serial", ckr.SessionParallelNotSupported)
	}
	handle := uint(m.last.Add(1))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[handle] = &Session{Handle: handle, Slot: slot, Flags: flags}
	return handle, nil
}

// Close drops a session, waiting for the call running on it.
func (m *SessionManager) Close(handle uint) error {
	m.mu.Lock()
	s, ok := m.sessions[handle]
	delete(m.sessions, handle)
	m.mu.Unlock()
	if !ok {
		return ckr.New("SessionManager.Close", "unknown session", ckr.SessionInvalid)
	}
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
	return nil
}

// CloseAll drops every session of a slot.
func (m *SessionManager) CloseAll(slotID uint) {
	m.mu.Lock()
	var closing []*Session
	for handle, s := range m.sessions {
		if s.Slot.ID == slotID {
			closing = append(closing, s)
			delete(m.sessions, handle)
		}
	}
	m.mu.Unlock()
	for _, s := range closing {
		s.mu.Lock()
		s.reset()
		s.mu.Unlock()
	}
}

// Count returns the number of sessions open on a slot, and how many of
// them are read-write.
func (m *SessionManager) Count(slotID uint) (all, rw int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Slot.ID != slotID {
			continue
		}
		all++
		if s.Flags&pkcs11.CKF_RW_SESSION != 0 {
			rw++
		}
	}
	return all, rw
}

// WithSession runs body holding the session lock, so calls on one session
// run one at a time.
func (m *SessionManager) WithSession(handle uint, body func(*Session) error) error {
	m.mu.RLock()
	s, ok := m.sessions[handle]
	m.mu.RUnlock()
	if !ok {
		return ckr.New("SessionManager.WithSession", "unknown session", ckr.SessionInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ckr.New("SessionManager.WithSession", "session closed", ckr.SessionInvalid)
	}
	return body(s)
}
