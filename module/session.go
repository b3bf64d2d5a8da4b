package module

import (
	"context"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/objects"
)

// Session is an open PKCS#11 session. Its methods are only called by
// SessionManager.WithSession, which holds mu.
type Session struct {
	Handle uint
	Slot   *Slot
	Flags  uint

	mu        sync.Mutex
	closed    bool
	searching bool
	cursor    []uint
	sign      *SignOperation
}

// SessionInfo mirrors CK_SESSION_INFO.
type SessionInfo struct {
	SlotID      uint
	State       uint
	Flags       uint
	DeviceError uint
}

// Info reports the session state derived from the slot login.
func (s *Session) Info() SessionInfo {
	rw := s.Flags&pkcs11.CKF_RW_SESSION != 0
	login := s.Slot.Login
	var state uint
	switch {
	case login.CanRun(Administrator):
		state = pkcs11.CKS_RW_SO_FUNCTIONS
	case login.CanRun(Operator) && rw:
		state = pkcs11.CKS_RW_USER_FUNCTIONS
	case login.CanRun(Operator):
		state = pkcs11.CKS_RO_USER_FUNCTIONS
	case rw:
		state = pkcs11.CKS_RW_PUBLIC_SESSION
	default:
		state = pkcs11.CKS_RO_PUBLIC_SESSION
	}
	return SessionInfo{SlotID: s.Slot.ID, State: state, Flags: s.Flags}
}

// FindInit runs the search and keeps its result as the cursor.
func (s *Session) FindInit(ctx context.Context, filter objects.Attributes) error {
	if s.searching {
		return ckr.New("Session.FindInit", "a search is already active", ckr.OperationActive)
	}
	handles, err := s.Slot.Catalog.Find(ctx, s.Slot.Login, filter)
	if err != nil {
		return err
	}
	s.searching = true
	s.cursor = handles
	return nil
}

// FindNext returns up to max handles and advances the cursor. An
// exhausted search returns no handles.
func (s *Session) FindNext(max uint) ([]uint, error) {
	if !s.searching {
		return nil, ckr.New("Session.FindNext", "no active search", ckr.OperationNotInitialized)
	}
	n := len(s.cursor)
	if max < uint(n) {
		n = int(max)
	}
	chunk := s.cursor[:n:n]
	s.cursor = s.cursor[n:]
	return chunk, nil
}

// FindFinal ends the search. Ending a search twice is not an error.
func (s *Session) FindFinal() {
	s.searching = false
	s.cursor = nil
}

// Object returns the object behind handle.
func (s *Session) Object(ctx context.Context, handle uint) (*objects.CryptoObject, error) {
	return s.Slot.Catalog.Get(ctx, s.Slot.Login, handle)
}

// CreateObject creates an object on the token.
func (s *Session) CreateObject(ctx context.Context, attrs objects.Attributes) ([]uint, error) {
	if err := s.requireRW("Session.CreateObject"); err != nil {
		return nil, err
	}
	return s.Slot.Catalog.Create(ctx, s.Slot.Login, attrs)
}

// DestroyObject removes an object from the token.
func (s *Session) DestroyObject(ctx context.Context, handle uint) error {
	if err := s.requireRW("Session.DestroyObject"); err != nil {
		return err
	}
	return s.Slot.Catalog.Destroy(ctx, s.Slot.Login, handle)
}

// SetAttributes applies a write template to an object.
func (s *Session) SetAttributes(handle uint, attrs objects.Attributes) error {
	return s.Slot.Catalog.SetAttributes(handle, attrs)
}

func (s *Session) requireRW(who string) error {
	if s.Flags&pkcs11.CKF_RW_SESSION == 0 {
		return ckr.New(who, "session is read only", ckr.SessionReadOnly)
	}
	return nil
}

// SignInit starts a signature with the key behind keyHandle.
func (s *Session) SignInit(ctx context.Context, mech *mechanism.Mechanism, keyHandle uint) error {
	if s.sign != nil {
		return ckr.New("Session.SignInit", "a signature is already active", ckr.OperationActive)
	}
	if !s.Slot.Login.CanRun(Operator) {
		return ckr.NotLoggedInAs("Session.SignInit", Operator.String())
	}
	desc, err := mechanism.Resolve(mech)
	if err != nil {
		return err
	}
	key, err := s.Slot.Catalog.Get(ctx, s.Slot.Login, keyHandle)
	if ckr.Is(err, ckr.ObjectHandleInvalid) {
		return ckr.New("Session.SignInit", "unknown key handle", ckr.KeyHandleInvalid)
	}
	if err != nil {
		return err
	}
	op, err := NewSignOperation(desc, key, s.Slot.Login)
	if err != nil {
		return err
	}
	s.sign = op
	return nil
}

func (s *Session) signOperation(who string) (*SignOperation, error) {
	if s.sign == nil {
		return nil, ckr.New(who, "no active signature", ckr.OperationNotInitialized)
	}
	return s.sign, nil
}

// SignUpdate feeds data to the active signature.
func (s *Session) SignUpdate(data []byte) error {
	op, err := s.signOperation("Session.SignUpdate")
	if err != nil {
		return err
	}
	if err := op.Update(data); err != nil {
		s.sign = nil
		return err
	}
	return nil
}

// SignLength is the size of the signature the active operation will
// produce.
func (s *Session) SignLength() (int, error) {
	op, err := s.signOperation("Session.SignLength")
	if err != nil {
		return 0, err
	}
	return op.TheoreticalSize(), nil
}

// SignFinal produces the signature and ends the operation.
func (s *Session) SignFinal(ctx context.Context) ([]byte, error) {
	op, err := s.signOperation("Session.SignFinal")
	if err != nil {
		return nil, err
	}
	s.sign = nil
	return op.Final(ctx)
}

// Sign signs data in a single call and ends the operation.
func (s *Session) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := s.SignUpdate(data); err != nil {
		return nil, err
	}
	return s.SignFinal(ctx)
}

// CancelSign drops the active signature, if any. It is what SignInit
// without a mechanism does.
func (s *Session) CancelSign() {
	s.sign = nil
}

func (s *Session) reset() {
	s.closed = true
	s.searching = false
	s.cursor = nil
	s.sign = nil
}
