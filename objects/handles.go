package objects

import "sync"

// HandleTable assigns the integers callers use for objects. Numbers start
// at 1, grow monotonically and are never reused, even after Forget.
type HandleTable struct {
	mu       sync.Mutex
	next     uint
	byRef    map[Ref]uint
	byHandle map[uint]Ref
}

func NewHandleTable() *HandleTable {
	return &HandleTable{
		next:     1,
		byRef:    make(map[Ref]uint),
		byHandle: make(map[uint]Ref),
	}
}

// Handle returns the handle of ref, assigning one on first use.
func (t *HandleTable) Handle(ref Ref) uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byRef[ref]; ok {
		return h
	}
	h := t.next
	t.next++
	t.byRef[ref] = h
	t.byHandle[h] = ref
	return h
}

// Resolve returns the object a handle names.
func (t *HandleTable) Resolve(handle uint) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.byHandle[handle]
	return ref, ok
}

// Forget drops the handle of ref. A later Handle call for the same ref
// gets a new number.
func (t *HandleTable) Forget(ref Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byRef[ref]; ok {
		delete(t.byRef, ref)
		delete(t.byHandle, h)
	}
}

// ForgetID drops every kind stored under id in a slot.
func (t *HandleTable) ForgetID(slot uint, id string) {
	for _, kind := range []Kind{PrivateKey, PublicKey, Certificate, SecretKey} {
		t.Forget(Ref{Slot: slot, ID: id, Kind: kind})
	}
}
