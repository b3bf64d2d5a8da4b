package objects

import (
	"bytes"
	"iter"
	"unsafe"

	"github.com/niclabs/p11nethsm/ckr"
)

// Unavailable is CK_UNAVAILABLE_INFORMATION, written to the length of
// entries the object cannot provide.
const Unavailable = ^uint(0)

// RawAttribute is a CK_ATTRIBUTE copied out of caller memory. Value still
// points into the caller's buffer, of ValueLen bytes, or is nil.
type RawAttribute struct {
	Type     uint
	Value    unsafe.Pointer
	ValueLen uint
}

// Template is a bounds checked view over a caller attribute array. It is
// the only code reading or writing through the caller's value pointers.
type Template struct {
	raw []RawAttribute
}

// Parse wraps count raw attributes. entries is nil when the caller passed
// no array.
func Parse(entries []RawAttribute, count uint) (*Template, error) {
	if count > 0 && entries == nil {
		return nil, ckr.New("objects.Parse", "attribute array is NULL", ckr.ArgumentsBad)
	}
	if uint(len(entries)) != count {
		return nil, ckr.New("objects.Parse", "attribute count does not match the array", ckr.ArgumentsBad)
	}
	return &Template{raw: entries}, nil
}

// Len is the number of entries.
func (t *Template) Len() int {
	return len(t.raw)
}

// Raw exposes the entries so that the caller facing adapter can write the
// lengths set by Fill back.
func (t *Template) Raw() []RawAttribute {
	return t.raw
}

// Value returns entry i as a slice over caller memory, or nil if the
// entry has no buffer.
func (t *Template) Value(i int) []byte {
	e := t.raw[i]
	if e.Value == nil {
		return nil
	}
	return unsafe.Slice((*byte)(e.Value), e.ValueLen)
}

// All yields every entry type with its value. Absent values are nil.
func (t *Template) All() iter.Seq2[uint, []byte] {
	return func(yield func(uint, []byte) bool) {
		for i := range t.raw {
			if !yield(t.raw[i].Type, t.Value(i)) {
				return
			}
		}
	}
}

// Attributes copies the entries carrying a value. Later entries of the
// same type replace earlier ones.
func (t *Template) Attributes() Attributes {
	attrs := make(Attributes, len(t.raw))
	for attrType, value := range t.All() {
		if value == nil {
			continue
		}
		attrs.Set(attrType, bytes.Clone(value))
	}
	return attrs
}

// Fill copies the object's attributes into the caller's buffers. Entries
// without a buffer get the required length. Entries whose buffer is too
// small get the required length and nothing is written to them.
// Attributes the object does not have get Unavailable. Every entry is
// processed; the first problem found is returned.
func (t *Template) Fill(object *CryptoObject) error {
	var result error
	for i := range t.raw {
		e := &t.raw[i]
		attr, ok := object.Attributes[e.Type]
		if !ok {
			e.ValueLen = Unavailable
			if result == nil {
				result = ckr.New("Template.Fill", "object has no such attribute", ckr.AttributeTypeInvalid)
			}
			continue
		}
		need := uint(len(attr.Value))
		if e.Value == nil {
			e.ValueLen = need
			continue
		}
		if e.ValueLen < need {
			e.ValueLen = need
			if result == nil {
				result = ckr.New("Template.Fill", "buffer too small for attribute", ckr.BufferTooSmall)
			}
			continue
		}
		copy(unsafe.Slice((*byte)(e.Value), e.ValueLen), attr.Value)
		e.ValueLen = need
	}
	return result
}
