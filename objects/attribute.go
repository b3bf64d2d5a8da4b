package objects

import (
	"encoding/binary"

	"github.com/niclabs/p11nethsm/ckr"
)

// An attribute related to a crypto object.
type Attribute struct {
	Type  uint
	Value []byte
}

// A map of attributes
type Attributes map[uint]*Attribute

// Set adds or replaces an attribute.
func (attributes Attributes) Set(attrType uint, value []byte) {
	attributes[attrType] = &Attribute{Type: attrType, Value: value}
}

// SetULong stores a CK_ULONG valued attribute.
func (attributes Attributes) SetULong(attrType, value uint) {
	attributes.Set(attrType, ULongBytes(value))
}

// SetBool stores a CK_BBOOL valued attribute.
func (attributes Attributes) SetBool(attrType uint, value bool) {
	attributes.Set(attrType, BoolBytes(value))
}

// Value returns the value of an attribute, if present.
func (attributes Attributes) Value(attrType uint) ([]byte, bool) {
	attr, ok := attributes[attrType]
	if !ok {
		return nil, false
	}
	return attr.Value, true
}

// ULong decodes a CK_ULONG valued attribute.
func (attributes Attributes) ULong(attrType uint) (uint, bool, error) {
	value, ok := attributes.Value(attrType)
	if !ok {
		return 0, false, nil
	}
	v, err := DecodeULong(value)
	return v, true, err
}

// ULongBytes encodes v as a native CK_ULONG.
func ULongBytes(v uint) []byte {
	buf := make([]byte, ulongSize)
	if ulongSize == 4 {
		binary.NativeEndian.PutUint32(buf, uint32(v))
	} else {
		binary.NativeEndian.PutUint64(buf, uint64(v))
	}
	return buf
}

// ULongArrayBytes encodes values as an array of native CK_ULONGs.
func ULongArrayBytes(values []uint) []byte {
	buf := make([]byte, 0, len(values)*ulongSize)
	for _, v := range values {
		buf = append(buf, ULongBytes(v)...)
	}
	return buf
}

// DecodeULong decodes a native CK_ULONG.
func DecodeULong(value []byte) (uint, error) {
	switch len(value) {
	case 4:
		return uint(binary.NativeEndian.Uint32(value)), nil
	case 8:
		return uint(binary.NativeEndian.Uint64(value)), nil
	}
	return 0, ckr.New("objects.DecodeULong", "value is not a CK_ULONG", ckr.AttributeValueInvalid)
}

// BoolBytes encodes b as a CK_BBOOL.
func BoolBytes(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
