package objects

import (
	"bytes"

	"github.com/miekg/pkcs11"

	"github.com/niclabs/p11nethsm/nethsm"
)

// Kind discriminates the objects exposed for one NetHSM key.
type Kind int

const (
	PrivateKey Kind = iota
	PublicKey
	Certificate
	SecretKey
)

func (k Kind) String() string {
	switch k {
	case PrivateKey:
		return "private key"
	case PublicKey:
		return "public key"
	case Certificate:
		return "certificate"
	case SecretKey:
		return "secret key"
	}
	return "unknown"
}

// Class returns the CKO_ value of the kind.
func (k Kind) Class() uint {
	switch k {
	case PrivateKey:
		return pkcs11.CKO_PRIVATE_KEY
	case PublicKey:
		return pkcs11.CKO_PUBLIC_KEY
	case Certificate:
		return pkcs11.CKO_CERTIFICATE
	}
	return pkcs11.CKO_SECRET_KEY
}

// KindOfClass maps a CKO_ value to a kind.
func KindOfClass(class uint) (Kind, bool) {
	switch class {
	case pkcs11.CKO_PRIVATE_KEY:
		return PrivateKey, true
	case pkcs11.CKO_PUBLIC_KEY:
		return PublicKey, true
	case pkcs11.CKO_CERTIFICATE:
		return Certificate, true
	case pkcs11.CKO_SECRET_KEY:
		return SecretKey, true
	}
	return 0, false
}

// Ref names an object: the slot, the NetHSM key identifier and the kind.
type Ref struct {
	Slot uint
	ID   string
	Kind Kind
}

// A CryptoObject is the local view of something stored on the NetHSM.
// Size is the key size in bits, or the DER length of a certificate.
type CryptoObject struct {
	Handle     uint
	Ref        Ref
	KeyType    nethsm.KeyType
	Size       int
	Mechanisms []nethsm.KeyMechanism
	Attributes Attributes
}

// Match reports whether every attribute of filter equals the object's
// value. An empty filter matches every object.
func (object *CryptoObject) Match(filter Attributes) bool {
	for attrType, want := range filter {
		have, ok := object.Attributes[attrType]
		if !ok || !bytes.Equal(have.Value, want.Value) {
			return false
		}
	}
	return true
}
