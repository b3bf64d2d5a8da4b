// Package mechanism maps PKCS#11 signing mechanisms to NetHSM sign modes
// and derives the sizes each scheme works with.
package mechanism

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"sort"

	"github.com/miekg/pkcs11"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/nethsm"
)

// PKCS#11 3.0 identifiers not exported by miekg/pkcs11.
const (
	CKM_EDDSA      = 0x00001057
	CKK_EC_EDWARDS = 0x00000040
)

// Family groups mechanisms that share size and encoding rules.
type Family int

const (
	FamilyRSAPKCS1 Family = iota
	FamilyRSAPSS
	FamilyECDSA
	FamilyEdDSA
)

func (f Family) String() string {
	switch f {
	case FamilyRSAPKCS1:
		return "RSA-PKCS1"
	case FamilyRSAPSS:
		return "RSA-PSS"
	case FamilyECDSA:
		return "ECDSA"
	case FamilyEdDSA:
		return "EdDSA"
	}
	return "unknown"
}

// PSSParams mirrors CK_RSA_PKCS_PSS_PARAMS.
type PSSParams struct {
	HashAlg    uint
	MGF        uint
	SaltLength uint
}

// Mechanism is a mechanism as requested by the caller.
type Mechanism struct {
	Type uint
	PSS  *PSSParams
}

// Descriptor is a resolved signing mechanism. It is immutable.
type Descriptor struct {
	Type         uint
	Family       Family
	Hash         crypto.Hash
	SignMode     nethsm.SignMode
	KeyMechanism nethsm.KeyMechanism
}

type entry struct {
	family Family
	hash   crypto.Hash
	keyRSA bool
}

var registry = map[uint]entry{
	pkcs11.CKM_RSA_PKCS:            {family: FamilyRSAPKCS1, keyRSA: true},
	pkcs11.CKM_SHA1_RSA_PKCS:       {family: FamilyRSAPKCS1, hash: crypto.SHA1, keyRSA: true},
	pkcs11.CKM_SHA224_RSA_PKCS:     {family: FamilyRSAPKCS1, hash: crypto.SHA224, keyRSA: true},
	pkcs11.CKM_SHA256_RSA_PKCS:     {family: FamilyRSAPKCS1, hash: crypto.SHA256, keyRSA: true},
	pkcs11.CKM_SHA384_RSA_PKCS:     {family: FamilyRSAPKCS1, hash: crypto.SHA384, keyRSA: true},
	pkcs11.CKM_SHA512_RSA_PKCS:     {family: FamilyRSAPKCS1, hash: crypto.SHA512, keyRSA: true},
	pkcs11.CKM_RSA_PKCS_PSS:        {family: FamilyRSAPSS, keyRSA: true},
	pkcs11.CKM_SHA1_RSA_PKCS_PSS:   {family: FamilyRSAPSS, hash: crypto.SHA1, keyRSA: true},
	pkcs11.CKM_SHA224_RSA_PKCS_PSS: {family: FamilyRSAPSS, hash: crypto.SHA224, keyRSA: true},
	pkcs11.CKM_SHA256_RSA_PKCS_PSS: {family: FamilyRSAPSS, hash: crypto.SHA256, keyRSA: true},
	pkcs11.CKM_SHA384_RSA_PKCS_PSS: {family: FamilyRSAPSS, hash: crypto.SHA384, keyRSA: true},
	pkcs11.CKM_SHA512_RSA_PKCS_PSS: {family: FamilyRSAPSS, hash: crypto.SHA512, keyRSA: true},
	pkcs11.CKM_ECDSA:               {family: FamilyECDSA},
	pkcs11.CKM_ECDSA_SHA1:          {family: FamilyECDSA, hash: crypto.SHA1},
	pkcs11.CKM_ECDSA_SHA224:        {family: FamilyECDSA, hash: crypto.SHA224},
	pkcs11.CKM_ECDSA_SHA256:        {family: FamilyECDSA, hash: crypto.SHA256},
	pkcs11.CKM_ECDSA_SHA384:        {family: FamilyECDSA, hash: crypto.SHA384},
	pkcs11.CKM_ECDSA_SHA512:        {family: FamilyECDSA, hash: crypto.SHA512},
	CKM_EDDSA:                      {family: FamilyEdDSA},
}

var pssModes = map[crypto.Hash]nethsm.SignMode{
	crypto.SHA1:   nethsm.SignModePSSSHA1,
	crypto.SHA224: nethsm.SignModePSSSHA224,
	crypto.SHA256: nethsm.SignModePSSSHA256,
	crypto.SHA384: nethsm.SignModePSSSHA384,
	crypto.SHA512: nethsm.SignModePSSSHA512,
}

var pssKeyMechanisms = map[crypto.Hash]nethsm.KeyMechanism{
	crypto.SHA1:   nethsm.MechanismRSASignaturePSSSHA1,
	crypto.SHA224: nethsm.MechanismRSASignaturePSSSHA224,
	crypto.SHA256: nethsm.MechanismRSASignaturePSSSHA256,
	crypto.SHA384: nethsm.MechanismRSASignaturePSSSHA384,
	crypto.SHA512: nethsm.MechanismRSASignaturePSSSHA512,
}

var hashMechanisms = map[uint]crypto.Hash{
	pkcs11.CKM_SHA_1:  crypto.SHA1,
	pkcs11.CKM_SHA224: crypto.SHA224,
	pkcs11.CKM_SHA256: crypto.SHA256,
	pkcs11.CKM_SHA384: crypto.SHA384,
	pkcs11.CKM_SHA512: crypto.SHA512,
}

// Resolve returns the signing descriptor of m.
func Resolve(m *Mechanism) (*Descriptor, error) {
	if m == nil {
		return nil, ckr.New("mechanism.Resolve", "no mechanism", ckr.ArgumentsBad)
	}
	e, ok := registry[m.Type]
	if !ok {
		return nil, ckr.New("mechanism.Resolve", "mechanism cannot sign", ckr.InvalidMechanismForMode)
	}
	d := &Descriptor{Type: m.Type, Family: e.family, Hash: e.hash}
	switch e.family {
	case FamilyRSAPKCS1:
		d.SignMode = nethsm.SignModePKCS1
		d.KeyMechanism = nethsm.MechanismRSASignaturePKCS1
	case FamilyRSAPSS:
		hash := e.hash
		if m.PSS != nil {
			paramHash, ok := hashMechanisms[m.PSS.HashAlg]
			if !ok || (hash != 0 && paramHash != hash) {
				return nil, ckr.New("mechanism.Resolve", "unsupported PSS hash", ckr.MechanismParamInvalid)
			}
			hash = paramHash
		} else if hash == 0 {
			return nil, ckr.New("mechanism.Resolve", "CKM_RSA_PKCS_PSS needs parameters", ckr.MechanismParamInvalid)
		}
		d.SignMode = pssModes[hash]
		d.KeyMechanism = pssKeyMechanisms[hash]
	case FamilyECDSA:
		d.SignMode = nethsm.SignModeECDSA
		d.KeyMechanism = nethsm.MechanismECDSASignature
	case FamilyEdDSA:
		d.SignMode = nethsm.SignModeEdDSA
		d.KeyMechanism = nethsm.MechanismEdDSASignature
	}
	return d, nil
}

// ValidateAgainstKey fails unless the key may be used with d.
func (d *Descriptor) ValidateAgainstKey(allowed []nethsm.KeyMechanism) error {
	for _, m := range allowed {
		if m == d.KeyMechanism {
			return nil
		}
	}
	return ckr.New("Descriptor.ValidateAgainstKey", "mechanism not allowed for key", ckr.InvalidMechanismForKey)
}

// FixedInput reports whether the scheme signs a value of fixed width.
func (d *Descriptor) FixedInput() bool {
	return d.Family == FamilyECDSA
}

// InputSize is the width in bytes of the value sent to the NetHSM, for
// schemes with a fixed width. Other schemes return 0 and pass data
// through unchanged.
func (d *Descriptor) InputSize(keySize int) int {
	if d.FixedInput() {
		return byteLen(keySize)
	}
	return 0
}

// OutputSize is the width of one signature component.
func (d *Descriptor) OutputSize(keySize int) int {
	switch d.Family {
	case FamilyECDSA:
		return byteLen(keySize)
	case FamilyEdDSA:
		return 32
	}
	return byteLen(keySize)
}

// SignatureSize is the length of the signature returned to the caller.
func (d *Descriptor) SignatureSize(keySize int) int {
	switch d.Family {
	case FamilyECDSA, FamilyEdDSA:
		return 2 * d.OutputSize(keySize)
	}
	return d.OutputSize(keySize)
}

func byteLen(bits int) int {
	return (bits + 7) / 8
}

// List returns the supported mechanism types in ascending order.
func List() []uint {
	types := make([]uint, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Info describes a mechanism as CK_MECHANISM_INFO does.
type Info struct {
	MinKeySize uint
	MaxKeySize uint
	Flags      uint
}

// GetInfo returns the key sizes and flags of a supported mechanism.
func GetInfo(t uint) (*Info, error) {
	e, ok := registry[t]
	if !ok {
		return nil, ckr.New("mechanism.GetInfo", "unknown mechanism", ckr.InvalidMechanismForMode)
	}
	info := &Info{Flags: pkcs11.CKF_HW | pkcs11.CKF_SIGN}
	switch {
	case e.keyRSA:
		info.MinKeySize, info.MaxKeySize = 1024, 8192
	case e.family == FamilyEdDSA:
		info.MinKeySize, info.MaxKeySize = 256, 256
	default:
		info.MinKeySize, info.MaxKeySize = 224, 521
		info.Flags |= pkcs11.CKF_EC_F_P | pkcs11.CKF_EC_NAMEDCURVE | pkcs11.CKF_EC_UNCOMPRESS
	}
	return info, nil
}
