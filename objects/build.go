package objects

import (
	"crypto/x509"
	"encoding/asn1"
	"math/big"

	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/nethsm"
)

var (
	oidP224    = asn1.ObjectIdentifier{1, 3, 132, 0, 33}
	oidP256    = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidP384    = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	oidP521    = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
	oidEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}
)

type curve struct {
	bits int
	oid  asn1.ObjectIdentifier
}

var curves = map[nethsm.KeyType]curve{
	nethsm.KeyTypeECP224:     {224, oidP224},
	nethsm.KeyTypeECP256:     {256, oidP256},
	nethsm.KeyTypeECP384:     {384, oidP384},
	nethsm.KeyTypeECP521:     {521, oidP521},
	nethsm.KeyTypeCurve25519: {256, oidEd25519},
}

// CurveKeyType returns the key type of a DER encoded CKA_EC_PARAMS.
func CurveKeyType(params []byte) (nethsm.KeyType, bool) {
	var oid asn1.ObjectIdentifier
	in := cryptobyte.String(params)
	if !in.ReadASN1ObjectIdentifier(&oid) || !in.Empty() {
		return "", false
	}
	for keyType, c := range curves {
		if c.oid.Equal(oid) {
			return keyType, true
		}
	}
	return "", false
}

// KeySize returns the size in bits of a NetHSM key.
func KeySize(key *nethsm.PublicKey) int {
	if c, ok := curves[key.Type]; ok {
		return c.bits
	}
	if key.Type == nethsm.KeyTypeRSA && key.Public != nil {
		return new(big.Int).SetBytes(key.Public.Modulus).BitLen()
	}
	return 0
}

// KindsOf lists the key kinds a NetHSM key is exposed as.
func KindsOf(key *nethsm.PublicKey) []Kind {
	if key.Type == nethsm.KeyTypeGeneric {
		return []Kind{SecretKey}
	}
	return []Kind{PrivateKey, PublicKey}
}

// NewKeyObject builds the object ref names for a NetHSM key.
func NewKeyObject(ref Ref, key *nethsm.PublicKey) (*CryptoObject, error) {
	id, kind := ref.ID, ref.Kind
	if kind == Certificate {
		return nil, ckr.New("objects.NewKeyObject", "certificates are built from DER", ckr.GeneralError)
	}
	attrs := make(Attributes)
	attrs.SetULong(pkcs11.CKA_CLASS, kind.Class())
	attrs.Set(pkcs11.CKA_ID, []byte(id))
	attrs.Set(pkcs11.CKA_LABEL, []byte(id))
	attrs.SetBool(pkcs11.CKA_TOKEN, true)
	attrs.SetBool(pkcs11.CKA_PRIVATE, kind != PublicKey)
	attrs.SetBool(pkcs11.CKA_MODIFIABLE, false)
	attrs.SetBool(pkcs11.CKA_COPYABLE, false)
	attrs.SetBool(pkcs11.CKA_DESTROYABLE, kind != PublicKey)
	attrs.SetBool(pkcs11.CKA_LOCAL, false)
	attrs.SetBool(pkcs11.CKA_DERIVE, false)
	attrs.Set(pkcs11.CKA_START_DATE, nil)
	attrs.Set(pkcs11.CKA_END_DATE, nil)
	attrs.Set(pkcs11.CKA_SUBJECT, nil)

	canSign, canDecrypt := false, false
	var allowed []uint
	for _, m := range key.Mechanisms {
		switch m {
		case nethsm.MechanismRSASignaturePKCS1:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_RSA_PKCS, pkcs11.CKM_SHA1_RSA_PKCS, pkcs11.CKM_SHA224_RSA_PKCS,
				pkcs11.CKM_SHA256_RSA_PKCS, pkcs11.CKM_SHA384_RSA_PKCS, pkcs11.CKM_SHA512_RSA_PKCS)
		case nethsm.MechanismRSASignaturePSSSHA1:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA1_RSA_PKCS_PSS)
		case nethsm.MechanismRSASignaturePSSSHA224:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA224_RSA_PKCS_PSS)
		case nethsm.MechanismRSASignaturePSSSHA256:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA256_RSA_PKCS_PSS)
		case nethsm.MechanismRSASignaturePSSSHA384:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA384_RSA_PKCS_PSS)
		case nethsm.MechanismRSASignaturePSSSHA512:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA512_RSA_PKCS_PSS)
		case nethsm.MechanismECDSASignature:
			canSign = true
			allowed = append(allowed, pkcs11.CKM_ECDSA, pkcs11.CKM_ECDSA_SHA1, pkcs11.CKM_ECDSA_SHA224,
				pkcs11.CKM_ECDSA_SHA256, pkcs11.CKM_ECDSA_SHA384, pkcs11.CKM_ECDSA_SHA512)
		case nethsm.MechanismEdDSASignature:
			canSign = true
			allowed = append(allowed, mechanism.CKM_EDDSA)
		case nethsm.MechanismRSADecryptionRAW, nethsm.MechanismRSADecryptionPKCS1,
			nethsm.MechanismRSADecryptionOAEPSHA256, nethsm.MechanismAESDecryptionCBC:
			canDecrypt = true
		}
	}
	attrs.Set(pkcs11.CKA_ALLOWED_MECHANISMS, ULongArrayBytes(dedup(allowed)))

	switch kind {
	case PrivateKey, SecretKey:
		attrs.SetBool(pkcs11.CKA_SENSITIVE, true)
		attrs.SetBool(pkcs11.CKA_ALWAYS_SENSITIVE, true)
		attrs.SetBool(pkcs11.CKA_EXTRACTABLE, false)
		attrs.SetBool(pkcs11.CKA_NEVER_EXTRACTABLE, true)
		attrs.SetBool(pkcs11.CKA_ALWAYS_AUTHENTICATE, false)
		attrs.SetBool(pkcs11.CKA_SIGN, canSign)
		attrs.SetBool(pkcs11.CKA_SIGN_RECOVER, false)
		attrs.SetBool(pkcs11.CKA_DECRYPT, canDecrypt)
		attrs.SetBool(pkcs11.CKA_UNWRAP, false)
		attrs.SetBool(pkcs11.CKA_WRAP_WITH_TRUSTED, false)
	case PublicKey:
		attrs.SetBool(pkcs11.CKA_VERIFY, canSign)
		attrs.SetBool(pkcs11.CKA_VERIFY_RECOVER, false)
		attrs.SetBool(pkcs11.CKA_ENCRYPT, canDecrypt)
		attrs.SetBool(pkcs11.CKA_WRAP, false)
		attrs.SetBool(pkcs11.CKA_TRUSTED, false)
	}

	size := KeySize(key)
	switch key.Type {
	case nethsm.KeyTypeRSA:
		attrs.SetULong(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA)
		attrs.SetULong(pkcs11.CKA_KEY_GEN_MECHANISM, pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN)
		if key.Public != nil {
			attrs.Set(pkcs11.CKA_MODULUS, key.Public.Modulus)
			attrs.Set(pkcs11.CKA_PUBLIC_EXPONENT, key.Public.PublicExponent)
		}
		attrs.SetULong(pkcs11.CKA_MODULUS_BITS, uint(size))
	case nethsm.KeyTypeECP224, nethsm.KeyTypeECP256, nethsm.KeyTypeECP384, nethsm.KeyTypeECP521, nethsm.KeyTypeCurve25519:
		if key.Type == nethsm.KeyTypeCurve25519 {
			attrs.SetULong(pkcs11.CKA_KEY_TYPE, mechanism.CKK_EC_EDWARDS)
		} else {
			attrs.SetULong(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC)
			attrs.SetULong(pkcs11.CKA_KEY_GEN_MECHANISM, pkcs11.CKM_EC_KEY_PAIR_GEN)
		}
		params, err := encodeOID(curves[key.Type].oid)
		if err != nil {
			return nil, err
		}
		attrs.Set(pkcs11.CKA_EC_PARAMS, params)
		if key.Public != nil {
			point, err := encodeOctetString(key.Public.Data)
			if err != nil {
				return nil, err
			}
			attrs.Set(pkcs11.CKA_EC_POINT, point)
		}
	case nethsm.KeyTypeGeneric:
		attrs.SetULong(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_AES)
	default:
		return nil, ckr.New("objects.NewKeyObject", "unknown key type "+string(key.Type), ckr.GeneralError)
	}

	return &CryptoObject{
		Ref:        ref,
		KeyType:    key.Type,
		Size:       size,
		Mechanisms: key.Mechanisms,
		Attributes: attrs,
	}, nil
}

// NewCertificateObject builds the certificate object stored with a key.
// Certificates that do not parse still expose their value.
func NewCertificateObject(ref Ref, der []byte) (*CryptoObject, error) {
	ref.Kind = Certificate
	id := ref.ID
	attrs := make(Attributes)
	attrs.SetULong(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE)
	attrs.SetULong(pkcs11.CKA_CERTIFICATE_TYPE, pkcs11.CKC_X_509)
	attrs.Set(pkcs11.CKA_ID, []byte(id))
	attrs.Set(pkcs11.CKA_LABEL, []byte(id))
	attrs.SetBool(pkcs11.CKA_TOKEN, true)
	attrs.SetBool(pkcs11.CKA_PRIVATE, false)
	attrs.SetBool(pkcs11.CKA_MODIFIABLE, false)
	attrs.SetBool(pkcs11.CKA_COPYABLE, false)
	attrs.SetBool(pkcs11.CKA_DESTROYABLE, true)
	attrs.SetBool(pkcs11.CKA_TRUSTED, false)
	attrs.SetULong(pkcs11.CKA_CERTIFICATE_CATEGORY, 0)
	attrs.Set(pkcs11.CKA_VALUE, der)

	if cert, err := x509.ParseCertificate(der); err == nil {
		attrs.Set(pkcs11.CKA_SUBJECT, cert.RawSubject)
		attrs.Set(pkcs11.CKA_ISSUER, cert.RawIssuer)
		var b cryptobyte.Builder
		b.AddASN1BigInt(cert.SerialNumber)
		serial, err := b.Bytes()
		if err != nil {
			return nil, ckr.Wrap("objects.NewCertificateObject", err, ckr.GeneralError)
		}
		attrs.Set(pkcs11.CKA_SERIAL_NUMBER, serial)
	}

	return &CryptoObject{
		Ref:        ref,
		Size:       len(der),
		Attributes: attrs,
	}, nil
}

func encodeOID(oid asn1.ObjectIdentifier) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1ObjectIdentifier(oid)
	der, err := b.Bytes()
	if err != nil {
		return nil, ckr.Wrap("objects.encodeOID", err, ckr.GeneralError)
	}
	return der, nil
}

func encodeOctetString(data []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1OctetString(data)
	der, err := b.Bytes()
	if err != nil {
		return nil, ckr.Wrap("objects.encodeOctetString", err, ckr.GeneralError)
	}
	return der, nil
}

// DecodeECPoint unwraps a DER encoded CKA_EC_POINT. Raw points are
// returned as they are.
func DecodeECPoint(value []byte) []byte {
	var point []byte
	in := cryptobyte.String(value)
	if in.ReadASN1Bytes(&point, cbasn1.OCTET_STRING) && in.Empty() {
		return point
	}
	return value
}

func dedup(values []uint) []uint {
	seen := make(map[uint]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
