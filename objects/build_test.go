package objects

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/nethsm"
)

func TestNewKeyObjectEC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	point := elliptic.Marshal(elliptic.P256(), key.X, key.Y)
	meta := &nethsm.PublicKey{
		Type:       nethsm.KeyTypeECP256,
		Mechanisms: []nethsm.KeyMechanism{nethsm.MechanismECDSASignature},
		Public:     &nethsm.KeyPublicData{Data: point},
	}

	priv, err := NewKeyObject(Ref{ID: "ec1", Kind: PrivateKey}, meta)
	require.NoError(t, err)
	assert.Equal(t, 256, priv.Size)
	assert.Equal(t, Ref{ID: "ec1", Kind: PrivateKey}, priv.Ref)

	class, _, err := priv.Attributes.ULong(pkcs11.CKA_CLASS)
	require.NoError(t, err)
	assert.Equal(t, uint(pkcs11.CKO_PRIVATE_KEY), class)
	sign, _ := priv.Attributes.Value(pkcs11.CKA_SIGN)
	assert.Equal(t, BoolBytes(true), sign)

	params, ok := priv.Attributes.Value(pkcs11.CKA_EC_PARAMS)
	require.True(t, ok)
	keyType, ok := CurveKeyType(params)
	require.True(t, ok)
	assert.Equal(t, nethsm.KeyTypeECP256, keyType)

	encoded, ok := priv.Attributes.Value(pkcs11.CKA_EC_POINT)
	require.True(t, ok)
	assert.Equal(t, point, DecodeECPoint(encoded))

	allowed, _ := priv.Attributes.Value(pkcs11.CKA_ALLOWED_MECHANISMS)
	assert.Len(t, allowed, 6*ulongSize)

	pub, err := NewKeyObject(Ref{ID: "ec1", Kind: PublicKey}, meta)
	require.NoError(t, err)
	_, hasSign := pub.Attributes.Value(pkcs11.CKA_SIGN)
	assert.False(t, hasSign)
	private, _ := pub.Attributes.Value(pkcs11.CKA_PRIVATE)
	assert.Equal(t, BoolBytes(false), private)
}

func TestNewKeyObjectRSAAndEdDSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	meta := &nethsm.PublicKey{
		Type:       nethsm.KeyTypeRSA,
		Mechanisms: []nethsm.KeyMechanism{nethsm.MechanismRSASignaturePKCS1, nethsm.MechanismRSADecryptionPKCS1},
		Public: &nethsm.KeyPublicData{
			Modulus:        key.N.Bytes(),
			PublicExponent: big.NewInt(int64(key.E)).Bytes(),
		},
	}
	obj, err := NewKeyObject(Ref{ID: "rsa1", Kind: PrivateKey}, meta)
	require.NoError(t, err)
	assert.Equal(t, 2048, obj.Size)
	bits, _, err := obj.Attributes.ULong(pkcs11.CKA_MODULUS_BITS)
	require.NoError(t, err)
	assert.Equal(t, uint(2048), bits)
	decrypt, _ := obj.Attributes.Value(pkcs11.CKA_DECRYPT)
	assert.Equal(t, BoolBytes(true), decrypt)

	ed, err := NewKeyObject(Ref{ID: "ed1", Kind: PrivateKey}, &nethsm.PublicKey{
		Type:       nethsm.KeyTypeCurve25519,
		Mechanisms: []nethsm.KeyMechanism{nethsm.MechanismEdDSASignature},
		Public:     &nethsm.KeyPublicData{Data: make([]byte, 32)},
	})
	require.NoError(t, err)
	keyType, _, err := ed.Attributes.ULong(pkcs11.CKA_KEY_TYPE)
	require.NoError(t, err)
	assert.Equal(t, uint(mechanism.CKK_EC_EDWARDS), keyType)
	assert.Equal(t, 256, ed.Size)

	assert.Equal(t, []Kind{SecretKey}, KindsOf(&nethsm.PublicKey{Type: nethsm.KeyTypeGeneric}))
	_, err = NewKeyObject(Ref{ID: "x", Kind: Certificate}, meta)
	assert.Error(t, err)
}

func TestNewCertificateObject(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      pkix.Name{CommonName: "signing"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	obj, err := NewCertificateObject(Ref{Slot: 2, ID: "ec1"}, der)
	require.NoError(t, err)
	assert.Equal(t, len(der), obj.Size)
	assert.Equal(t, Ref{Slot: 2, ID: "ec1", Kind: Certificate}, obj.Ref)
	value, _ := obj.Attributes.Value(pkcs11.CKA_VALUE)
	assert.Equal(t, der, value)
	serial, _ := obj.Attributes.Value(pkcs11.CKA_SERIAL_NUMBER)
	assert.Equal(t, []byte{0x02, 0x02, 0x10, 0x92}, serial)

	broken, err := NewCertificateObject(Ref{ID: "bad"}, []byte{0x01})
	require.NoError(t, err)
	_, ok := broken.Attributes.Value(pkcs11.CKA_SUBJECT)
	assert.False(t, ok)
}

func TestCryptoObjectMatch(t *testing.T) {
	object := testObject()
	assert.True(t, object.Match(nil))

	filter := make(Attributes)
	filter.Set(pkcs11.CKA_ID, []byte("signing-key"))
	assert.True(t, object.Match(filter))
	filter.SetULong(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE)
	assert.False(t, object.Match(filter))
}
