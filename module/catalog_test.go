package module

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/pkcs11"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/nethsm/nethsmtest"
	"github.com/niclabs/p11nethsm/objects"
)

var p256Params = []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}

func selfSigned(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      pkix.Name{CommonName: "ec1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

// seed stores an EC key with a certificate and an RSA key.
func seed(t *testing.T, srv *nethsmtest.Server) {
	key := srv.AddECKey("ec1", elliptic.P256())
	srv.SetCertificate("ec1", selfSigned(t, key))
	srv.AddRSAKey("rsa1", 2048)
}

func classOf(t *testing.T, app *Application, handle uint) uint {
	t.Helper()
	object, err := app.Slots[0].Catalog.Get(app.Context(), app.Slots[0].Login, handle)
	require.NoError(t, err)
	class, ok, err := object.Attributes.ULong(pkcs11.CKA_CLASS)
	require.NoError(t, err)
	require.True(t, ok)
	return class
}

func TestFindAll(t *testing.T) {
	app, srv := newTestApp(t)
	seed(t, srv)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login

	handles, err := catalog.Find(app.Context(), login, objects.Attributes{})
	require.NoError(t, err)
	require.Len(t, handles, 5)

	classes := make([]uint, len(handles))
	for i, h := range handles {
		classes[i] = classOf(t, app, h)
	}
	assert.Equal(t, []uint{
		pkcs11.CKO_PRIVATE_KEY, pkcs11.CKO_PUBLIC_KEY, pkcs11.CKO_CERTIFICATE,
		pkcs11.CKO_PRIVATE_KEY, pkcs11.CKO_PUBLIC_KEY,
	}, classes)

	again, err := catalog.Find(app.Context(), login, objects.Attributes{})
	require.NoError(t, err)
	assert.Equal(t, handles, again, "handles are stable across searches")
}

func TestFindFilters(t *testing.T) {
	app, srv := newTestApp(t)
	seed(t, srv)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	ctx := app.Context()

	public, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_CLASS: pkcs11.CKO_PUBLIC_KEY}))
	require.NoError(t, err)
	assert.Len(t, public, 2)

	byID, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "ec1"}))
	require.NoError(t, err)
	assert.Len(t, byID, 3)

	cert, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_LABEL: "ec1",
		pkcs11.CKA_CLASS: pkcs11.CKO_CERTIFICATE,
	}))
	require.NoError(t, err)
	require.Len(t, cert, 1)
	object, err := catalog.Get(ctx, login, cert[0])
	require.NoError(t, err)
	serial, ok := object.Attributes.Value(pkcs11.CKA_SERIAL_NUMBER)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x02, 0x02, 0x10, 0x92}, serial)

	conflicting, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_ID:    "ec1",
		pkcs11.CKA_LABEL: "rsa1",
	}))
	require.NoError(t, err)
	assert.Empty(t, conflicting)

	missing, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "nope"}))
	require.NoError(t, err)
	assert.Empty(t, missing)

	secret, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_CLASS: pkcs11.CKO_SECRET_KEY}))
	require.NoError(t, err)
	assert.Empty(t, secret)

	signers, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_SIGN: true}))
	require.NoError(t, err)
	assert.Len(t, signers, 2)
}

func TestSetAttributesAliases(t *testing.T) {
	app, srv := newTestApp(t)
	seed(t, srv)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	ctx := app.Context()

	handles, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_ID:    "ec1",
		pkcs11.CKA_CLASS: pkcs11.CKO_PRIVATE_KEY,
	}))
	require.NoError(t, err)
	require.Len(t, handles, 1)

	require.NoError(t, catalog.SetAttributes(handles[0], attrs(map[uint]interface{}{pkcs11.CKA_ID: "AB12"})))
	require.NoError(t, catalog.SetAttributes(handles[0], attrs(map[uint]interface{}{pkcs11.CKA_LABEL: []byte{0xDE, 0xAD}})))

	byAlias, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "AB12"}))
	require.NoError(t, err)
	assert.Len(t, byAlias, 3)
	assert.Contains(t, byAlias, handles[0])

	byHex, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_LABEL: []byte{0xDE, 0xAD}}))
	require.NoError(t, err)
	assert.Equal(t, byAlias, byHex)

	err = catalog.SetAttributes(handles[0], attrs(map[uint]interface{}{
		pkcs11.CKA_LABEL: "ignored",
		pkcs11.CKA_SIGN:  false,
	}))
	require.NoError(t, err, "attributes other than CKA_ID and CKA_LABEL are ignored")
	id, ok := app.Aliases.Get("ignored")
	assert.True(t, ok)
	assert.Equal(t, "ec1", id)

	require.NoError(t, catalog.SetAttributes(handles[0], objects.Attributes{}))

	err = catalog.SetAttributes(9999, attrs(map[uint]interface{}{pkcs11.CKA_LABEL: "x"}))
	assert.True(t, ckr.Is(err, ckr.ObjectHandleInvalid))
}

func TestCreateKey(t *testing.T) {
	app, srv := newTestApp(t)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	ctx := app.Context()

	d := make([]byte, 32)
	d[31] = 7
	template := attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS:     pkcs11.CKO_PRIVATE_KEY,
		pkcs11.CKA_KEY_TYPE:  pkcs11.CKK_EC,
		pkcs11.CKA_ID:        "newkey",
		pkcs11.CKA_EC_PARAMS: p256Params,
		pkcs11.CKA_VALUE:     d,
	})

	loginAs(t, app, Operator)
	_, err := catalog.Create(ctx, login, template)
	assert.True(t, ckr.Is(err, ckr.NotLoggedIn))

	loginAs(t, app, Administrator)
	handles, err := catalog.Create(ctx, login, template)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	meta, ok := srv.Key("newkey")
	require.True(t, ok)
	assert.Equal(t, nethsm.KeyTypeECP256, meta.Type)

	assert.Equal(t, uint(pkcs11.CKO_PRIVATE_KEY), classOf(t, app, handles[0]))
	assert.Equal(t, uint(pkcs11.CKO_PUBLIC_KEY), classOf(t, app, handles[1]))

	_, err = catalog.Create(ctx, login, template)
	assert.True(t, ckr.Is(err, ckr.BackendError), "the instance refuses duplicates")
}

func TestCreateWithForeignLabel(t *testing.T) {
	app, srv := newTestApp(t)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	loginAs(t, app, Administrator)

	seedKey := make([]byte, 32)
	_, err := rand.Read(seedKey)
	require.NoError(t, err)
	handles, err := catalog.Create(app.Context(), login, attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS:     pkcs11.CKO_PRIVATE_KEY,
		pkcs11.CKA_KEY_TYPE:  mechanism.CKK_EC_EDWARDS,
		pkcs11.CKA_LABEL:     "my key!",
		pkcs11.CKA_EC_PARAMS: []byte{0x06, 0x03, 0x2b, 0x65, 0x70},
		pkcs11.CKA_VALUE:     seedKey,
	}))
	require.NoError(t, err)
	require.Len(t, handles, 2)

	found, err := catalog.Find(app.Context(), login, attrs(map[uint]interface{}{
		pkcs11.CKA_LABEL: "my key!",
		pkcs11.CKA_CLASS: pkcs11.CKO_PRIVATE_KEY,
	}))
	require.NoError(t, err)
	assert.Equal(t, handles[:1], found)

	ref, ok := app.Handles.Resolve(handles[0])
	require.True(t, ok)
	assert.True(t, srv.HasKey(ref.ID))
	assert.Len(t, ref.ID, 32)
}

func TestCreateRejectsTemplates(t *testing.T) {
	app, _ := newTestApp(t)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	loginAs(t, app, Administrator)
	ctx := app.Context()

	_, err := catalog.Create(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "x"}))
	assert.True(t, ckr.Is(err, ckr.TemplateIncomplete))

	_, err = catalog.Create(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_CLASS: pkcs11.CKO_PUBLIC_KEY}))
	assert.True(t, ckr.Is(err, ckr.AttributeValueInvalid))

	_, err = catalog.Create(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS:     pkcs11.CKO_PRIVATE_KEY,
		pkcs11.CKA_KEY_TYPE:  pkcs11.CKK_EC,
		pkcs11.CKA_EC_PARAMS: p256Params,
	}))
	assert.True(t, ckr.Is(err, ckr.TemplateIncomplete))

	_, err = catalog.Create(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS:     pkcs11.CKO_PRIVATE_KEY,
		pkcs11.CKA_KEY_TYPE:  mechanism.CKK_EC_EDWARDS,
		pkcs11.CKA_EC_PARAMS: p256Params,
		pkcs11.CKA_VALUE:     []byte{1},
	}))
	assert.True(t, ckr.Is(err, ckr.AttributeValueInvalid), "curve and key type disagree")
}

func TestFailedCreateKeepsNoAlias(t *testing.T) {
	app, srv := newTestApp(t)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	loginAs(t, app, Administrator)
	ctx := app.Context()

	_, err := catalog.Create(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS:     pkcs11.CKO_PRIVATE_KEY,
		pkcs11.CKA_KEY_TYPE:  pkcs11.CKK_EC,
		pkcs11.CKA_LABEL:     "my key!",
		pkcs11.CKA_EC_PARAMS: p256Params,
	}))
	assert.True(t, ckr.Is(err, ckr.TemplateIncomplete))
	_, ok := app.Aliases.Get(objects.AliasFor([]byte("my key!")))
	assert.False(t, ok)

	_, err = catalog.Create(ctx, login, attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS: pkcs11.CKO_CERTIFICATE,
		pkcs11.CKA_LABEL: "no value?",
	}))
	assert.True(t, ckr.Is(err, ckr.TemplateIncomplete))
	_, ok = app.Aliases.Get(objects.AliasFor([]byte("no value?")))
	assert.False(t, ok)
	assert.Zero(t, srv.Calls("put_key"))
}

func TestCreateCertificate(t *testing.T) {
	app, srv := newTestApp(t)
	key := srv.AddECKey("ec1", elliptic.P256())
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	loginAs(t, app, Administrator)

	der := selfSigned(t, key)
	handles, err := catalog.Create(app.Context(), login, attrs(map[uint]interface{}{
		pkcs11.CKA_CLASS: pkcs11.CKO_CERTIFICATE,
		pkcs11.CKA_ID:    "ec1",
		pkcs11.CKA_VALUE: der,
	}))
	require.NoError(t, err)
	require.Len(t, handles, 1)

	object, err := catalog.Get(app.Context(), login, handles[0])
	require.NoError(t, err)
	value, ok := object.Attributes.Value(pkcs11.CKA_VALUE)
	assert.True(t, ok)
	assert.Equal(t, der, value)
}

func TestDestroy(t *testing.T) {
	app, srv := newTestApp(t)
	seed(t, srv)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	ctx := app.Context()

	handles, err := catalog.Find(ctx, login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "ec1"}))
	require.NoError(t, err)
	require.Len(t, handles, 3)
	priv, pub, cert := handles[0], handles[1], handles[2]

	assert.True(t, ckr.Is(catalog.Destroy(ctx, login, pub), ckr.ActionProhibited))
	assert.True(t, ckr.Is(catalog.Destroy(ctx, login, priv), ckr.NotLoggedIn))

	loginAs(t, app, Administrator)
	require.NoError(t, catalog.Destroy(ctx, login, cert))
	_, err = catalog.Get(ctx, login, cert)
	assert.True(t, ckr.Is(err, ckr.ObjectHandleInvalid))
	assert.True(t, srv.HasKey("ec1"))

	require.NoError(t, catalog.Destroy(ctx, login, priv))
	assert.False(t, srv.HasKey("ec1"))
	for _, h := range []uint{priv, pub} {
		_, err = catalog.Get(ctx, login, h)
		assert.True(t, ckr.Is(err, ckr.ObjectHandleInvalid))
	}

	left, err := catalog.Find(ctx, login, objects.Attributes{})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestGetForgetsVanishedKeys(t *testing.T) {
	app, srv := newTestApp(t)
	seed(t, srv)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login
	ctx := app.Context()

	ref := objects.Ref{Slot: 0, ID: "rsa1", Kind: objects.PrivateKey}
	handle := app.Handles.Handle(ref)
	object, err := catalog.Get(ctx, login, handle)
	require.NoError(t, err)
	assert.Equal(t, ref, object.Ref)

	other := app.Handles.Handle(objects.Ref{Slot: 0, ID: "gone", Kind: objects.PrivateKey})
	_, err = catalog.Get(ctx, login, other)
	assert.True(t, ckr.Is(err, ckr.ObjectHandleInvalid))
	_, ok := app.Handles.Resolve(other)
	assert.False(t, ok)

	foreign := app.Handles.Handle(objects.Ref{Slot: 3, ID: "rsa1", Kind: objects.PrivateKey})
	_, err = catalog.Get(ctx, login, foreign)
	assert.True(t, ckr.Is(err, ckr.ObjectHandleInvalid))
}

func TestKeyCache(t *testing.T) {
	viper.Set("sqlite3.path", filepath.Join(t.TempDir(), "cache.db"))
	t.Cleanup(viper.Reset)

	srv := nethsmtest.New(t)
	seed(t, srv)
	conf := testConfig(srv)
	conf.Storage = config.StorageConfig{Type: "sqlite3", TTL: time.Minute}
	app := newTestAppWith(t, conf)
	catalog, login := app.Slots[0].Catalog, app.Slots[0].Login

	for i := 0; i < 3; i++ {
		handles, err := catalog.Find(app.Context(), login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "rsa1"}))
		require.NoError(t, err)
		assert.Len(t, handles, 2)
	}
	assert.Equal(t, 1, srv.Calls("get_key"))
	assert.Equal(t, 1, srv.Calls("get_cert"))

	loginAs(t, app, Administrator)
	handles, err := catalog.Find(app.Context(), login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "rsa1"}))
	require.NoError(t, err)
	require.NoError(t, catalog.Destroy(app.Context(), login, handles[0]))

	handles, err = catalog.Find(app.Context(), login, attrs(map[uint]interface{}{pkcs11.CKA_ID: "rsa1"}))
	require.NoError(t, err)
	assert.Empty(t, handles, "destroy drops the cached entry")
}
