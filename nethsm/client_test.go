package nethsm_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/nethsm/nethsmtest"
)

func newClient(t *testing.T, url string, creds nethsm.Credentials) *nethsm.Client {
	t.Helper()
	c, err := nethsm.NewClient(nethsm.Config{
		URL:         url,
		Credentials: creds,
		Timeout:     5 * time.Second,
		Retries:     2,
		RetryWait:   time.Millisecond,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return c
}

func operator() nethsm.Credentials {
	return nethsm.Credentials{Username: nethsmtest.Operator, Password: nethsmtest.Password}
}

func TestListAndGetKey(t *testing.T) {
	srv := nethsmtest.New(t)
	srv.AddECKey("ec1", elliptic.P256())
	srv.AddRSAKey("rsa1", 2048)
	c := newClient(t, srv.URL(), operator())

	ids, err := c.ListKeys(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ec1", "rsa1"}, ids)

	key, err := c.GetKey(context.Background(), "ec1")
	require.NoError(t, err)
	assert.Equal(t, nethsm.KeyTypeECP256, key.Type)
	assert.True(t, key.HasMechanism(nethsm.MechanismECDSASignature))
	assert.False(t, key.HasMechanism(nethsm.MechanismRSASignaturePKCS1))
	assert.Len(t, key.Public.Data, 65)

	_, err = c.GetKey(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, nethsm.IsNotFound(err))
	assert.False(t, nethsm.IsAuthExpired(err))
}

func TestSignECDSA(t *testing.T) {
	srv := nethsmtest.New(t)
	priv := srv.AddECKey("ec1", elliptic.P256())
	c := newClient(t, srv.URL(), operator())

	digest := sha256.Sum256([]byte("hello"))
	sig, err := c.Sign(context.Background(), "ec1", nethsm.SignModeECDSA, base64.StdEncoding.EncodeToString(digest[:]))
	require.NoError(t, err)
	der, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], der))
}

func TestWrongCredentialsAreAuthExpired(t *testing.T) {
	srv := nethsmtest.New(t)
	c := newClient(t, srv.URL(), nethsm.Credentials{Username: nethsmtest.Operator, Password: "wrong"})

	_, err := c.ListKeys(context.Background(), "")
	require.Error(t, err)
	assert.True(t, nethsm.IsAuthExpired(err))
}

func TestReauthenticateReadsEnvironment(t *testing.T) {
	srv := nethsmtest.New(t)
	t.Setenv("P11NETHSM_TEST_PASSWORD", "stale")
	c := newClient(t, srv.URL(), nethsm.Credentials{
		Username: nethsmtest.Operator,
		Password: "env:P11NETHSM_TEST_PASSWORD",
	})

	_, err := c.ListKeys(context.Background(), "")
	require.True(t, nethsm.IsAuthExpired(err))

	t.Setenv("P11NETHSM_TEST_PASSWORD", nethsmtest.Password)
	require.NoError(t, c.Reauthenticate())
	_, err = c.ListKeys(context.Background(), "")
	require.NoError(t, err)
}

func TestMissingEnvironmentPassword(t *testing.T) {
	_, err := nethsm.NewClient(nethsm.Config{
		URL:         "http://127.0.0.1:1/api/v1",
		Credentials: nethsm.Credentials{Username: "operator", Password: "env:P11NETHSM_TEST_UNSET_VARIABLE"},
	}, nil)
	require.Error(t, err)
}

func TestWithCredentialsSharesInstance(t *testing.T) {
	srv := nethsmtest.New(t)
	c := newClient(t, srv.URL(), operator())
	admin, err := c.WithCredentials(nethsm.Credentials{Username: nethsmtest.Administrator, Password: nethsmtest.Password})
	require.NoError(t, err)
	assert.Equal(t, nethsmtest.Administrator, admin.Username())
	assert.Equal(t, nethsmtest.Operator, c.Username())
	assert.Equal(t, c.URL(), admin.URL())
}

func TestCertificateRoundTrip(t *testing.T) {
	srv := nethsmtest.New(t)
	srv.AddECKey("ec1", elliptic.P256())
	c := newClient(t, srv.URL(), operator())
	admin, err := c.WithCredentials(nethsm.Credentials{Username: nethsmtest.Administrator, Password: nethsmtest.Password})
	require.NoError(t, err)

	_, err = c.GetCertificate(context.Background(), "ec1")
	assert.True(t, nethsm.IsNotFound(err))

	der := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	require.NoError(t, admin.PutCertificate(context.Background(), "ec1", der))
	got, err := c.GetCertificate(context.Background(), "ec1")
	require.NoError(t, err)
	assert.Equal(t, der, got)

	require.NoError(t, admin.DeleteCertificate(context.Background(), "ec1"))
	_, err = c.GetCertificate(context.Background(), "ec1")
	assert.True(t, nethsm.IsNotFound(err))
}

func TestOperatorCannotDelete(t *testing.T) {
	srv := nethsmtest.New(t)
	srv.AddECKey("ec1", elliptic.P256())
	c := newClient(t, srv.URL(), operator())

	err := c.DeleteKey(context.Background(), "ec1")
	var apiErr *nethsm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "insufficient role", apiErr.Message)
	assert.True(t, srv.HasKey("ec1"))
}

func TestRandom(t *testing.T) {
	srv := nethsmtest.New(t)
	c := newClient(t, srv.URL(), operator())
	data, err := c.Random(context.Background(), 32)
	require.NoError(t, err)
	assert.Len(t, data, 32)
}

func TestHealth(t *testing.T) {
	srv := nethsmtest.New(t)
	c := newClient(t, srv.URL(), nethsm.Credentials{})
	require.NoError(t, c.Health(context.Background()))

	srv.NotReady.Store(true)
	require.Error(t, c.Health(context.Background()))

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NetHSM", info.Product)
}

func TestSignIsNotRetried(t *testing.T) {
	var gets, signs atomic.Int32
	r := chi.NewRouter()
	r.Get("/api/v1/keys", func(w http.ResponseWriter, _ *http.Request) {
		gets.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Post("/api/v1/keys/{id}/sign", func(w http.ResponseWriter, _ *http.Request) {
		signs.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ts := httptest.NewServer(r)
	defer ts.Close()
	c := newClient(t, ts.URL+"/api/v1", operator())

	_, err := c.ListKeys(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, int32(3), gets.Load())

	_, err = c.Sign(context.Background(), "k", nethsm.SignModeECDSA, "AAAA")
	var apiErr *nethsm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(1), signs.Load())
}
