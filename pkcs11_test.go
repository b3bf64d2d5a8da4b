package main

import (
	"crypto/elliptic"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/module"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/nethsm/nethsmtest"
	"github.com/niclabs/p11nethsm/objects"
)

// install makes a module backed by a fake NetHSM holding one EC key the
// initialized one. A fresh module hands out session 1, and the search
// run here gives the private key object handle 1.
func install(t *testing.T) (*module.Application, *nethsmtest.Server) {
	t.Helper()
	srv := nethsmtest.New(t)
	srv.AddECKey("ec1", elliptic.P256())
	app, err := module.NewApplication(&config.Config{
		Storage:  config.StorageConfig{Type: "none"},
		Criptoki: config.CriptokiConfig{ManufacturerID: "Nitrokey GmbH", Model: "NetHSM"},
		Slots: []*config.SlotsConfig{{
			Label:         "test",
			URL:           srv.URL(),
			Operator:      nethsm.Credentials{Username: nethsmtest.Operator, Password: nethsmtest.Password},
			Administrator: nethsm.Credentials{Username: nethsmtest.Administrator, Password: nethsmtest.Password},
		}},
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	appMu.Lock()
	require.Nil(t, App)
	App = app
	appMu.Unlock()
	t.Cleanup(func() {
		appMu.Lock()
		App = nil
		appMu.Unlock()
		_ = app.Close()
	})

	session, err := app.OpenSession(0, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	require.NoError(t, err)
	require.Equal(t, uint(1), session)

	filter := objects.Attributes{}
	filter.SetULong(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY)
	require.NoError(t, app.WithSession(session, func(s *module.Session) error {
		if err := s.FindInit(app.Context(), filter); err != nil {
			return err
		}
		defer s.FindFinal()
		handles, err := s.FindNext(10)
		require.Equal(t, []uint{1}, handles)
		return err
	}))
	return app, srv
}

func TestEmptyTemplates(t *testing.T) {
	install(t)

	assert.Equal(t, uint(pkcs11.CKR_OK), uint(C_GetAttributeValue(1, 1, nil, 0)))
	assert.Equal(t, uint(pkcs11.CKR_OK), uint(C_SetAttributeValue(1, 1, nil, 0)))
	assert.Equal(t, uint(pkcs11.CKR_ARGUMENTS_BAD), uint(C_GetAttributeValue(1, 1, nil, 2)))
	assert.Equal(t, uint(pkcs11.CKR_ARGUMENTS_BAD), uint(C_SetAttributeValue(1, 1, nil, 2)))
	assert.Equal(t, uint(pkcs11.CKR_OBJECT_HANDLE_INVALID), uint(C_GetAttributeValue(1, 99, nil, 0)))
}

func TestSignInitWithoutMechanismCancels(t *testing.T) {
	app, _ := install(t)
	require.NoError(t, app.Slots[0].Login.Login(app.Context(), module.Operator, ""))

	assert.Equal(t, uint(pkcs11.CKR_OK), uint(C_SignInit(1, nil, 0)), "nothing to cancel")

	require.NoError(t, app.WithSession(1, func(s *module.Session) error {
		return s.SignInit(app.Context(), &mechanism.Mechanism{Type: pkcs11.CKM_ECDSA_SHA256}, 1)
	}))
	assert.Equal(t, uint(pkcs11.CKR_OK), uint(C_SignInit(1, nil, 0)))
	require.NoError(t, app.WithSession(1, func(s *module.Session) error {
		_, err := s.SignLength()
		assert.True(t, ckr.Is(err, ckr.OperationNotInitialized))
		return nil
	}))

	assert.Equal(t, uint(pkcs11.CKR_SESSION_HANDLE_INVALID), uint(C_SignInit(7, nil, 0)))
}

func TestBoundedLen(t *testing.T) {
	n, err := boundedLen(16, maxTemplateLen)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	n, err = boundedLen(maxBufferLen, maxBufferLen)
	require.NoError(t, err)
	assert.Equal(t, maxBufferLen, n)

	_, err = boundedLen(^uint64(0), maxBufferLen)
	assert.True(t, ckr.Is(err, ckr.ArgumentsBad))
	_, err = boundedLen(maxTemplateLen+1, maxTemplateLen)
	assert.True(t, ckr.Is(err, ckr.ArgumentsBad))
}
