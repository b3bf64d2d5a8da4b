package module

import (
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/nethsm/nethsmtest"
	"github.com/niclabs/p11nethsm/objects"
)

func testConfig(srv *nethsmtest.Server) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Type: "none"},
		Criptoki: config.CriptokiConfig{
			ManufacturerID: "Nitrokey GmbH",
			Model:          "NetHSM",
		},
		Slots: []*config.SlotsConfig{{
			Label:         "test",
			URL:           srv.URL(),
			Operator:      nethsm.Credentials{Username: nethsmtest.Operator, Password: nethsmtest.Password},
			Administrator: nethsm.Credentials{Username: nethsmtest.Administrator, Password: nethsmtest.Password},
		}},
	}
}

func newTestApp(t *testing.T) (*Application, *nethsmtest.Server) {
	t.Helper()
	srv := nethsmtest.New(t)
	return newTestAppWith(t, testConfig(srv)), srv
}

func newTestAppWith(t *testing.T, conf *config.Config) *Application {
	t.Helper()
	app, err := NewApplication(conf, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func loginAs(t *testing.T, app *Application, role Role) {
	t.Helper()
	require.NoError(t, app.Slots[0].Login.Login(app.Context(), role, ""))
}

func openSession(t *testing.T, app *Application, rw bool) uint {
	t.Helper()
	flags := uint(pkcs11.CKF_SERIAL_SESSION)
	if rw {
		flags |= pkcs11.CKF_RW_SESSION
	}
	handle, err := app.OpenSession(0, flags)
	require.NoError(t, err)
	return handle
}

func attrs(values map[uint]interface{}) objects.Attributes {
	out := make(objects.Attributes)
	for attrType, value := range values {
		switch v := value.(type) {
		case []byte:
			out.Set(attrType, v)
		case string:
			out.Set(attrType, []byte(v))
		case int:
			out.SetULong(attrType, uint(v))
		case uint:
			out.SetULong(attrType, v)
		case bool:
			out.SetBool(attrType, v)
		}
	}
	return out
}
