package module

import (
	"context"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/nethsm/nethsmtest"
)

func TestLogin(t *testing.T) {
	app, _ := newTestApp(t)
	login := app.Slots[0].Login
	ctx := app.Context()

	assert.False(t, login.CanRun(Operator))
	err := login.Login(ctx, Operator, "wrong-password")
	assert.True(t, ckr.Is(err, ckr.PinIncorrect))
	assert.False(t, login.CanRun(Operator))

	require.NoError(t, login.Login(ctx, Operator, ""))
	assert.True(t, login.CanRun(Operator))
	assert.False(t, login.CanRun(Administrator))
	assert.True(t, ckr.Is(login.Login(ctx, Operator, ""), ckr.UserAlreadyLoggedIn))

	require.NoError(t, login.Logout())
	assert.False(t, login.CanRun(Operator))
	assert.True(t, ckr.Is(login.Logout(), ckr.NotLoggedIn))
}

func TestLoginWithoutConfiguredUser(t *testing.T) {
	srv := nethsmtest.New(t)
	conf := testConfig(srv)
	conf.Slots[0].Administrator = nethsm.Credentials{}
	app := newTestAppWith(t, conf)

	err := app.Slots[0].Login.Login(app.Context(), Administrator, "whatever")
	assert.True(t, ckr.Is(err, ckr.UserTypeInvalid))

	role, ok := RoleOfUser(pkcs11.CKU_SO)
	assert.True(t, ok)
	assert.Equal(t, Administrator, role)
	_, ok = RoleOfUser(pkcs11.CKU_CONTEXT_SPECIFIC)
	assert.False(t, ok)
}

func TestRunRetriesOnceOnExpiredCredentials(t *testing.T) {
	app, srv := newTestApp(t)
	loginAs(t, app, Operator)
	login := app.Slots[0].Login

	calls := 0
	fn := func(ctx context.Context, client *nethsm.Client) error {
		calls++
		_, err := client.Random(ctx, 8)
		return err
	}

	srv.ExpireCredentials(1)
	require.NoError(t, login.Run(app.Context(), Operator, fn))
	assert.Equal(t, 2, calls)

	calls = 0
	srv.ExpireCredentials(2)
	err := login.Run(app.Context(), Operator, fn)
	assert.Equal(t, 2, calls)
	assert.True(t, ckr.Is(err, ckr.BackendError))
	assert.True(t, nethsm.IsAuthExpired(err), "the backend cause is kept")
}

func TestRunKeepsOtherErrors(t *testing.T) {
	app, _ := newTestApp(t)
	loginAs(t, app, Operator)

	calls := 0
	err := app.Slots[0].Login.Run(app.Context(), Operator, func(ctx context.Context, client *nethsm.Client) error {
		calls++
		_, err := client.GetKey(ctx, "missing")
		return err
	})
	assert.Equal(t, 1, calls)
	assert.True(t, ckr.Is(err, ckr.BackendError))
	assert.True(t, nethsm.IsNotFound(err))

	err = app.Slots[0].Login.Run(app.Context(), Administrator, func(context.Context, *nethsm.Client) error {
		t.Fatal("must not run without the role")
		return nil
	})
	assert.True(t, ckr.Is(err, ckr.NotLoggedIn))
}

func TestCloneIsASnapshot(t *testing.T) {
	app, _ := newTestApp(t)
	loginAs(t, app, Operator)
	login := app.Slots[0].Login

	clone := login.Clone()
	require.NoError(t, login.Logout())
	assert.True(t, clone.CanRun(Operator))
	assert.False(t, login.CanRun(Operator))

	_, err := app.Slots[0].Random(app.Context(), 4)
	assert.True(t, ckr.Is(err, ckr.NotLoggedIn))
}
