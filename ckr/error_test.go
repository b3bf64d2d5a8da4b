package ckr

import (
	"fmt"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRV(t *testing.T) {
	cases := map[Kind]uint{
		ArgumentsBad:            pkcs11.CKR_ARGUMENTS_BAD,
		SessionInvalid:          pkcs11.CKR_SESSION_HANDLE_INVALID,
		ObjectHandleInvalid:     pkcs11.CKR_OBJECT_HANDLE_INVALID,
		NotLoggedIn:             pkcs11.CKR_USER_NOT_LOGGED_IN,
		InvalidMechanismForMode: pkcs11.CKR_MECHANISM_INVALID,
		InvalidMechanismForKey:  pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED,
		ActionProhibited:        pkcs11.CKR_ACTION_PROHIBITED,
		InvalidData:             pkcs11.CKR_DATA_INVALID,
		BackendError:            pkcs11.CKR_GENERAL_ERROR,
		GeneralError:            pkcs11.CKR_GENERAL_ERROR,
	}
	for kind, rv := range cases {
		assert.Equal(t, rv, kind.RV(), kind.String())
	}
}

func TestEveryKindHasName(t *testing.T) {
	for k := GeneralError; k <= CryptokiAlreadyInitialized; k++ {
		assert.NotEmpty(t, kindNames[k], "kind %d", int(k))
	}
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestKindOfWrapped(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap("Catalog.Get", cause, BackendError)
	outer := fmt.Errorf("outer: %w", err)

	assert.Equal(t, BackendError, KindOf(outer))
	assert.True(t, Is(outer, BackendError))
	require.ErrorIs(t, outer, cause)
	assert.Equal(t, GeneralError, KindOf(cause))
	assert.False(t, Is(nil, GeneralError))
}

func TestNotLoggedInAs(t *testing.T) {
	err := NotLoggedInAs("SignInit", "operator")
	assert.Equal(t, NotLoggedIn, err.Kind)
	assert.Equal(t, "operator", err.Role)
	assert.Contains(t, err.Error(), "SignInit")
}
