package main

/*
#include "pkcs11go.h"
*/
import "C"
import (
	"github.com/miekg/pkcs11"

	"github.com/niclabs/p11nethsm/ckr"
)

// ErrorToRV extracts the return value from an error, and logs it.
func ErrorToRV(err error) C.CK_RV {
	if err == nil {
		return C.CK_RV(pkcs11.CKR_OK)
	}
	kind := ckr.KindOf(err)
	switch kind {
	case ckr.BufferTooSmall:
		logger().Debugw("caller buffer too small", "error", err)
	case ckr.GeneralError, ckr.BackendError:
		logger().Errorw("call failed", "kind", kind.String(), "error", err)
	default:
		logger().Infow("call rejected", "kind", kind.String(), "error", err)
	}
	return C.CK_RV(kind.RV())
}

// rv is the return value of kind, for checks made at the C boundary.
func rv(kind ckr.Kind) C.CK_RV {
	return C.CK_RV(kind.RV())
}
