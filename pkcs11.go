package main

/*
#include "pkcs11go.h"
*/
import "C"
import (
	"unsafe"

	"github.com/miekg/pkcs11"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/module"
)

func main() {}

// onSession runs body on an open session of the initialized module.
func onSession(hSession C.CK_SESSION_HANDLE, body func(app *module.Application, session *module.Session) error) C.CK_RV {
	app, err := GetApplication()
	if err != nil {
		return ErrorToRV(err)
	}
	return ErrorToRV(app.WithSession(uint(hSession), func(session *module.Session) error {
		return body(app, session)
	}))
}

// onSlot runs body on a configured slot of the initialized module.
func onSlot(slotID C.CK_SLOT_ID, body func(app *module.Application, slot *module.Slot) error) C.CK_RV {
	app, err := GetApplication()
	if err != nil {
		return ErrorToRV(err)
	}
	slot, err := app.Slot(uint(slotID))
	if err != nil {
		return ErrorToRV(err)
	}
	return ErrorToRV(body(app, slot))
}

// outputLength implements the length query of functions returning a
// buffer: a NULL buffer only reports the length, a short one reports it
// with BUFFER_TOO_SMALL.
func outputLength(pOut C.CK_BYTE_PTR, pulOutLen C.CK_ULONG_PTR, length int) (query bool, err error) {
	available := *pulOutLen
	*pulOutLen = C.CK_ULONG(length)
	if pOut == nil {
		return true, nil
	}
	if available < C.CK_ULONG(length) {
		return true, ckr.New("outputLength", "signature buffer too small", ckr.BufferTooSmall)
	}
	return false, nil
}

//export C_Initialize
func C_Initialize(pInitArgs C.CK_VOID_PTR) C.CK_RV {
	if pInitArgs != nil {
		args := (*C.CK_C_INITIALIZE_ARGS)(unsafe.Pointer(pInitArgs))
		if args.pReserved != nil {
			return rv(ckr.ArgumentsBad)
		}
		set := 0
		for _, fn := range []unsafe.Pointer{
			unsafe.Pointer(args.CreateMutex), unsafe.Pointer(args.DestroyMutex),
			unsafe.Pointer(args.LockMutex), unsafe.Pointer(args.UnlockMutex),
		} {
			if fn != nil {
				set++
			}
		}
		if set != 0 && set != 4 {
			return rv(ckr.ArgumentsBad)
		}
		if set == 4 && args.flags&pkcs11.CKF_OS_LOCKING_OK == 0 {
			return C.CK_RV(pkcs11.CKR_CANT_LOCK)
		}
	}
	return ErrorToRV(Initialize())
}

//export C_Finalize
func C_Finalize(pReserved C.CK_VOID_PTR) C.CK_RV {
	if pReserved != nil {
		return rv(ckr.ArgumentsBad)
	}
	return ErrorToRV(Finalize())
}

//export C_GetInfo
func C_GetInfo(pInfo C.CK_INFO_PTR) C.CK_RV {
	if pInfo == nil {
		return rv(ckr.ArgumentsBad)
	}
	app, err := GetApplication()
	if err != nil {
		return ErrorToRV(err)
	}
	conf := app.Config.Criptoki
	InfoToC(conf.ManufacturerID, conf.Description,
		module.Version{Major: conf.VersionMajor, Minor: conf.VersionMinor}, pInfo)
	return C.CK_RV(pkcs11.CKR_OK)
}

//export C_GetFunctionList
func C_GetFunctionList(ppFunctionList C.CK_FUNCTION_LIST_PTR_PTR) C.CK_RV {
	if ppFunctionList == nil {
		return rv(ckr.ArgumentsBad)
	}
	*ppFunctionList = C.pkcs11go_function_list()
	return C.CK_RV(pkcs11.CKR_OK)
}

//export C_GetSlotList
func C_GetSlotList(tokenPresent C.CK_BBOOL, pSlotList C.CK_SLOT_ID_PTR, pulCount C.CK_ULONG_PTR) C.CK_RV {
	if pulCount == nil {
		return rv(ckr.ArgumentsBad)
	}
	app, err := GetApplication()
	if err != nil {
		return ErrorToRV(err)
	}
	ids := make([]uint, 0, len(app.Slots))
	for _, slot := range app.Slots {
		if isTrue(tokenPresent) && !slot.Present(app.Context()) {
			continue
		}
		ids = append(ids, slot.ID)
	}
	available := *pulCount
	*pulCount = C.CK_ULONG(len(ids))
	if pSlotList == nil {
		return C.CK_RV(pkcs11.CKR_OK)
	}
	if available < C.CK_ULONG(len(ids)) {
		return rv(ckr.BufferTooSmall)
	}
	ULongsToC((*C.CK_ULONG)(unsafe.Pointer(pSlotList)), ids)
	return C.CK_RV(pkcs11.CKR_OK)
}

//export C_GetSlotInfo
func C_GetSlotInfo(slotID C.CK_SLOT_ID, pInfo C.CK_SLOT_INFO_PTR) C.CK_RV {
	if pInfo == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSlot(slotID, func(app *module.Application, slot *module.Slot) error {
		SlotInfoToC(slot.Info(app.Context()), pInfo)
		return nil
	})
}

//export C_GetTokenInfo
func C_GetTokenInfo(slotID C.CK_SLOT_ID, pInfo C.CK_TOKEN_INFO_PTR) C.CK_RV {
	if pInfo == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSlot(slotID, func(app *module.Application, slot *module.Slot) error {
		info, err := slot.TokenInfo(app.Context())
		if err != nil {
			return err
		}
		TokenInfoToC(info, pInfo)
		return nil
	})
}

//export C_GetMechanismList
func C_GetMechanismList(slotID C.CK_SLOT_ID, pMechanismList C.CK_MECHANISM_TYPE_PTR, pulCount C.CK_ULONG_PTR) C.CK_RV {
	if pulCount == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSlot(slotID, func(app *module.Application, slot *module.Slot) error {
		mechanisms := slot.Mechanisms()
		available := *pulCount
		*pulCount = C.CK_ULONG(len(mechanisms))
		if pMechanismList == nil {
			return nil
		}
		if available < C.CK_ULONG(len(mechanisms)) {
			return ckr.New("C_GetMechanismList", "mechanism list too small", ckr.BufferTooSmall)
		}
		ULongsToC((*C.CK_ULONG)(unsafe.Pointer(pMechanismList)), mechanisms)
		return nil
	})
}

//export C_GetMechanismInfo
func C_GetMechanismInfo(slotID C.CK_SLOT_ID, mechType C.CK_MECHANISM_TYPE, pInfo C.CK_MECHANISM_INFO_PTR) C.CK_RV {
	if pInfo == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSlot(slotID, func(app *module.Application, slot *module.Slot) error {
		info, err := slot.MechanismInfo(uint(mechType))
		if err != nil {
			return err
		}
		MechanismInfoToC(info, pInfo)
		return nil
	})
}

// Tokens and users are managed on the NetHSM itself.

//export C_InitToken
func C_InitToken(slotID C.CK_SLOT_ID, pPin C.CK_UTF8CHAR_PTR, ulPinLen C.CK_ULONG, pLabel C.CK_UTF8CHAR_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_InitPIN
func C_InitPIN(hSession C.CK_SESSION_HANDLE, pPin C.CK_UTF8CHAR_PTR, ulPinLen C.CK_ULONG) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_SetPIN
func C_SetPIN(hSession C.CK_SESSION_HANDLE, pOldPin C.CK_UTF8CHAR_PTR, ulOldLen C.CK_ULONG, pNewPin C.CK_UTF8CHAR_PTR, ulNewLen C.CK_ULONG) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_OpenSession
func C_OpenSession(slotID C.CK_SLOT_ID, flags C.CK_FLAGS, pApplication C.CK_VOID_PTR, notify C.CK_NOTIFY, phSession C.CK_SESSION_HANDLE_PTR) C.CK_RV {
	if phSession == nil {
		return rv(ckr.ArgumentsBad)
	}
	app, err := GetApplication()
	if err != nil {
		return ErrorToRV(err)
	}
	handle, err := app.OpenSession(uint(slotID), uint(flags))
	if err != nil {
		return ErrorToRV(err)
	}
	*phSession = C.CK_SESSION_HANDLE(handle)
	return C.CK_RV(pkcs11.CKR_OK)
}

//export C_CloseSession
func C_CloseSession(hSession C.CK_SESSION_HANDLE) C.CK_RV {
	app, err := GetApplication()
	if err != nil {
		return ErrorToRV(err)
	}
	return ErrorToRV(app.Sessions.Close(uint(hSession)))
}

//export C_CloseAllSessions
func C_CloseAllSessions(slotID C.CK_SLOT_ID) C.CK_RV {
	return onSlot(slotID, func(app *module.Application, slot *module.Slot) error {
		app.Sessions.CloseAll(slot.ID)
		return nil
	})
}

//export C_GetSessionInfo
func C_GetSessionInfo(hSession C.CK_SESSION_HANDLE, pInfo C.CK_SESSION_INFO_PTR) C.CK_RV {
	if pInfo == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		SessionInfoToC(session.Info(), pInfo)
		return nil
	})
}

//export C_GetOperationState
func C_GetOperationState(hSession C.CK_SESSION_HANDLE, pOperationState C.CK_BYTE_PTR, pulOperationStateLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_SetOperationState
func C_SetOperationState(hSession C.CK_SESSION_HANDLE, pOperationState C.CK_BYTE_PTR, ulOperationStateLen C.CK_ULONG, hEncryptionKey C.CK_OBJECT_HANDLE, hAuthenticationKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_Login
func C_Login(hSession C.CK_SESSION_HANDLE, userType C.CK_USER_TYPE, pPin C.CK_UTF8CHAR_PTR, ulPinLen C.CK_ULONG) C.CK_RV {
	role, ok := module.RoleOfUser(uint(userType))
	if !ok {
		return rv(ckr.UserTypeInvalid)
	}
	pin, err := CToString(pPin, ulPinLen)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.Slot.Login.Login(app.Context(), role, pin)
	})
}

//export C_Logout
func C_Logout(hSession C.CK_SESSION_HANDLE) C.CK_RV {
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.Slot.Login.Logout()
	})
}

//export C_CreateObject
func C_CreateObject(hSession C.CK_SESSION_HANDLE, pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG, phObject C.CK_OBJECT_HANDLE_PTR) C.CK_RV {
	if pTemplate == nil && ulCount != 0 || phObject == nil {
		return rv(ckr.ArgumentsBad)
	}
	attrs, err := CToAttributes(pTemplate, ulCount)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		handles, err := session.CreateObject(app.Context(), attrs)
		if err != nil {
			return err
		}
		*phObject = C.CK_OBJECT_HANDLE(handles[0])
		return nil
	})
}

//export C_CopyObject
func C_CopyObject(hSession C.CK_SESSION_HANDLE, hObject C.CK_OBJECT_HANDLE, pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG, phNewObject C.CK_OBJECT_HANDLE_PTR) C.CK_RV {
	return rv(ckr.ActionProhibited)
}

//export C_DestroyObject
func C_DestroyObject(hSession C.CK_SESSION_HANDLE, hObject C.CK_OBJECT_HANDLE) C.CK_RV {
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.DestroyObject(app.Context(), uint(hObject))
	})
}

//export C_GetObjectSize
func C_GetObjectSize(hSession C.CK_SESSION_HANDLE, hObject C.CK_OBJECT_HANDLE, pulSize C.CK_ULONG_PTR) C.CK_RV {
	if pulSize == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		object, err := session.Object(app.Context(), uint(hObject))
		if err != nil {
			return err
		}
		*pulSize = C.CK_ULONG(object.Size)
		return nil
	})
}

//export C_GetAttributeValue
func C_GetAttributeValue(hSession C.CK_SESSION_HANDLE, hObject C.CK_OBJECT_HANDLE, pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG) C.CK_RV {
	if pTemplate == nil && ulCount != 0 {
		return rv(ckr.ArgumentsBad)
	}
	template, err := CToTemplate(pTemplate, ulCount)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		object, err := session.Object(app.Context(), uint(hObject))
		if err != nil {
			return err
		}
		fillErr := template.Fill(object)
		TemplateToC(template, pTemplate)
		return fillErr
	})
}

//export C_SetAttributeValue
func C_SetAttributeValue(hSession C.CK_SESSION_HANDLE, hObject C.CK_OBJECT_HANDLE, pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG) C.CK_RV {
	if pTemplate == nil && ulCount != 0 {
		return rv(ckr.ArgumentsBad)
	}
	attrs, err := CToAttributes(pTemplate, ulCount)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.SetAttributes(uint(hObject), attrs)
	})
}

//export C_FindObjectsInit
func C_FindObjectsInit(hSession C.CK_SESSION_HANDLE, pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG) C.CK_RV {
	if pTemplate == nil && ulCount != 0 {
		return rv(ckr.ArgumentsBad)
	}
	filter, err := CToAttributes(pTemplate, ulCount)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.FindInit(app.Context(), filter)
	})
}

//export C_FindObjects
func C_FindObjects(hSession C.CK_SESSION_HANDLE, phObject C.CK_OBJECT_HANDLE_PTR, ulMaxObjectCount C.CK_ULONG, pulObjectCount C.CK_ULONG_PTR) C.CK_RV {
	if phObject == nil && ulMaxObjectCount != 0 || pulObjectCount == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		handles, err := session.FindNext(uint(ulMaxObjectCount))
		if err != nil {
			return err
		}
		ULongsToC((*C.CK_ULONG)(unsafe.Pointer(phObject)), handles)
		*pulObjectCount = C.CK_ULONG(len(handles))
		return nil
	})
}

//export C_FindObjectsFinal
func C_FindObjectsFinal(hSession C.CK_SESSION_HANDLE) C.CK_RV {
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		session.FindFinal()
		return nil
	})
}

//export C_SignInit
func C_SignInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	if pMechanism == nil {
		return onSession(hSession, func(app *module.Application, session *module.Session) error {
			session.CancelSign()
			return nil
		})
	}
	mech, err := CToMechanism(pMechanism)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.SignInit(app.Context(), mech, uint(hKey))
	})
}

//export C_Sign
func C_Sign(hSession C.CK_SESSION_HANDLE, pData C.CK_BYTE_PTR, ulDataLen C.CK_ULONG, pSignature C.CK_BYTE_PTR, pulSignatureLen C.CK_ULONG_PTR) C.CK_RV {
	if pulSignatureLen == nil || pData == nil && ulDataLen != 0 {
		return rv(ckr.ArgumentsBad)
	}
	data, err := CToBytes(pData, ulDataLen)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		length, err := session.SignLength()
		if err != nil {
			return err
		}
		if query, err := outputLength(pSignature, pulSignatureLen, length); query {
			return err
		}
		signature, err := session.Sign(app.Context(), data)
		if err != nil {
			return err
		}
		BytesToC(pSignature, signature)
		*pulSignatureLen = C.CK_ULONG(len(signature))
		return nil
	})
}

//export C_SignUpdate
func C_SignUpdate(hSession C.CK_SESSION_HANDLE, pPart C.CK_BYTE_PTR, ulPartLen C.CK_ULONG) C.CK_RV {
	if pPart == nil && ulPartLen != 0 {
		return rv(ckr.ArgumentsBad)
	}
	data, err := CToBytes(pPart, ulPartLen)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return session.SignUpdate(data)
	})
}

//export C_SignFinal
func C_SignFinal(hSession C.CK_SESSION_HANDLE, pSignature C.CK_BYTE_PTR, pulSignatureLen C.CK_ULONG_PTR) C.CK_RV {
	if pulSignatureLen == nil {
		return rv(ckr.ArgumentsBad)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		length, err := session.SignLength()
		if err != nil {
			return err
		}
		if query, err := outputLength(pSignature, pulSignatureLen, length); query {
			return err
		}
		signature, err := session.SignFinal(app.Context())
		if err != nil {
			return err
		}
		BytesToC(pSignature, signature)
		*pulSignatureLen = C.CK_ULONG(len(signature))
		return nil
	})
}

//export C_SignRecoverInit
func C_SignRecoverInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_SignRecover
func C_SignRecover(hSession C.CK_SESSION_HANDLE, pData C.CK_BYTE_PTR, ulDataLen C.CK_ULONG, pSignature C.CK_BYTE_PTR, pulSignatureLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_EncryptInit
func C_EncryptInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_Encrypt
func C_Encrypt(hSession C.CK_SESSION_HANDLE, pData C.CK_BYTE_PTR, ulDataLen C.CK_ULONG, pEncryptedData C.CK_BYTE_PTR, pulEncryptedDataLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_EncryptUpdate
func C_EncryptUpdate(hSession C.CK_SESSION_HANDLE, pPart C.CK_BYTE_PTR, ulPartLen C.CK_ULONG, pEncryptedPart C.CK_BYTE_PTR, pulEncryptedPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_EncryptFinal
func C_EncryptFinal(hSession C.CK_SESSION_HANDLE, pLastEncryptedPart C.CK_BYTE_PTR, pulLastEncryptedPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DecryptInit
func C_DecryptInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_Decrypt
func C_Decrypt(hSession C.CK_SESSION_HANDLE, pEncryptedData C.CK_BYTE_PTR, ulEncryptedDataLen C.CK_ULONG, pData C.CK_BYTE_PTR, pulDataLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DecryptUpdate
func C_DecryptUpdate(hSession C.CK_SESSION_HANDLE, pEncryptedPart C.CK_BYTE_PTR, ulEncryptedPartLen C.CK_ULONG, pPart C.CK_BYTE_PTR, pulPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DecryptFinal
func C_DecryptFinal(hSession C.CK_SESSION_HANDLE, pLastPart C.CK_BYTE_PTR, pulLastPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DigestInit
func C_DigestInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_Digest
func C_Digest(hSession C.CK_SESSION_HANDLE, pData C.CK_BYTE_PTR, ulDataLen C.CK_ULONG, pDigest C.CK_BYTE_PTR, pulDigestLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DigestUpdate
func C_DigestUpdate(hSession C.CK_SESSION_HANDLE, pPart C.CK_BYTE_PTR, ulPartLen C.CK_ULONG) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DigestKey
func C_DigestKey(hSession C.CK_SESSION_HANDLE, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DigestFinal
func C_DigestFinal(hSession C.CK_SESSION_HANDLE, pDigest C.CK_BYTE_PTR, pulDigestLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_VerifyInit
func C_VerifyInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_Verify
func C_Verify(hSession C.CK_SESSION_HANDLE, pData C.CK_BYTE_PTR, ulDataLen C.CK_ULONG, pSignature C.CK_BYTE_PTR, ulSignatureLen C.CK_ULONG) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_VerifyUpdate
func C_VerifyUpdate(hSession C.CK_SESSION_HANDLE, pPart C.CK_BYTE_PTR, ulPartLen C.CK_ULONG) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_VerifyFinal
func C_VerifyFinal(hSession C.CK_SESSION_HANDLE, pSignature C.CK_BYTE_PTR, ulSignatureLen C.CK_ULONG) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_VerifyRecoverInit
func C_VerifyRecoverInit(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hKey C.CK_OBJECT_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_VerifyRecover
func C_VerifyRecover(hSession C.CK_SESSION_HANDLE, pSignature C.CK_BYTE_PTR, ulSignatureLen C.CK_ULONG, pData C.CK_BYTE_PTR, pulDataLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DigestEncryptUpdate
func C_DigestEncryptUpdate(hSession C.CK_SESSION_HANDLE, pPart C.CK_BYTE_PTR, ulPartLen C.CK_ULONG, pEncryptedPart C.CK_BYTE_PTR, pulEncryptedPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DecryptDigestUpdate
func C_DecryptDigestUpdate(hSession C.CK_SESSION_HANDLE, pEncryptedPart C.CK_BYTE_PTR, ulEncryptedPartLen C.CK_ULONG, pPart C.CK_BYTE_PTR, pulPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_SignEncryptUpdate
func C_SignEncryptUpdate(hSession C.CK_SESSION_HANDLE, pPart C.CK_BYTE_PTR, ulPartLen C.CK_ULONG, pEncryptedPart C.CK_BYTE_PTR, pulEncryptedPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DecryptVerifyUpdate
func C_DecryptVerifyUpdate(hSession C.CK_SESSION_HANDLE, pEncryptedPart C.CK_BYTE_PTR, ulEncryptedPartLen C.CK_ULONG, pPart C.CK_BYTE_PTR, pulPartLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_GenerateKey
func C_GenerateKey(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG, phKey C.CK_OBJECT_HANDLE_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_GenerateKeyPair
func C_GenerateKeyPair(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, pPublicKeyTemplate C.CK_ATTRIBUTE_PTR, ulPublicKeyAttributeCount C.CK_ULONG, pPrivateKeyTemplate C.CK_ATTRIBUTE_PTR, ulPrivateKeyAttributeCount C.CK_ULONG, phPublicKey C.CK_OBJECT_HANDLE_PTR, phPrivateKey C.CK_OBJECT_HANDLE_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_WrapKey
func C_WrapKey(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hWrappingKey C.CK_OBJECT_HANDLE, hKey C.CK_OBJECT_HANDLE, pWrappedKey C.CK_BYTE_PTR, pulWrappedKeyLen C.CK_ULONG_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_UnwrapKey
func C_UnwrapKey(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hUnwrappingKey C.CK_OBJECT_HANDLE, pWrappedKey C.CK_BYTE_PTR, ulWrappedKeyLen C.CK_ULONG, pTemplate C.CK_ATTRIBUTE_PTR, ulAttributeCount C.CK_ULONG, phKey C.CK_OBJECT_HANDLE_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

//export C_DeriveKey
func C_DeriveKey(hSession C.CK_SESSION_HANDLE, pMechanism C.CK_MECHANISM_PTR, hBaseKey C.CK_OBJECT_HANDLE, pTemplate C.CK_ATTRIBUTE_PTR, ulAttributeCount C.CK_ULONG, phKey C.CK_OBJECT_HANDLE_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}

// The NetHSM keeps its own entropy pool; seeding is accepted and ignored.

//export C_SeedRandom
func C_SeedRandom(hSession C.CK_SESSION_HANDLE, pSeed C.CK_BYTE_PTR, ulSeedLen C.CK_ULONG) C.CK_RV {
	if pSeed == nil && ulSeedLen != 0 {
		return rv(ckr.ArgumentsBad)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		return nil
	})
}

//export C_GenerateRandom
func C_GenerateRandom(hSession C.CK_SESSION_HANDLE, pRandomData C.CK_BYTE_PTR, ulRandomLen C.CK_ULONG) C.CK_RV {
	if pRandomData == nil && ulRandomLen != 0 {
		return rv(ckr.ArgumentsBad)
	}
	n, err := boundedLen(uint64(ulRandomLen), maxBufferLen)
	if err != nil {
		return ErrorToRV(err)
	}
	return onSession(hSession, func(app *module.Application, session *module.Session) error {
		if n == 0 {
			return nil
		}
		data, err := session.Slot.Random(app.Context(), n)
		if err != nil {
			return err
		}
		if len(data) != n {
			return ckr.New("C_GenerateRandom", "short random read", ckr.BackendError)
		}
		BytesToC(pRandomData, data)
		return nil
	})
}

//export C_GetFunctionStatus
func C_GetFunctionStatus(hSession C.CK_SESSION_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_PARALLEL)
}

//export C_CancelFunction
func C_CancelFunction(hSession C.CK_SESSION_HANDLE) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_PARALLEL)
}

//export C_WaitForSlotEvent
func C_WaitForSlotEvent(flags C.CK_FLAGS, pSlot C.CK_SLOT_ID_PTR, pReserved C.CK_VOID_PTR) C.CK_RV {
	return C.CK_RV(pkcs11.CKR_FUNCTION_NOT_SUPPORTED)
}
