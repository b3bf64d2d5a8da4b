package main

/*
#include "pkcs11go.h"
*/
import "C"
import (
	"math"
	"strings"
	"unsafe"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/module"
	"github.com/niclabs/p11nethsm/objects"
)

const (
	maxTemplateLen = 1 << 16
	maxBufferLen   = math.MaxInt32
)

// boundedLen converts a caller length to an int no larger than limit.
func boundedLen(n, limit uint64) (int, error) {
	if n > limit {
		return 0, ckr.New("boundedLen", "length out of range", ckr.ArgumentsBad)
	}
	return int(n), nil
}

// CToTemplate copies the caller's CK_ATTRIBUTE array. The values stay in
// caller memory.
func CToTemplate(pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG) (*objects.Template, error) {
	if pTemplate == nil {
		return objects.Parse(nil, uint(ulCount))
	}
	count, err := boundedLen(uint64(ulCount), maxTemplateLen)
	if err != nil {
		return nil, err
	}
	cAttrs := unsafe.Slice((*C.CK_ATTRIBUTE)(unsafe.Pointer(pTemplate)), count)
	raw := make([]objects.RawAttribute, len(cAttrs))
	for i, cAttr := range cAttrs {
		raw[i] = objects.RawAttribute{
			Type:     uint(cAttr._type),
			Value:    unsafe.Pointer(cAttr.pValue),
			ValueLen: uint(cAttr.ulValueLen),
		}
	}
	return objects.Parse(raw, uint(ulCount))
}

// CToAttributes copies a template and its values into Go memory.
func CToAttributes(pTemplate C.CK_ATTRIBUTE_PTR, ulCount C.CK_ULONG) (objects.Attributes, error) {
	template, err := CToTemplate(pTemplate, ulCount)
	if err != nil {
		return nil, err
	}
	return template.Attributes(), nil
}

// TemplateToC writes the lengths set on the template back to the
// caller's array.
func TemplateToC(template *objects.Template, pTemplate C.CK_ATTRIBUTE_PTR) {
	if pTemplate == nil {
		return
	}
	raw := template.Raw()
	cAttrs := unsafe.Slice((*C.CK_ATTRIBUTE)(unsafe.Pointer(pTemplate)), len(raw))
	for i := range raw {
		cAttrs[i].ulValueLen = C.CK_ULONG(raw[i].ValueLen)
	}
}

// CToMechanism reads a CK_MECHANISM. RSA PSS parameters are decoded when
// the parameter has the size of CK_RSA_PKCS_PSS_PARAMS.
func CToMechanism(pMechanism C.CK_MECHANISM_PTR) (*mechanism.Mechanism, error) {
	if pMechanism == nil {
		return nil, ckr.New("CToMechanism", "mechanism is NULL", ckr.ArgumentsBad)
	}
	cMechanism := (*C.CK_MECHANISM)(unsafe.Pointer(pMechanism))
	m := &mechanism.Mechanism{Type: uint(cMechanism.mechanism)}
	if cMechanism.pParameter == nil || cMechanism.ulParameterLen == 0 {
		return m, nil
	}
	if cMechanism.ulParameterLen == C.CK_ULONG(unsafe.Sizeof(C.CK_RSA_PKCS_PSS_PARAMS{})) {
		params := (*C.CK_RSA_PKCS_PSS_PARAMS)(unsafe.Pointer(cMechanism.pParameter))
		m.PSS = &mechanism.PSSParams{
			HashAlg:    uint(params.hashAlg),
			MGF:        uint(params.mgf),
			SaltLength: uint(params.sLen),
		}
	}
	return m, nil
}

// CToString copies a caller PIN or label.
func CToString(p C.CK_UTF8CHAR_PTR, n C.CK_ULONG) (string, error) {
	if p == nil || n == 0 {
		return "", nil
	}
	size, err := boundedLen(uint64(n), maxBufferLen)
	if err != nil {
		return "", err
	}
	return string(C.GoBytes(unsafe.Pointer(p), C.int(size))), nil
}

// CToBytes copies a caller buffer. A NULL buffer is empty.
func CToBytes(p C.CK_BYTE_PTR, n C.CK_ULONG) ([]byte, error) {
	if p == nil || n == 0 {
		return []byte{}, nil
	}
	size, err := boundedLen(uint64(n), maxBufferLen)
	if err != nil {
		return nil, err
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(size)), nil
}

// BytesToC copies data into a caller buffer already checked to be large
// enough.
func BytesToC(dst C.CK_BYTE_PTR, data []byte) {
	if len(data) == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), len(data)), data)
}

// ULongsToC copies values into a caller CK_ULONG array.
func ULongsToC(dst *C.CK_ULONG, values []uint) {
	if len(values) == 0 {
		return
	}
	out := unsafe.Slice(dst, len(values))
	for i, v := range values {
		out[i] = C.CK_ULONG(v)
	}
}

// padded writes s into a fixed size, blank padded and not terminated
// field. Longer values are cut.
func padded(dst unsafe.Pointer, size int, s string) {
	if len(s) > size {
		s = s[:size]
	}
	s += strings.Repeat(" ", size-len(s))
	copy(unsafe.Slice((*byte)(dst), size), s)
}

func versionToC(v module.Version) C.CK_VERSION {
	return C.CK_VERSION{major: C.CK_BYTE(v.Major), minor: C.CK_BYTE(v.Minor)}
}

// SlotInfoToC fills a CK_SLOT_INFO.
func SlotInfoToC(info module.SlotInfo, pInfo C.CK_SLOT_INFO_PTR) {
	cInfo := (*C.CK_SLOT_INFO)(unsafe.Pointer(pInfo))
	padded(unsafe.Pointer(&cInfo.slotDescription[0]), len(cInfo.slotDescription), info.Description)
	padded(unsafe.Pointer(&cInfo.manufacturerID[0]), len(cInfo.manufacturerID), info.ManufacturerID)
	cInfo.flags = C.CK_FLAGS(info.Flags)
	cInfo.hardwareVersion = versionToC(info.HardwareVersion)
	cInfo.firmwareVersion = versionToC(info.FirmwareVersion)
}

// TokenInfoToC fills a CK_TOKEN_INFO.
func TokenInfoToC(info *module.TokenInfo, pInfo C.CK_TOKEN_INFO_PTR) {
	cInfo := (*C.CK_TOKEN_INFO)(unsafe.Pointer(pInfo))
	padded(unsafe.Pointer(&cInfo.label[0]), len(cInfo.label), info.Label)
	padded(unsafe.Pointer(&cInfo.manufacturerID[0]), len(cInfo.manufacturerID), info.ManufacturerID)
	padded(unsafe.Pointer(&cInfo.model[0]), len(cInfo.model), info.Model)
	padded(unsafe.Pointer(&cInfo.serialNumber[0]), len(cInfo.serialNumber), info.SerialNumber)
	padded(unsafe.Pointer(&cInfo.utcTime[0]), len(cInfo.utcTime), "")
	cInfo.flags = C.CK_FLAGS(info.Flags)
	cInfo.ulMaxSessionCount = C.CK_ULONG(info.MaxSessionCount)
	cInfo.ulSessionCount = C.CK_ULONG(info.SessionCount)
	cInfo.ulMaxRwSessionCount = C.CK_ULONG(info.MaxRwSessionCount)
	cInfo.ulRwSessionCount = C.CK_ULONG(info.RwSessionCount)
	cInfo.ulMaxPinLen = C.CK_ULONG(info.MaxPinLen)
	cInfo.ulMinPinLen = C.CK_ULONG(info.MinPinLen)
	cInfo.ulTotalPublicMemory = C.CK_ULONG(info.TotalPublicMemory)
	cInfo.ulFreePublicMemory = C.CK_ULONG(info.FreePublicMemory)
	cInfo.ulTotalPrivateMemory = C.CK_ULONG(info.TotalPrivateMemory)
	cInfo.ulFreePrivateMemory = C.CK_ULONG(info.FreePrivateMemory)
	cInfo.hardwareVersion = versionToC(info.HardwareVersion)
	cInfo.firmwareVersion = versionToC(info.FirmwareVersion)
}

// SessionInfoToC fills a CK_SESSION_INFO.
func SessionInfoToC(info module.SessionInfo, pInfo C.CK_SESSION_INFO_PTR) {
	cInfo := (*C.CK_SESSION_INFO)(unsafe.Pointer(pInfo))
	cInfo.slotID = C.CK_SLOT_ID(info.SlotID)
	cInfo.state = C.CK_STATE(info.State)
	cInfo.flags = C.CK_FLAGS(info.Flags)
	cInfo.ulDeviceError = C.CK_ULONG(info.DeviceError)
}

// MechanismInfoToC fills a CK_MECHANISM_INFO.
func MechanismInfoToC(info *mechanism.Info, pInfo C.CK_MECHANISM_INFO_PTR) {
	cInfo := (*C.CK_MECHANISM_INFO)(unsafe.Pointer(pInfo))
	cInfo.ulMinKeySize = C.CK_ULONG(info.MinKeySize)
	cInfo.ulMaxKeySize = C.CK_ULONG(info.MaxKeySize)
	cInfo.flags = C.CK_FLAGS(info.Flags)
}

// InfoToC fills the CK_INFO of the library.
func InfoToC(manufacturer, description string, version module.Version, pInfo C.CK_INFO_PTR) {
	cInfo := (*C.CK_INFO)(unsafe.Pointer(pInfo))
	cInfo.cryptokiVersion = C.CK_VERSION{major: 2, minor: 40}
	padded(unsafe.Pointer(&cInfo.manufacturerID[0]), len(cInfo.manufacturerID), manufacturer)
	padded(unsafe.Pointer(&cInfo.libraryDescription[0]), len(cInfo.libraryDescription), description)
	cInfo.flags = 0
	cInfo.libraryVersion = versionToC(version)
}

// isTrue reads a CK_BBOOL argument.
func isTrue(b C.CK_BBOOL) bool {
	return b != 0
}
