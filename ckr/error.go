// Package ckr defines the error kinds the module reports and their
// translation to PKCS#11 return values.
package ckr

import (
	"errors"
	"fmt"

	"github.com/miekg/pkcs11"
)

// Kind is the closed set of failures the module can report to a caller.
type Kind int

const (
	GeneralError Kind = iota
	ArgumentsBad
	SessionInvalid
	ObjectHandleInvalid
	NotLoggedIn
	InvalidMechanismForMode
	InvalidMechanismForKey
	ActionProhibited
	InvalidData
	BackendError
	BufferTooSmall
	AttributeTypeInvalid
	AttributeValueInvalid
	TemplateIncomplete
	OperationActive
	OperationNotInitialized
	PinIncorrect
	UserTypeInvalid
	UserAlreadyLoggedIn
	SlotIDInvalid
	TokenNotPresent
	MechanismParamInvalid
	KeyHandleInvalid
	FunctionNotSupported
	SessionReadOnly
	SessionParallelNotSupported
	CryptokiNotInitialized
	CryptokiAlreadyInitialized
)

var kindNames = [...]string{
	GeneralError:            "general error",
	ArgumentsBad:            "arguments bad",
	SessionInvalid:          "session handle invalid",
	ObjectHandleInvalid:     "object handle invalid",
	NotLoggedIn:             "user not logged in",
	InvalidMechanismForMode: "mechanism invalid for operation",
	InvalidMechanismForKey:  "mechanism invalid for key",
	ActionProhibited:        "action prohibited",
	InvalidData:             "data invalid",
	BackendError:            "backend error",
	BufferTooSmall:          "buffer too small",
	AttributeTypeInvalid:    "attribute type invalid",
	AttributeValueInvalid:   "attribute value invalid",
	TemplateIncomplete:      "template incomplete",
	OperationActive:         "operation active",
	OperationNotInitialized: "operation not initialized",
	PinIncorrect:            "pin incorrect",
	UserTypeInvalid:         "user type invalid",
	UserAlreadyLoggedIn:     "user already logged in",
	SlotIDInvalid:           "slot id invalid",
	TokenNotPresent:         "token not present",
	MechanismParamInvalid:   "mechanism parameter invalid",
	KeyHandleInvalid:        "key handle invalid",
	FunctionNotSupported:    "function not supported",

	SessionReadOnly:             "session read only",
	SessionParallelNotSupported: "parallel sessions not supported",
	CryptokiNotInitialized:      "cryptoki not initialized",
	CryptokiAlreadyInitialized:  "cryptoki already initialized",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// RV translates the kind into the status code returned through the C
// interface. It is the only place where that translation happens.
func (k Kind) RV() uint {
	switch k {
	case ArgumentsBad:
		return pkcs11.CKR_ARGUMENTS_BAD
	case SessionInvalid:
		return pkcs11.CKR_SESSION_HANDLE_INVALID
	case ObjectHandleInvalid:
		return pkcs11.CKR_OBJECT_HANDLE_INVALID
	case NotLoggedIn:
		return pkcs11.CKR_USER_NOT_LOGGED_IN
	case InvalidMechanismForMode:
		return pkcs11.CKR_MECHANISM_INVALID
	case InvalidMechanismForKey:
		return pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED
	case ActionProhibited:
		return pkcs11.CKR_ACTION_PROHIBITED
	case InvalidData:
		return pkcs11.CKR_DATA_INVALID
	case BackendError, GeneralError:
		return pkcs11.CKR_GENERAL_ERROR
	case BufferTooSmall:
		return pkcs11.CKR_BUFFER_TOO_SMALL
	case AttributeTypeInvalid:
		return pkcs11.CKR_ATTRIBUTE_TYPE_INVALID
	case AttributeValueInvalid:
		return pkcs11.CKR_ATTRIBUTE_VALUE_INVALID
	case TemplateIncomplete:
		return pkcs11.CKR_TEMPLATE_INCOMPLETE
	case OperationActive:
		return pkcs11.CKR_OPERATION_ACTIVE
	case OperationNotInitialized:
		return pkcs11.CKR_OPERATION_NOT_INITIALIZED
	case PinIncorrect:
		return pkcs11.CKR_PIN_INCORRECT
	case UserTypeInvalid:
		return pkcs11.CKR_USER_TYPE_INVALID
	case UserAlreadyLoggedIn:
		return pkcs11.CKR_USER_ALREADY_LOGGED_IN
	case SlotIDInvalid:
		return pkcs11.CKR_SLOT_ID_INVALID
	case TokenNotPresent:
		return pkcs11.CKR_TOKEN_NOT_PRESENT
	case MechanismParamInvalid:
		return pkcs11.CKR_MECHANISM_PARAM_INVALID
	case KeyHandleInvalid:
		return pkcs11.CKR_KEY_HANDLE_INVALID
	case FunctionNotSupported:
		return pkcs11.CKR_FUNCTION_NOT_SUPPORTED
	case SessionReadOnly:
		return pkcs11.CKR_SESSION_READ_ONLY
	case SessionParallelNotSupported:
		return pkcs11.CKR_SESSION_PARALLEL_NOT_SUPPORTED
	case CryptokiNotInitialized:
		return pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED
	case CryptokiAlreadyInitialized:
		return pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED
	}
	return pkcs11.CKR_GENERAL_ERROR
}

// Error is a failure annotated with the function that produced it.
// Role is only meaningful for NotLoggedIn, and Cause keeps the backend
// error for logging.
type Error struct {
	Who         string
	Description string
	Kind        Kind
	Role        string
	Cause       error
}

// New returns an Error of the given kind.
func New(who, description string, kind Kind) *Error {
	return &Error{
		Who:         who,
		Description: description,
		Kind:        kind,
	}
}

// Wrap returns an Error of the given kind that keeps err as its cause.
func Wrap(who string, err error, kind Kind) *Error {
	return &Error{
		Who:         who,
		Description: err.Error(),
		Kind:        kind,
		Cause:       err,
	}
}

// NotLoggedInAs reports that role is not available in the login context.
func NotLoggedInAs(who, role string) *Error {
	return &Error{
		Who:         who,
		Description: fmt.Sprintf("role %s is not logged in", role),
		Kind:        NotLoggedIn,
		Role:        role,
	}
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Who, err.Description)
}

func (err *Error) Unwrap() error {
	return err.Cause
}

// KindOf returns the kind carried by err. Errors that did not originate
// in this module are reported as GeneralError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return GeneralError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
