package engine

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure cause. Codes share one numeric space,
// partitioned by subsystem, so callers can tell a general lifecycle failure
// apart from the specific configuration block or feature that caused it.
type ErrorCode int32

const (
	// Engine creation.
	ErrorCodeDeviceNotSupported ErrorCode = 0x1
	ErrorCodePermissionError    ErrorCode = 0x2
	ErrorCodeLicenseError       ErrorCode = 0x3
	ErrorCodeInitialization     ErrorCode = 0x4 // an engine instance already exists

	// Protocol usage.
	ErrorCodeNotRunning        ErrorCode = 0x100
	ErrorCodeAlreadyRunning    ErrorCode = 0x101
	ErrorCodeDestroyed         ErrorCode = 0x102
	ErrorCodeReentrantCall     ErrorCode = 0x103
	ErrorCodeObserverDestroyed ErrorCode = 0x104
	ErrorCodeObserverNotFound  ErrorCode = 0x105
	ErrorCodeStateInvalid      ErrorCode = 0x106
	ErrorCodeInvalidConfig     ErrorCode = 0x107
	ErrorCodeHandlerRegistered ErrorCode = 0x108
	ErrorCodeTargetBusy        ErrorCode = 0x109 // target already actively observed

	// License configuration.
	ErrorCodeLicenseMissingKey          ErrorCode = 0x200
	ErrorCodeLicenseInvalidKey          ErrorCode = 0x201
	ErrorCodeLicenseNoNetworkPermanent  ErrorCode = 0x202
	ErrorCodeLicenseNoNetworkTransient  ErrorCode = 0x203
	ErrorCodeLicenseBadRequest          ErrorCode = 0x204
	ErrorCodeLicenseKeyCanceled         ErrorCode = 0x205
	ErrorCodeLicenseProductTypeMismatch ErrorCode = 0x206
	ErrorCodeLicenseUnknown             ErrorCode = 0x207

	// Render configuration.
	ErrorCodeRenderUnsupportedBackend ErrorCode = 0x300
	ErrorCodeRenderInvalidViewport    ErrorCode = 0x301

	// Platform configuration.
	ErrorCodePlatformInvalidHandle ErrorCode = 0x400

	// Driver configuration.
	ErrorCodeDriverInvalid ErrorCode = 0x500
)

// Error is the failure payload for every fallible engine operation. Two
// Errors match under errors.Is when their codes are equal, so callers can
// compare against the exported sentinel values.
type Error struct {
	Code ErrorCode
	msg  string
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code 0x%x)", e.msg, int32(e.Code))
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for the usage errors callers commonly branch on.
var (
	ErrNotRunning     = &Error{Code: ErrorCodeNotRunning, msg: "engine is not running"}
	ErrAlreadyRunning = &Error{Code: ErrorCodeAlreadyRunning, msg: "engine is already running"}
	ErrDestroyed      = &Error{Code: ErrorCodeDestroyed, msg: "engine has been destroyed"}
	ErrReentrantCall  = &Error{Code: ErrorCodeReentrantCall, msg: "call not allowed from within a callback"}
	ErrStateInvalid   = &Error{Code: ErrorCodeStateInvalid, msg: "state handle is no longer valid"}
)

// CodeOf extracts the ErrorCode from err, or 0 when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// CreationErrorCode classifies observer creation failures. The same code
// space is shared by all observer types; the CreationError carries the type
// it occurred for.
type CreationErrorCode int32

const (
	CreationErrorInternal                  CreationErrorCode = 0x1
	CreationErrorAutoActivationFailed      CreationErrorCode = 0x2
	CreationErrorDatabaseLoadError         CreationErrorCode = 0x3
	CreationErrorInvalidTargetName         CreationErrorCode = 0x4
	CreationErrorTargetNotFound            CreationErrorCode = 0x5
	CreationErrorInvalidScale              CreationErrorCode = 0x6
	CreationErrorInvalidDevicePoseObserver CreationErrorCode = 0x7
)

// CreationError reports why an observer factory failed.
type CreationError struct {
	Observer ObserverType
	Code     CreationErrorCode
	msg      string
}

func newCreationError(typ ObserverType, code CreationErrorCode, format string, args ...any) *CreationError {
	return &CreationError{Observer: typ, Code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("%s observer creation failed: %s", e.Observer, e.msg)
}

func (e *CreationError) Is(target error) bool {
	t, ok := target.(*CreationError)
	return ok && t.Code == e.Code && (t.Observer == 0 || t.Observer == e.Observer)
}

// CreationCodeOf extracts the CreationErrorCode from err, or 0 when err
// carries none.
func CreationCodeOf(err error) CreationErrorCode {
	var e *CreationError
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
