// Package vaulterr defines the error taxonomy shared by the crypto core,
// vault engine, and sync engine.
package vaulterr

import "fmt"

// Code is the closed set of error kinds observable across the vault boundary.
type Code string

const (
	Crypto         Code = "crypto"
	Vault          Code = "vault"
	Storage        Code = "storage"
	Io             Code = "io"
	Serialization  Code = "serialization"
	InvalidInput   Code = "invalid_input"
	NotPermitted   Code = "not_permitted"
	NotFound       Code = "not_found"
	AlreadyExists  Code = "already_exists"
	Conflict       Code = "conflict"
	Network        Code = "network"
	Authentication Code = "authentication"
	PermissionDenied Code = "permission_denied"
)

// Error is the concrete error type carrying a Code, a human message, and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapf(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Cryptof(format string, args ...interface{}) *Error { return newf(Crypto, format, args...) }
func CryptoWrap(cause error, format string, args ...interface{}) *Error {
	return wrapf(Crypto, cause, format, args...)
}

func Vaultf(format string, args ...interface{}) *Error { return newf(Vault, format, args...) }

func Storagef(format string, args ...interface{}) *Error { return newf(Storage, format, args...) }
func StorageWrap(cause error, format string, args ...interface{}) *Error {
	return wrapf(Storage, cause, format, args...)
}

func Iof(format string, args ...interface{}) *Error { return newf(Io, format, args...) }
func IoWrap(cause error, format string, args ...interface{}) *Error {
	return wrapf(Io, cause, format, args...)
}

func Serializationf(format string, args ...interface{}) *Error { return newf(Serialization, format, args...) }
func SerializationWrap(cause error, format string, args ...interface{}) *Error {
	return wrapf(Serialization, cause, format, args...)
}

func InvalidInputf(format string, args ...interface{}) *Error { return newf(InvalidInput, format, args...) }

func NotPermittedf(format string, args ...interface{}) *Error { return newf(NotPermitted, format, args...) }

func NotFoundf(format string, args ...interface{}) *Error { return newf(NotFound, format, args...) }

func AlreadyExistsf(format string, args ...interface{}) *Error { return newf(AlreadyExists, format, args...) }

func Conflictf(format string, args ...interface{}) *Error { return newf(Conflict, format, args...) }

func Networkf(format string, args ...interface{}) *Error { return newf(Network, format, args...) }
func NetworkWrap(cause error, format string, args ...interface{}) *Error {
	return wrapf(Network, cause, format, args...)
}

func Authenticationf(format string, args ...interface{}) *Error { return newf(Authentication, format, args...) }

func PermissionDeniedf(format string, args ...interface{}) *Error { return newf(PermissionDenied, format, args...) }

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if as(err, &e) {
		return e.Code == code
	}
	return false
}

// as is a tiny local copy of errors.As semantics restricted to *Error, kept
// so callers in this package do not need to import errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether an error kind is transient: only Network and
// Io are retried, everything else is fatal.
func Retryable(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Code == Network || e.Code == Io
	}
	return false
}
