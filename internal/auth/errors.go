package auth

import "errors"

// Kind groups error codes by how the caller should react.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Code is the stable, machine-readable error identifier returned to clients.
type Code string

const (
	CodeMissingParams      Code = "MISSING_PARAMS"
	CodeInvalidParams      Code = "INVALID_PARAMS"
	CodeMissingToken       Code = "MISSING_TOKEN"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeNoPermission       Code = "NO_PERMISSION"
	CodeExpiredRequest     Code = "EXPIRED_REQUEST"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountBanned      Code = "ACCOUNT_BANNED"
	CodeHWIDMismatch       Code = "HWID_MISMATCH"
	CodeMissingHWID        Code = "MISSING_HWID"
	CodeInvalidSession     Code = "INVALID_SESSION"
	CodeBindingConflict    Code = "BINDING_CONFLICT"
	CodeVersionConflict    Code = "VERSION_CONFLICT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeServerError        Code = "SERVER_ERROR"
)

// Error is a classified failure that is safe to show to a client.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code, so an error carrying a custom message still matches
// its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e with a different client message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: msg}
}

var (
	ErrMissingParams      = &Error{KindValidation, CodeMissingParams, "missing required parameters"}
	ErrInvalidParams      = &Error{KindValidation, CodeInvalidParams, "invalid parameters"}
	ErrMissingToken       = &Error{KindAuthentication, CodeMissingToken, "missing API token"}
	ErrInvalidToken       = &Error{KindAuthentication, CodeInvalidToken, "invalid API token"}
	ErrNoPermission       = &Error{KindAuthorization, CodeNoPermission, "token has no permission for these categories"}
	ErrExpiredRequest     = &Error{KindAuthentication, CodeExpiredRequest, "request timestamp outside the allowed window"}
	ErrInvalidSignature   = &Error{KindAuthorization, CodeInvalidSignature, "invalid request signature"}
	ErrInvalidCredentials = &Error{KindAuthentication, CodeInvalidCredentials, "invalid credentials"}
	ErrAccountBanned      = &Error{KindAuthorization, CodeAccountBanned, "account is banned"}
	ErrHWIDMismatch       = &Error{KindAuthentication, CodeHWIDMismatch, "hardware id mismatch"}
	ErrMissingHWID        = &Error{KindAuthentication, CodeMissingHWID, "missing hardware id"}
	ErrInvalidSession     = &Error{KindAuthentication, CodeInvalidSession, "invalid or expired session"}
	ErrBindingConflict    = &Error{KindConflict, CodeBindingConflict, "account was modified concurrently, retry the login"}
	ErrVersionConflict    = &Error{KindConflict, CodeVersionConflict, "document was modified concurrently, retry the update"}
	ErrNotFound           = &Error{KindNotFound, CodeNotFound, "not found"}
	ErrServer             = &Error{KindInternal, CodeServerError, "internal server error"}
)

// As extracts the classified error from err. Anything unclassified is
// reported as ErrServer.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServer
}
