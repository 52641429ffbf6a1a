package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies an error so callers can react without parsing messages
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindInterface
	KindSpoofing
	KindSystem
	KindPermission
	KindConfiguration
)

// Code returns the machine-readable identifier of the kind
func (k ErrorKind) Code() string {
	switch k {
	case KindNetwork:
		return "NETWORK_ERROR"
	case KindInterface:
		return "INTERFACE_ERROR"
	case KindSpoofing:
		return "SPOOFING_ERROR"
	case KindSystem:
		return "SYSTEM_ERROR"
	case KindPermission:
		return "PERMISSION_ERROR"
	case KindConfiguration:
		return "CONFIG_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

func (k ErrorKind) String() string {
	return k.Code()
}

// Error is an error carrying a kind and a human readable message.
// Err, when set, is the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON renders {code, message, details}
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	}{
		Code:    e.Kind.Code(),
		Message: e.Message,
	}
	if e.Err != nil {
		out.Details = e.Err.Error()
	}
	return json.Marshal(out)
}

// NewError creates an error of the given kind wrapping err (which may be nil)
func NewError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewNetworkError(err error, format string, args ...any) *Error {
	return NewError(KindNetwork, err, format, args...)
}

func NewInterfaceError(err error, format string, args ...any) *Error {
	return NewError(KindInterface, err, format, args...)
}

func NewSpoofingError(err error, format string, args ...any) *Error {
	return NewError(KindSpoofing, err, format, args...)
}

func NewSystemError(err error, format string, args ...any) *Error {
	return NewError(KindSystem, err, format, args...)
}

func NewPermissionError(err error, format string, args ...any) *Error {
	return NewError(KindPermission, err, format, args...)
}

func NewConfigurationError(err error, format string, args ...any) *Error {
	return NewError(KindConfiguration, err, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError converts any error into an *Error, keeping an existing one as is
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Message: err.Error()}
}
