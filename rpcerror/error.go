// Package rpcerror defines the JSON-RPC 2.0 error taxonomy.
//
// Two families of codes exist:
//
//   - the five reserved protocol codes (-32700 .. -32603), returned by Standard
//     and never clamped;
//   - the implementation-defined server-error band, [-32099, -32000] by default.
//     Every caller-supplied code goes through Band.Clamp, so a handler cannot
//     leak a reserved or out-of-range code onto the wire.
//
// An Error that wraps a causing fault carries {type_name, message} as its data.
// Stack traces are never included.
package rpcerror

import (
	"fmt"
)

// Reserved protocol codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Default server-error band and the custom codes used by this module.
const (
	CodeServerErrorUpper = -32000
	CodeServerErrorLower = -32099

	CodeInvocationFault = -32001 // handler returned an error or panicked
	CodeTimeout         = -32002 // handler exceeded its time budget
	CodeRateLimited     = -32005 // request rejected by the rate limiter
)

// ErrorData is the structured payload attached to an error that wraps a cause.
type ErrorData struct {
	TypeName string `json:"type_name"`
	Message  string `json:"message"`
}

func (d *ErrorData) String() string {
	return fmt.Sprintf("%s: %s", d.TypeName, d.Message)
}

// Error is the JSON-RPC error object. It doubles as a Go error.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("json-rpc error %d", e.Code)
	}
	return e.Message
}

// ErrorCode returns the numeric code.
func (e *Error) ErrorCode() int { return e.Code }

// ErrorData returns the attached data, or nil.
func (e *Error) ErrorData() any {
	if e.Data == nil {
		return nil
	}
	return e.Data
}

// IsStandard reports whether the code is one of the five reserved protocol codes.
func (e *Error) IsStandard() bool {
	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams, CodeInternalError:
		return true
	}
	return false
}

// Describe renders the error with its code and data, for logs.
func (e *Error) Describe() string {
	if e.Data == nil {
		return fmt.Sprintf("code=%d message=%q", e.Code, e.Message)
	}
	return fmt.Sprintf("code=%d message=%q data=%s", e.Code, e.Message, e.Data)
}

// New returns an error with the code clamped into the default band.
func New(code int, message string) *Error {
	return DefaultBand.New(code, message)
}

// Wrap returns an error with the code clamped into the default band and the
// cause's type name and message attached as data. The message is the cause's.
func Wrap(code int, cause error) *Error {
	return DefaultBand.Wrap(code, cause)
}

// WrapWithMessage is Wrap with an explicit top-level message.
func WrapWithMessage(code int, message string, cause error) *Error {
	return DefaultBand.WrapWithMessage(code, message, cause)
}

// ClampCode clamps code into the default band.
func ClampCode(code int) int {
	return DefaultBand.Clamp(code)
}

func dataFor(cause error) *ErrorData {
	if cause == nil {
		return nil
	}
	return &ErrorData{TypeName: fmt.Sprintf("%T", cause), Message: cause.Error()}
}
