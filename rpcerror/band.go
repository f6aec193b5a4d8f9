package rpcerror

import "fmt"

// Band is an inclusive range of implementation-defined server error codes.
type Band struct {
	Lower int
	Upper int
}

// DefaultBand is the JSON-RPC 2.0 recommended server-error range.
var DefaultBand = Band{Lower: CodeServerErrorLower, Upper: CodeServerErrorUpper}

// NewBand validates and returns a band.
func NewBand(lower, upper int) (Band, error) {
	if lower > upper {
		return Band{}, fmt.Errorf("rpcerror: band lower bound %d above upper bound %d", lower, upper)
	}
	return Band{Lower: lower, Upper: upper}, nil
}

// Clamp maps code to the nearest bound when it falls outside the band.
// Codes inside the band are returned unchanged.
func (b Band) Clamp(code int) int {
	if code < b.Lower {
		return b.Lower
	}
	if code > b.Upper {
		return b.Upper
	}
	return code
}

// Contains reports whether code lies inside the band.
func (b Band) Contains(code int) bool {
	return code >= b.Lower && code <= b.Upper
}

// New returns an error with a clamped code and no data.
func (b Band) New(code int, message string) *Error {
	return &Error{Code: b.Clamp(code), Message: message}
}

// Wrap returns an error with a clamped code whose message and data come from cause.
func (b Band) Wrap(code int, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: b.Clamp(code), Message: msg, Data: dataFor(cause)}
}

// WrapWithMessage returns an error with a clamped code, the given message and
// data describing cause.
func (b Band) WrapWithMessage(code int, message string, cause error) *Error {
	return &Error{Code: b.Clamp(code), Message: message, Data: dataFor(cause)}
}
