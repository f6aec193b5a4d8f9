package client

import "errors"

var (
	// ErrTimeout fails a call whose reply did not arrive within its
	// correlation timeout.
	ErrTimeout = errors.New("client: request timed out")
	// ErrConnNotFound is returned when the connection was never activated
	// or is already deactivated.
	ErrConnNotFound = errors.New("client: connection not active")
	// ErrConnClosed fails calls still pending when their connection goes away.
	ErrConnClosed = errors.New("client: connection closed")
	// ErrWaitTimeout is returned by Future.AwaitTimeout when the local wait
	// elapses. The call itself stays pending.
	ErrWaitTimeout = errors.New("client: wait timed out")
	// ErrClosed is returned for calls registered after the client's
	// scheduler stopped: their timeout could never fire.
	ErrClosed = errors.New("client: closed")
)
