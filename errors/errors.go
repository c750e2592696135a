package errors

import "fmt"

var (
	// Validation: rejected locally before any network call.
	ErrEmptyBody      = fmt.Errorf("message body is empty")
	ErrBodyTooLong    = fmt.Errorf("message body exceeds maximum length")
	ErrInvalidChannel = fmt.Errorf("channel id contains unsafe characters")

	// Auth: a session refuses to enter Connecting without an identity.
	ErrAuthRequired = fmt.Errorf("authenticated identity required")
	ErrInvalidToken = fmt.Errorf("invalid or expired token")

	// Transport and store.
	ErrFeedDown       = fmt.Errorf("live feed disconnected")
	ErrChannelCreate  = fmt.Errorf("channel creation failed")
	ErrUnknownMessage = fmt.Errorf("unknown message id")
	ErrNotAuthor      = fmt.Errorf("only the author may modify a message")
	ErrSessionClosed  = fmt.Errorf("session closed")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)
