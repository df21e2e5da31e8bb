package message

import "errors"

// Domain errors for the message package.
var (
	// ErrMalformed is returned when an inbound datagram is not a SIP message.
	ErrMalformed = errors.New("message: malformed SIP message")

	// ErrInvalidRequest is returned when a Request lacks a required field.
	ErrInvalidRequest = errors.New("message: invalid request")
)
