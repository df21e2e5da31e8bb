package call

import "errors"

// Domain errors for the call package.
var (
	// ErrInvalidState is returned when initiating while not registered or
	// while a call is already active.
	ErrInvalidState = errors.New("call: invalid state")

	// ErrInvalidTarget is returned when the callee is empty.
	ErrInvalidTarget = errors.New("call: invalid target")
)

// Failure reasons recorded in Statistics.
const (
	ReasonTimeout      = "Call timeout"
	ReasonCancelled    = "Cancelled"
	ReasonAuthRejected = "Authentication rejected"
	ReasonBadChallenge = "Unparseable challenge"
	ReasonSendFailed   = "Send failed"
)
