package register

import "errors"

// Domain errors for the register package.
var (
	// ErrInvalidState is returned when an operation is not legal in the
	// current registration state.
	ErrInvalidState = errors.New("register: invalid state")
)

// Failure reasons reported to the observer.
const (
	ReasonTimeout      = "registration timeout"
	ReasonAuthRejected = "authentication rejected"
	ReasonBadChallenge = "unparseable challenge"
	ReasonSendFailed   = "send failed"
	ReasonStopped      = "stopped"
)
