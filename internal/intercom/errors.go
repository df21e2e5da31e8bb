package intercom

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
)

// Error kinds returned by the coordinator. Callers check them with errors.Is.
var (
	// ErrInvalidArgument is returned for rejected parameters or configuration.
	ErrInvalidArgument = errors.New("intercom: invalid argument")

	// ErrInvalidState is returned when an operation is not legal in the
	// current state.
	ErrInvalidState = errors.New("intercom: invalid state")

	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("intercom: timeout")

	// ErrStateUnavailable is returned when the state lock could not be
	// acquired in time. It wraps ErrTimeout and is retryable.
	ErrStateUnavailable = fmt.Errorf("%w: state lock unavailable", ErrTimeout)

	// ErrProtocolFailure is returned when a SIP message cannot be built or
	// understood.
	ErrProtocolFailure = errors.New("intercom: protocol failure")

	// ErrBusy is returned while a command is executing or a relay is
	// cooling down.
	ErrBusy = errors.New("intercom: busy")
)

// classify maps package errors onto the coordinator's error kinds, keeping
// the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var kind error
	switch {
	case errors.Is(err, actuator.ErrBusy), errors.Is(err, dtmf.ErrBusy):
		kind = ErrBusy
	case errors.Is(err, actuator.ErrInvalidArgument),
		errors.Is(err, dtmf.ErrInvalidMapping),
		errors.Is(err, dtmf.ErrUnknownCommand),
		errors.Is(err, digest.ErrInvalidCredentials),
		errors.Is(err, call.ErrInvalidTarget):
		kind = ErrInvalidArgument
	case errors.Is(err, call.ErrInvalidState), errors.Is(err, register.ErrInvalidState):
		kind = ErrInvalidState
	default:
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
