package actuator

import (
	"errors"
	"fmt"
)

// Domain errors for the actuator package.
var (
	// ErrInvalidArgument is returned for out-of-range parameters and
	// unknown commands.
	ErrInvalidArgument = errors.New("actuator: invalid argument")

	// ErrNotSupported is returned for commands this station has no
	// hardware for. It wraps ErrInvalidArgument.
	ErrNotSupported = fmt.Errorf("%w: command not supported", ErrInvalidArgument)

	// ErrBusy is returned when the door relay is inside its cool-down.
	ErrBusy = errors.New("actuator: relay cooling down")

	// ErrUnknownRelay is returned when an action names a relay the bridge
	// does not drive.
	ErrUnknownRelay = errors.New("actuator: unknown relay")
)
