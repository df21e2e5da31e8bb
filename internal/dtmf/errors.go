package dtmf

import "errors"

// Domain errors for the dtmf package.
var (
	// ErrInvalidMapping is returned when a mapping table fails validation.
	ErrInvalidMapping = errors.New("dtmf: invalid mapping")

	// ErrUnknownCommand is returned when a command name is not recognised.
	ErrUnknownCommand = errors.New("dtmf: unknown command")

	// ErrBusy is returned when a command is already executing.
	ErrBusy = errors.New("dtmf: command already executing")

	// ErrNoStoredMappings is returned by Load when no table has been saved.
	ErrNoStoredMappings = errors.New("dtmf: no stored mappings")
)
