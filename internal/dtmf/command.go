package dtmf

import (
	"fmt"
	"strings"
)

// Command is an action a tone can trigger.
type Command string

// Station commands.
const (
	CommandNone        Command = "none"
	CommandDoorOpen    Command = "door_open"
	CommandDoorClose   Command = "door_close"
	CommandLightToggle Command = "light_toggle"
	CommandStatus      Command = "status"
	CommandHangup      Command = "hangup"
	CommandCustom      Command = "custom"
)

var knownCommands = map[Command]bool{
	CommandNone:        true,
	CommandDoorOpen:    true,
	CommandDoorClose:   true,
	CommandLightToggle: true,
	CommandStatus:      true,
	CommandHangup:      true,
	CommandCustom:      true,
}

// IsValid reports whether c is a known command.
func (c Command) IsValid() bool {
	return knownCommands[c]
}

// ParseCommand converts a configuration name to a Command.
// Matching is case-insensitive and accepts dashes for underscores.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !c.IsValid() {
		return CommandNone, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

// ValidTones is the tone alphabet.
const ValidTones = "0123456789*#"

// MaxMappings bounds the table, one entry per possible tone.
const MaxMappings = 12

// IsValidTone reports whether tone is in the tone alphabet.
func IsValidTone(tone byte) bool {
	return strings.IndexByte(ValidTones, tone) >= 0
}

// Mapping binds one tone to a command. Param is command specific; for
// door_open it is the pulse length in milliseconds (0 uses the default).
type Mapping struct {
	Tone    string  `json:"tone"`
	Command Command `json:"command"`
	Param   uint32  `json:"param,omitempty"`
	Enabled bool    `json:"enabled"`
}

// Validate checks a single entry.
func (m Mapping) Validate() error {
	if len(m.Tone) != 1 || !IsValidTone(m.Tone[0]) {
		return fmt.Errorf("%w: tone %q must be one of %s", ErrInvalidMapping, m.Tone, ValidTones)
	}
	if !m.Command.IsValid() {
		return fmt.Errorf("%w: tone %q: unknown command %q", ErrInvalidMapping, m.Tone, m.Command)
	}
	return nil
}

// ValidateMappings checks a whole table.
func ValidateMappings(mappings []Mapping) error {
	if len(mappings) > MaxMappings {
		return fmt.Errorf("%w: %d entries, at most %d allowed", ErrInvalidMapping, len(mappings), MaxMappings)
	}
	for i, m := range mappings {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// DefaultMappings returns the factory table: 1 opens the door, 0 hangs up
// and * reports status.
func DefaultMappings() []Mapping {
	return []Mapping{
		{Tone: "1", Command: CommandDoorOpen, Enabled: true},
		{Tone: "0", Command: CommandHangup, Enabled: true},
		{Tone: "*", Command: CommandStatus, Enabled: true},
	}
}
