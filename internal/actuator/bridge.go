package actuator

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
)

// TimerAutoHangup is the timer armed after a door opening.
const TimerAutoHangup = "actuator.autohangup"

// Pulse and auto-hangup limits.
const (
	DefaultDoorPulse       = 500 * time.Millisecond
	MinDoorPulse           = 100 * time.Millisecond
	MaxDoorPulse           = 10 * time.Second
	DefaultCooldown        = 5 * time.Second
	DefaultAutoHangupDelay = 5 * time.Second
	MinAutoHangupDelay     = time.Millisecond
	MaxAutoHangupDelay     = 60 * time.Second
)

// Timers arms and disarms named one-shot timers. Arm replaces any timer
// already armed under the same name.
type Timers interface {
	Arm(name string, d time.Duration)
	Disarm(name string)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the interlock settings. Zero values select the defaults;
// the door cool-down cannot be switched off.
type Config struct {
	DoorPulse       time.Duration
	Cooldown        time.Duration
	AutoHangup      bool
	AutoHangupDelay time.Duration

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Validate checks the configured ranges.
func (c Config) Validate() error {
	if c.DoorPulse != 0 && (c.DoorPulse < MinDoorPulse || c.DoorPulse > MaxDoorPulse) {
		return fmt.Errorf("%w: door pulse %v outside %v-%v", ErrInvalidArgument, c.DoorPulse, MinDoorPulse, MaxDoorPulse)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: negative cool-down", ErrInvalidArgument)
	}
	if c.AutoHangup && c.AutoHangupDelay != 0 &&
		(c.AutoHangupDelay < MinAutoHangupDelay || c.AutoHangupDelay > MaxAutoHangupDelay) {
		return fmt.Errorf("%w: auto-hangup delay %v outside %v-%v",
			ErrInvalidArgument, c.AutoHangupDelay, MinAutoHangupDelay, MaxAutoHangupDelay)
	}
	return nil
}

// ActionKind identifies the hardware side of an Action.
type ActionKind string

// Action kinds.
const (
	ActionNone   ActionKind = "none"
	ActionPulse  ActionKind = "pulse"
	ActionSet    ActionKind = "set"
	ActionReport ActionKind = "report"
	ActionHangup ActionKind = "hangup"
)

// Action is the planned outcome of a command.
type Action struct {
	Command  dtmf.Command  `json:"command"`
	Kind     ActionKind    `json:"kind"`
	Relay    string        `json:"relay,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Level    bool          `json:"level,omitempty"`
	Report   *StatusReport `json:"report,omitempty"`
}

// RelayState is the logical state of one relay.
type RelayState struct {
	Name      string    `json:"name"`
	On        bool      `json:"on"`
	Pulses    uint32    `json:"pulses"`
	LastPulse time.Time `json:"last_pulse,omitzero"`
}

// StatusReport is the relay part of a status command.
type StatusReport struct {
	Door            RelayState `json:"door"`
	Light           RelayState `json:"light"`
	AutoHangupArmed bool       `json:"auto_hangup_armed"`
}

// Bridge executes commands against the door and light relays.
//
// Thread Safety:
//   - Execute, AutoHangupExpired, CallEnded and Relays must be serialised
//     by the owner. Apply may run concurrently with them.
type Bridge struct {
	cfg    Config
	door   Relay
	light  Relay
	timers Timers
	logger Logger

	lastPulse     time.Time
	pulseDuration time.Duration
	pulses        uint32
	lightOn       bool
	hangupArmed   bool
}

// NewBridge creates a bridge. Zero durations in cfg select the defaults.
func NewBridge(cfg Config, door, light Relay, timers Timers) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DoorPulse == 0 {
		cfg.DoorPulse = DefaultDoorPulse
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.AutoHangupDelay == 0 {
		cfg.AutoHangupDelay = DefaultAutoHangupDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bridge{
		cfg:    cfg,
		door:   door,
		light:  light,
		timers: timers,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Execute plans cmd. param is command specific: for door_open it is the
// pulse length in milliseconds, 0 selecting the default.
//
// Returns:
//   - Action: what Apply must do outside the caller's lock
//   - error: ErrInvalidArgument, ErrNotSupported or ErrBusy
func (b *Bridge) Execute(cmd dtmf.Command, param uint32) (Action, error) {
	switch cmd {
	case dtmf.CommandNone:
		return Action{Command: cmd, Kind: ActionNone}, nil

	case dtmf.CommandDoorOpen:
		return b.openDoor(param)

	case dtmf.CommandLightToggle:
		b.lightOn = !b.lightOn
		b.logger.Info("light toggled", "on", b.lightOn)
		return Action{Command: cmd, Kind: ActionSet, Relay: RelayLight, Level: b.lightOn}, nil

	case dtmf.CommandStatus:
		report := b.Relays()
		return Action{Command: cmd, Kind: ActionReport, Report: &report}, nil

	case dtmf.CommandHangup:
		b.disarmAutoHangup()
		return Action{Command: cmd, Kind: ActionHangup}, nil

	case dtmf.CommandDoorClose, dtmf.CommandCustom:
		b.logger.Warn("command not supported", "command", string(cmd))
		return Action{}, fmt.Errorf("%w: %s", ErrNotSupported, cmd)

	default:
		return Action{}, fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, cmd)
	}
}

func (b *Bridge) openDoor(param uint32) (Action, error) {
	d := b.cfg.DoorPulse
	if param > 0 {
		d = time.Duration(param) * time.Millisecond
	}
	if d < MinDoorPulse || d > MaxDoorPulse {
		return Action{}, fmt.Errorf("%w: door pulse %v outside %v-%v", ErrInvalidArgument, d, MinDoorPulse, MaxDoorPulse)
	}

	now := b.cfg.Now()
	if !b.lastPulse.IsZero() && now.Sub(b.lastPulse) < b.cfg.Cooldown {
		remaining := b.cfg.Cooldown - now.Sub(b.lastPulse)
		b.logger.Warn("door opening refused during cool-down", "remaining", remaining)
		return Action{}, fmt.Errorf("%w: %v remaining", ErrBusy, remaining.Round(time.Millisecond))
	}

	b.lastPulse = now
	b.pulseDuration = d
	b.pulses++

	if b.cfg.AutoHangup {
		b.timers.Arm(TimerAutoHangup, b.cfg.AutoHangupDelay)
		b.hangupArmed = true
	}

	b.logger.Info("door opening", "pulse", d, "auto_hangup", b.cfg.AutoHangup)
	return Action{Command: dtmf.CommandDoorOpen, Kind: ActionPulse, Relay: RelayDoor, Duration: d}, nil
}

// Apply performs the hardware side of a. A door pulse blocks for its
// duration; callers must not hold their state lock.
func (b *Bridge) Apply(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionPulse:
		relay, err := b.relay(a.Relay)
		if err != nil {
			return err
		}
		if err := relay.Pulse(ctx, a.Duration); err != nil {
			return fmt.Errorf("pulsing %s relay: %w", a.Relay, err)
		}
	case ActionSet:
		relay, err := b.relay(a.Relay)
		if err != nil {
			return err
		}
		if err := relay.Set(ctx, a.Level); err != nil {
			return fmt.Errorf("setting %s relay: %w", a.Relay, err)
		}
	}
	return nil
}

func (b *Bridge) relay(name string) (Relay, error) {
	switch name {
	case RelayDoor:
		return b.door, nil
	case RelayLight:
		return b.light, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRelay, name)
	}
}

// AutoHangupExpired consumes the armed auto-hangup. It reports whether the
// caller should terminate the call; false means the timer had already been
// cancelled.
func (b *Bridge) AutoHangupExpired() bool {
	if !b.hangupArmed {
		return false
	}
	b.hangupArmed = false
	b.logger.Info("auto-hangup expired")
	return true
}

// CallEnded cancels a pending auto-hangup.
func (b *Bridge) CallEnded() {
	b.disarmAutoHangup()
}

func (b *Bridge) disarmAutoHangup() {
	if b.hangupArmed {
		b.timers.Disarm(TimerAutoHangup)
		b.hangupArmed = false
	}
}

// Relays returns the logical relay states.
func (b *Bridge) Relays() StatusReport {
	now := b.cfg.Now()
	return StatusReport{
		Door: RelayState{
			Name:      RelayDoor,
			On:        !b.lastPulse.IsZero() && now.Sub(b.lastPulse) < b.pulseDuration,
			Pulses:    b.pulses,
			LastPulse: b.lastPulse,
		},
		Light: RelayState{
			Name: RelayLight,
			On:   b.lightOn,
		},
		AutoHangupArmed: b.hangupArmed,
	}
}
