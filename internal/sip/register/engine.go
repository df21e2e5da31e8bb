package register

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/message"
)

// State is the registration state.
type State string

// Registration states.
const (
	StateIdle        State = "idle"
	StateRegistering State = "registering"
	StateRegistered  State = "registered"
	StateError       State = "error"
)

// Timer names armed through Timers.
const (
	TimerRefresh = "register.refresh"
	TimerTimeout = "register.timeout"
)

const (
	eventStart   = "start"
	eventSuccess = "success"
	eventFail    = "fail"
	eventStop    = "stop"
)

// Outbox queues a request for sending once the caller's lock is released.
type Outbox interface {
	Send(r *message.Request)
}

// Timers arms and disarms named one-shot timers. Arm replaces any timer
// already armed under the same name.
type Timers interface {
	Arm(name string, d time.Duration)
	Disarm(name string)
}

// Observer is notified synchronously on every state transition.
type Observer func(from, to State, reason string)

// Logger defines the logging interface used by the engine.
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

// Config holds the registration parameters.
type Config struct {
	Credentials digest.Credentials

	// LocalHost scopes generated Call-IDs.
	LocalHost string

	// Expires is the binding lifetime requested from the server, in seconds.
	Expires int

	// Interval is the fixed refresh period while registered.
	Interval time.Duration

	// Timeout bounds one REGISTER transaction.
	Timeout time.Duration
}

// Engine drives registration for one set of credentials.
//
// Thread Safety:
//   - Not safe for concurrent use; the owner serialises all calls.
type Engine struct {
	cfg      Config
	out      Outbox
	timers   Timers
	observer Observer
	logger   Logger
	machine  *fsm.FSM

	cseq    uint32
	fromTag string

	// pending is the REGISTER awaiting a final response.
	pending *message.Request
	// challenged is set once the current attempt has answered a challenge.
	challenged bool

	lastReason   string
	registeredAt time.Time
}

// New creates an engine in Idle.
//
// Parameters:
//   - cfg: registration parameters; credentials must already be validated
//   - out: request queue flushed by the owner
//   - timers: timer service owned by the owner
//   - observer: transition callback (may be nil)
func New(cfg Config, out Outbox, timers Timers, observer Observer) *Engine {
	e := &Engine{
		cfg:      cfg,
		out:      out,
		timers:   timers,
		observer: observer,
		logger:   noopLogger{},
		fromTag:  message.NewTag(),
	}

	e.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateIdle), string(StateError)}, Dst: string(StateRegistering)},
			{Name: eventSuccess, Src: []string{string(StateRegistering)}, Dst: string(StateRegistered)},
			{Name: eventFail, Src: []string{string(StateRegistering), string(StateRegistered)}, Dst: string(StateError)},
			{Name: eventStop, Src: []string{string(StateRegistering), string(StateRegistered), string(StateError)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				reason := ""
				if len(ev.Args) > 0 {
					reason, _ = ev.Args[0].(string)
				}
				if e.observer != nil {
					e.observer(State(ev.Src), State(ev.Dst), reason)
				}
			},
		},
	)
	return e
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// State returns the current registration state.
func (e *Engine) State() State {
	return State(e.machine.Current())
}

// LastError returns the reason of the most recent failure.
func (e *Engine) LastError() string {
	return e.lastReason
}

// RegisteredAt returns when the current binding was confirmed.
func (e *Engine) RegisteredAt() time.Time {
	return e.registeredAt
}

// Start sends the first REGISTER. It is legal from Idle and Error.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.machine.Event(ctx, eventStart); err != nil {
		return ErrInvalidState
	}
	e.challenged = false
	e.sendRegister(nil)
	return nil
}

// Stop returns the engine to Idle and disarms its timers.
func (e *Engine) Stop(ctx context.Context) {
	e.timers.Disarm(TimerRefresh)
	e.timers.Disarm(TimerTimeout)
	e.pending = nil
	e.challenged = false
	e.registeredAt = time.Time{}

	if e.State() == StateIdle {
		return
	}
	_ = e.machine.Event(ctx, eventStop, ReasonStopped)
}

// Owns reports whether callID belongs to the in-flight REGISTER.
func (e *Engine) Owns(callID string) bool {
	return e.pending != nil && e.pending.CallID == callID
}

// HandleResponse applies a response to the in-flight REGISTER.
// It returns false when the response belongs to another transaction.
func (e *Engine) HandleResponse(ctx context.Context, res *message.Response) bool {
	if !e.Owns(res.CallID) || res.Method != message.MethodRegister {
		return false
	}

	switch {
	case res.IsProvisional():
		return true

	case res.IsSuccess():
		e.timers.Disarm(TimerTimeout)
		e.pending = nil
		e.challenged = false
		e.registeredAt = time.Now()
		if e.State() == StateRegistering {
			_ = e.machine.Event(ctx, eventSuccess)
		}
		e.logger.Info("registered", "user", e.cfg.Credentials.Username, "domain", e.cfg.Credentials.Domain)
		e.timers.Arm(TimerRefresh, e.cfg.Interval)

	case res.IsChallenge():
		if e.challenged {
			e.fail(ctx, ReasonAuthRejected)
			return true
		}
		ch, err := digest.ParseChallenge(res.ChallengeHeader, res.ChallengeValue)
		if err != nil {
			e.logger.Warn("bad registration challenge", "error", err)
			e.fail(ctx, ReasonBadChallenge)
			return true
		}
		e.challenged = true
		e.logger.Debug("registration challenged", "realm", ch.Realm)
		e.sendRegister(&ch)

	default:
		e.fail(ctx, res.Status())
	}
	return true
}

// Refresh re-sends REGISTER while registered. It is the TimerRefresh handler.
func (e *Engine) Refresh(_ context.Context) {
	if e.State() != StateRegistered {
		return
	}
	e.challenged = false
	e.sendRegister(nil)
}

// Timeout fails the in-flight REGISTER. It is the TimerTimeout handler.
func (e *Engine) Timeout(ctx context.Context) {
	if e.pending == nil {
		return
	}
	e.fail(ctx, ReasonTimeout)
}

// SendFailed reports that the transport could not send callID.
func (e *Engine) SendFailed(ctx context.Context, callID string) bool {
	if !e.Owns(callID) {
		return false
	}
	e.fail(ctx, ReasonSendFailed)
	return true
}

func (e *Engine) fail(ctx context.Context, reason string) {
	e.timers.Disarm(TimerTimeout)
	e.timers.Disarm(TimerRefresh)
	e.pending = nil
	e.challenged = false
	e.lastReason = reason
	e.registeredAt = time.Time{}

	e.logger.Warn("registration failed", "reason", reason)
	_ = e.machine.Event(ctx, eventFail, reason)
}

// sendRegister queues a REGISTER with fresh identifiers, answering ch when set.
func (e *Engine) sendRegister(ch *digest.Challenge) {
	creds := e.cfg.Credentials
	aor := "sip:" + creds.Username + "@" + creds.Domain
	registrar := "sip:" + creds.Domain

	e.cseq++
	req := &message.Request{
		Method:     message.MethodRegister,
		URI:        registrar,
		From:       aor,
		FromTag:    e.fromTag,
		To:         aor,
		CallID:     message.NewCallID(e.cfg.LocalHost),
		CSeq:       e.cseq,
		Branch:     message.NewBranch(),
		Expires:    e.cfg.Expires,
		HasExpires: true,
	}
	if ch != nil {
		req.AuthHeader = ch.ResponseHeader()
		req.AuthValue = digest.Authorization(creds, *ch, message.MethodRegister, registrar)
	}

	e.pending = req
	e.timers.Arm(TimerTimeout, e.cfg.Timeout)
	e.out.Send(req)
}
