package call

import (
	"context"
	"strings"
	"time"

	"github.com/looplab/fsm"

	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/message"
)

// State is the call state.
type State string

// Call states.
const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateConnected State = "connected"
	StateError     State = "error"
)

// TimerTimeout is the name of the call establishment timer.
const TimerTimeout = "call.timeout"

const (
	eventInitiate = "initiate"
	eventAnswer   = "answer"
	eventHangup   = "hangup"
	eventCancel   = "cancel"
	eventFail     = "fail"
	eventRecover  = "recover"
)

// Outbox queues a request for sending once the caller's lock is released.
type Outbox interface {
	Send(r *message.Request)
}

// Timers arms and disarms named one-shot timers.
type Timers interface {
	Arm(name string, d time.Duration)
	Disarm(name string)
}

// Observer receives call transitions and in-call tones synchronously.
type Observer interface {
	CallStateChanged(from, to State, reason string)
	ToneReceived(tone byte)
}

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

// Statistics are the cumulative call counters.
// Invariant: Successes+Failures <= Attempts, equal when no call is active.
type Statistics struct {
	Attempts          uint32        `json:"attempts"`
	Successes         uint32        `json:"successes"`
	Failures          uint32        `json:"failures"`
	TotalDuration     time.Duration `json:"total_duration"`
	CurrentDuration   time.Duration `json:"current_duration"`
	LastFailureReason string        `json:"last_failure_reason,omitempty"`
}

// Reply is the response the owner must send to an inbound request.
type Reply struct {
	Code   int
	Reason string
}

// Config holds the call parameters.
type Config struct {
	Credentials digest.Credentials

	// LocalHost scopes generated Call-IDs.
	LocalHost string

	// Timeout bounds call establishment.
	Timeout time.Duration

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// dialog holds the identifiers of one call.
type dialog struct {
	target  string
	callID  string
	fromTag string
	toTag   string
	cseq    uint32

	invite     *message.Request
	challenged bool
}

// Engine drives one call at a time.
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

	active *dialog
	// closing is the last ended call; late final INVITE responses to it
	// still need an ACK.
	closing *dialog

	stats       Statistics
	connectedAt time.Time
}

// New creates an engine in Idle.
func New(cfg Config, out Outbox, timers Timers, observer Observer) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		cfg:      cfg,
		out:      out,
		timers:   timers,
		observer: observer,
		logger:   noopLogger{},
	}

	e.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventInitiate, Src: []string{string(StateIdle)}, Dst: string(StateCalling)},
			{Name: eventAnswer, Src: []string{string(StateCalling)}, Dst: string(StateConnected)},
			{Name: eventHangup, Src: []string{string(StateConnected)}, Dst: string(StateIdle)},
			{Name: eventCancel, Src: []string{string(StateCalling)}, Dst: string(StateIdle)},
			{Name: eventFail, Src: []string{string(StateCalling), string(StateConnected)}, Dst: string(StateError)},
			{Name: eventRecover, Src: []string{string(StateError)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				reason := ""
				if len(ev.Args) > 0 {
					reason, _ = ev.Args[0].(string)
				}
				if e.observer != nil {
					e.observer.CallStateChanged(State(ev.Src), State(ev.Dst), reason)
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

// State returns the current call state.
func (e *Engine) State() State {
	return State(e.machine.Current())
}

// Statistics returns a copy of the counters. CurrentDuration is live while
// Connected.
func (e *Engine) Statistics() Statistics {
	s := e.stats
	if e.State() == StateConnected {
		s.CurrentDuration = e.cfg.Now().Sub(e.connectedAt)
	}
	return s
}

// ResetStatistics zeroes the counters.
func (e *Engine) ResetStatistics() {
	e.stats = Statistics{}
}

// RestoreStatistics carries counters over from a replaced engine. It only
// applies while Idle.
func (e *Engine) RestoreStatistics(s Statistics) {
	if e.State() != StateIdle {
		return
	}
	s.CurrentDuration = 0
	e.stats = s
}

// CallID returns the active call's Call-ID, or "" when idle.
func (e *Engine) CallID() string {
	if e.active == nil {
		return ""
	}
	return e.active.callID
}

// LastCallID returns the Call-ID of the active call, or of the call that
// ended most recently.
func (e *Engine) LastCallID() string {
	switch {
	case e.active != nil:
		return e.active.callID
	case e.closing != nil:
		return e.closing.callID
	}
	return ""
}

// Initiate places a call to target.
//
// Parameters:
//   - target: extension or full SIP URI of the callee
//   - registered: whether the registration engine is Registered
//
// Returns:
//   - error: ErrInvalidState unless registered and Idle; ErrInvalidTarget
//     for an empty target
func (e *Engine) Initiate(ctx context.Context, target string, registered bool) error {
	if !registered || e.State() != StateIdle {
		return ErrInvalidState
	}
	if strings.TrimSpace(target) == "" {
		return ErrInvalidTarget
	}

	// The dialog and attempt exist before the transition so observers see them.
	e.closing = nil
	e.active = &dialog{
		target:  e.targetURI(target),
		callID:  message.NewCallID(e.cfg.LocalHost),
		fromTag: message.NewTag(),
	}
	e.stats.Attempts++
	if err := e.machine.Event(ctx, eventInitiate); err != nil {
		e.active = nil
		e.stats.Attempts--
		return ErrInvalidState
	}

	e.timers.Arm(TimerTimeout, e.cfg.Timeout)
	e.sendInvite(nil)

	e.logger.Info("call initiated", "target", e.active.target, "call_id", e.active.callID)
	return nil
}

// Terminate ends the active call: CANCEL while Calling, BYE while
// Connected. With no active call it is a no-op.
func (e *Engine) Terminate(ctx context.Context) {
	switch e.State() {
	case StateCalling:
		e.sendCancel()
		e.finishFailure(ctx, eventCancel, ReasonCancelled)
	case StateConnected:
		e.send(message.MethodBye)
		e.finishSuccess(ctx)
	}
}

// Owns reports whether callID belongs to the active or just-ended call.
func (e *Engine) Owns(callID string) bool {
	return (e.active != nil && e.active.callID == callID) ||
		(e.closing != nil && e.closing.callID == callID)
}

// HandleResponse applies a response to the call's transactions.
// It returns false when the response belongs to another Call-ID.
func (e *Engine) HandleResponse(ctx context.Context, res *message.Response) bool {
	if e.closing != nil && e.closing.callID == res.CallID {
		if res.Method == message.MethodInvite && res.StatusCode >= 300 {
			e.ackFailure(e.closing, res)
		}
		return true
	}
	if e.active == nil || e.active.callID != res.CallID {
		return false
	}
	if res.Method != message.MethodInvite {
		// Responses to ACK-less requests (BYE, CANCEL) carry no state.
		return true
	}

	d := e.active
	switch {
	case res.IsProvisional():
		if res.ToTag != "" {
			d.toTag = res.ToTag
		}

	case res.IsSuccess():
		d.toTag = res.ToTag
		e.send(message.MethodAck)
		if e.State() != StateCalling {
			return true // retransmitted 2xx
		}
		e.timers.Disarm(TimerTimeout)
		e.connectedAt = e.cfg.Now()
		_ = e.machine.Event(ctx, eventAnswer)
		e.logger.Info("call connected", "call_id", d.callID)

	case res.IsChallenge():
		e.ackFailure(d, res)
		if d.challenged {
			e.finishFailure(ctx, eventFail, ReasonAuthRejected)
			return true
		}
		ch, err := digest.ParseChallenge(res.ChallengeHeader, res.ChallengeValue)
		if err != nil {
			e.logger.Warn("bad call challenge", "error", err)
			e.finishFailure(ctx, eventFail, ReasonBadChallenge)
			return true
		}
		d.challenged = true
		e.sendInvite(&ch)

	default:
		e.ackFailure(d, res)
		e.finishFailure(ctx, eventFail, res.Status())
	}
	return true
}

// HandleRequest applies a request sent by the server and returns the reply
// the owner must send.
func (e *Engine) HandleRequest(ctx context.Context, req *message.InboundRequest) Reply {
	switch req.Method {
	case message.MethodInvite:
		return Reply{Code: message.StatusBusyHere, Reason: "Busy Here"}
	case message.MethodAck:
		return Reply{}
	}

	if e.active == nil || e.active.callID != req.CallID {
		if tone, ok := req.DTMF(); ok {
			e.logger.Debug("tone dropped outside any call", "tone", string(tone), "call_id", req.CallID)
		} else {
			e.logger.Debug("request outside any dialog", "method", req.Method, "call_id", req.CallID)
		}
		return Reply{Code: message.StatusCallDoesNotExist, Reason: "Call/Transaction Does Not Exist"}
	}

	switch req.Method {
	case message.MethodBye:
		if e.State() == StateConnected {
			e.logger.Info("call ended by remote", "call_id", req.CallID)
			e.finishSuccess(ctx)
		}
		return Reply{Code: message.StatusOK, Reason: "OK"}

	case message.MethodInfo:
		tone, ok := req.DTMF()
		switch {
		case !ok:
			e.logger.Debug("INFO without tone", "content_type", req.ContentType)
		case e.State() != StateConnected:
			e.logger.Warn("tone dropped outside connected call", "tone", string(tone), "state", e.State())
		default:
			if e.observer != nil {
				e.observer.ToneReceived(tone)
			}
		}
		return Reply{Code: message.StatusOK, Reason: "OK"}

	default:
		return Reply{Code: message.StatusNotImplemented, Reason: "Not Implemented"}
	}
}

// Timeout fails a call that has not been answered. It is the TimerTimeout
// handler.
func (e *Engine) Timeout(ctx context.Context) {
	if e.State() != StateCalling {
		return
	}
	e.sendCancel()
	e.finishFailure(ctx, eventFail, ReasonTimeout)
}

// SendFailed reports that the transport could not send a request of callID.
func (e *Engine) SendFailed(ctx context.Context, callID string) bool {
	if e.active == nil || e.active.callID != callID {
		return false
	}
	e.finishFailure(ctx, eventFail, ReasonSendFailed)
	return true
}

func (e *Engine) finishSuccess(ctx context.Context) {
	e.timers.Disarm(TimerTimeout)
	elapsed := e.cfg.Now().Sub(e.connectedAt)
	e.stats.Successes++
	e.stats.TotalDuration += elapsed
	e.stats.CurrentDuration = elapsed

	e.closing, e.active = e.active, nil
	_ = e.machine.Event(ctx, eventHangup)
}

func (e *Engine) finishFailure(ctx context.Context, event, reason string) {
	e.timers.Disarm(TimerTimeout)
	if e.State() == StateConnected {
		e.stats.CurrentDuration = e.cfg.Now().Sub(e.connectedAt)
	}
	e.stats.Failures++
	e.stats.LastFailureReason = reason

	e.closing, e.active = e.active, nil
	e.logger.Warn("call failed", "reason", reason)
	_ = e.machine.Event(ctx, event, reason)
	if e.State() == StateError {
		_ = e.machine.Event(ctx, eventRecover, reason)
	}
}

func (e *Engine) targetURI(target string) string {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "sip:") || strings.HasPrefix(target, "sips:") {
		return target
	}
	if strings.Contains(target, "@") {
		return "sip:" + target
	}
	return "sip:" + target + "@" + e.cfg.Credentials.Domain
}

func (e *Engine) aor() string {
	return "sip:" + e.cfg.Credentials.Username + "@" + e.cfg.Credentials.Domain
}

func (e *Engine) sendInvite(ch *digest.Challenge) {
	d := e.active
	d.cseq++
	req := &message.Request{
		Method:  message.MethodInvite,
		URI:     d.target,
		From:    e.aor(),
		FromTag: d.fromTag,
		To:      d.target,
		CallID:  d.callID,
		CSeq:    d.cseq,
		Branch:  message.NewBranch(),
	}
	if ch != nil {
		req.AuthHeader = ch.ResponseHeader()
		req.AuthValue = digest.Authorization(e.cfg.Credentials, *ch, message.MethodInvite, d.target)
	}
	d.invite = req
	e.out.Send(req)
}

// send queues an in-dialog request. ACK reuses the INVITE's sequence number.
func (e *Engine) send(method string) {
	d := e.active
	cseq := d.invite.CSeq
	if method != message.MethodAck {
		d.cseq++
		cseq = d.cseq
	}
	e.out.Send(&message.Request{
		Method:  method,
		URI:     d.target,
		From:    e.aor(),
		FromTag: d.fromTag,
		To:      d.target,
		ToTag:   d.toTag,
		CallID:  d.callID,
		CSeq:    cseq,
		Branch:  message.NewBranch(),
	})
}

// sendCancel cancels the pending INVITE; CANCEL shares its branch and CSeq.
func (e *Engine) sendCancel() {
	d := e.active
	e.out.Send(&message.Request{
		Method:  message.MethodCancel,
		URI:     d.invite.URI,
		From:    d.invite.From,
		FromTag: d.fromTag,
		To:      d.invite.To,
		CallID:  d.callID,
		CSeq:    d.invite.CSeq,
		Branch:  d.invite.Branch,
	})
}

// ackFailure acknowledges a non-2xx final INVITE response within its
// transaction.
func (e *Engine) ackFailure(d *dialog, res *message.Response) {
	if d.invite == nil || res.CSeq != d.invite.CSeq {
		return
	}
	e.out.Send(&message.Request{
		Method:  message.MethodAck,
		URI:     d.invite.URI,
		From:    d.invite.From,
		FromTag: d.fromTag,
		To:      d.invite.To,
		ToTag:   res.ToTag,
		CallID:  d.callID,
		CSeq:    d.invite.CSeq,
		Branch:  d.invite.Branch,
	})
}
