package intercom

import (
	"context"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/message"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
)

// Error sources recorded on ErrorRaised.
const (
	errSourceRegistration = "registration"
	errSourceCall         = "call"
	errSourceActuator     = "actuator"
)

// handle applies one loop message. Caller holds the lock.
func (c *Coordinator) handle(ctx context.Context, m loopMsg) {
	switch m := m.(type) {
	case inboundMsg:
		c.handleInbound(ctx, m.data)

	case timerMsg:
		c.handleTimer(ctx, m.name, m.gen)

	case sendFailedMsg:
		if c.reg.SendFailed(ctx, m.callID) || c.call.SendFailed(ctx, m.callID) {
			c.logger.Warn("request not sent", "call_id", m.callID, "error", m.err)
			return
		}
		c.logger.Debug("send failure for finished transaction", "call_id", m.callID)

	case applyFailedMsg:
		c.raise(errSourceActuator, m.err.Error())
	}
}

func (c *Coordinator) handleInbound(ctx context.Context, data []byte) {
	msg, err := message.Parse(data)
	if err != nil {
		c.logger.Debug("dropping unparseable datagram", "size", len(data), "error", err)
		return
	}

	switch m := msg.(type) {
	case *message.Response:
		if c.reg.HandleResponse(ctx, m) || c.call.HandleResponse(ctx, m) {
			return
		}
		c.logger.Debug("unmatched response", "status", m.StatusCode, "call_id", m.CallID, "method", m.Method)

	case *message.InboundRequest:
		reply := c.call.HandleRequest(ctx, m)
		if reply.Code != 0 {
			c.fx.replies = append(c.fx.replies, m.Reply(reply.Code, reply.Reason))
		}
		c.routeTones(ctx)
	}
}

func (c *Coordinator) handleTimer(ctx context.Context, name string, gen uint64) {
	if !c.timers.Expired(name, gen) {
		c.logger.Debug("ignoring stale timer", "timer", name)
		return
	}

	switch name {
	case register.TimerRefresh:
		c.reg.Refresh(ctx)
	case register.TimerTimeout:
		c.reg.Timeout(ctx)
	case call.TimerTimeout:
		c.call.Timeout(ctx)
	case actuator.TimerAutoHangup:
		if !c.bridge.AutoHangupExpired() || c.call.State() == call.StateIdle {
			return
		}
		c.call.Terminate(ctx)
		c.emit(CommandExecuted{
			EventMeta: c.meta(),
			Command:   dtmf.CommandHangup,
			Source:    SourceAutoHangup,
			Action:    actuator.Action{Command: dtmf.CommandHangup, Kind: actuator.ActionHangup},
		})
	default:
		c.logger.Warn("unknown timer", "timer", name)
	}
}

// routeTones classifies the tones queued by the call observer.
func (c *Coordinator) routeTones(ctx context.Context) {
	tones := c.tones
	c.tones = nil

	for _, tone := range tones {
		c.lastDTMF = c.clock.Now()
		c.lastTone = string(tone)

		cmd, param := c.router.Route(tone)
		c.emit(ToneReceived{EventMeta: c.meta(), Tone: string(tone), Command: cmd})
		if cmd == dtmf.CommandNone {
			c.logger.Debug("tone not mapped", "tone", string(tone))
			continue
		}
		if err := c.execute(ctx, cmd, param, SourceDTMF); err != nil {
			c.logger.Warn("tone command refused", "tone", string(tone), "command", string(cmd), "error", err)
		}
	}
}

// execute plans cmd and queues its hardware side. Caller holds the lock.
func (c *Coordinator) execute(ctx context.Context, cmd dtmf.Command, param uint32, source string) error {
	if err := c.router.TryAcquire(); err != nil {
		return classify(err)
	}

	action, err := c.bridge.Execute(cmd, param)
	if err != nil {
		c.router.Release()
		c.emit(CommandExecuted{
			EventMeta: c.meta(),
			Command:   cmd,
			Param:     param,
			Source:    source,
			Error:     err.Error(),
		})
		return classify(err)
	}

	switch action.Kind {
	case actuator.ActionHangup:
		c.call.Terminate(ctx)
	case actuator.ActionReport:
		c.emit(StatusReported{
			EventMeta:  c.meta(),
			Relays:     *action.Report,
			Statistics: c.call.Statistics(),
		})
	}

	c.emit(CommandExecuted{
		EventMeta: c.meta(),
		Command:   cmd,
		Param:     param,
		Source:    source,
		Action:    action,
	})
	c.fx.actions = append(c.fx.actions, action)
	return nil
}

// raise counts a failure. Caller holds the lock.
func (c *Coordinator) raise(source, msg string) {
	c.errorCount++
	c.lastError = msg
	c.logger.Warn("error raised", "source", source, "message", msg, "count", c.errorCount)
	c.emit(ErrorRaised{
		EventMeta:  c.meta(),
		Source:     source,
		Message:    msg,
		ErrorCount: c.errorCount,
	})
}

// registrationChanged is the registration engine observer.
func (c *Coordinator) registrationChanged(from, to register.State, reason string) {
	c.emit(RegistrationChanged{EventMeta: c.meta(), From: from, To: to, Reason: reason})
	if to == register.StateError {
		c.raise(errSourceRegistration, reason)
	}
}

// callObserver adapts the coordinator to call.Observer.
type callObserver struct {
	c *Coordinator
}

func (o callObserver) CallStateChanged(from, to call.State, reason string) {
	c := o.c
	if to == call.StateIdle || to == call.StateError {
		c.bridge.CallEnded()
	}
	c.emit(CallChanged{
		EventMeta:  c.meta(),
		From:       from,
		To:         to,
		Reason:     reason,
		CallID:     c.call.LastCallID(),
		Statistics: c.call.Statistics(),
	})
	if to == call.StateError {
		c.raise(errSourceCall, reason)
	}
}

// ToneReceived queues the tone; it is routed once the engine returns.
func (o callObserver) ToneReceived(tone byte) {
	o.c.tones = append(o.c.tones, tone)
}
