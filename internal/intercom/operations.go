package intercom

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
)

// HandleExternalTrigger opens the door on request from a local input such as
// an exit button. The same cool-down applies as for tones. When
// registration is in Error the trigger also restarts it.
func (c *Coordinator) HandleExternalTrigger(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		c.recoverRegistration(ctx)
		return c.execute(ctx, dtmf.CommandDoorOpen, 0, SourceTrigger)
	})
}

// Ring is the doorbell: it calls the configured callee when idle and hangs
// up a connected call. A press while a call is ringing is ignored. When
// registration is in Error the press restarts it instead.
func (c *Coordinator) Ring(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		if c.recoverRegistration(ctx) {
			return nil
		}

		switch c.call.State() {
		case call.StateIdle:
			return classify(c.call.Initiate(ctx, c.cfg.Callee, c.reg.State() == register.StateRegistered))
		case call.StateConnected:
			c.call.Terminate(ctx)
		default:
			c.logger.Info("doorbell ignored while calling")
		}
		return nil
	})
}

// recoverRegistration restarts a failed registration. Caller holds the lock.
func (c *Coordinator) recoverRegistration(ctx context.Context) bool {
	if !c.running || c.reg.State() != register.StateError {
		return false
	}
	c.logger.Info("recovering registration")
	if err := c.reg.Start(ctx); err != nil {
		c.logger.Warn("registration recovery failed", "error", err)
		return false
	}
	return true
}

// InitiateCall calls target, or the configured callee when target is empty.
func (c *Coordinator) InitiateCall(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		target = c.cfg.Callee
	}
	return c.do(ctx, func(ctx context.Context) error {
		return classify(c.call.Initiate(ctx, target, c.reg.State() == register.StateRegistered))
	})
}

// TerminateCall ends the active call. Without one it does nothing.
func (c *Coordinator) TerminateCall(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		c.call.Terminate(ctx)
		return nil
	})
}

// Execute runs cmd as if it had been routed from a tone.
func (c *Coordinator) Execute(ctx context.Context, cmd dtmf.Command, param uint32) error {
	if !cmd.IsValid() {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, cmd)
	}
	return c.do(ctx, func(ctx context.Context) error {
		return c.execute(ctx, cmd, param, SourceAPI)
	})
}

// SetDTMFEnabled switches tone routing on or off.
func (c *Coordinator) SetDTMFEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, func(context.Context) error {
		c.router.SetEnabled(enabled)
		c.logger.Info("tone routing switched", "enabled", enabled)
		return nil
	})
}

// ResetStatistics zeroes the call counters.
func (c *Coordinator) ResetStatistics(ctx context.Context) error {
	return c.do(ctx, func(context.Context) error {
		c.call.ResetStatistics()
		return nil
	})
}

// ResetErrorCount clears the error counter and last error.
func (c *Coordinator) ResetErrorCount(ctx context.Context) error {
	return c.do(ctx, func(context.Context) error {
		c.errorCount = 0
		c.lastError = ""
		return nil
	})
}

// Snapshot returns the current system state.
func (c *Coordinator) Snapshot(ctx context.Context) (SystemState, error) {
	var s SystemState
	err := c.do(ctx, func(context.Context) error {
		s = SystemState{
			Station:           c.cfg.Station,
			Running:           c.running,
			Username:          c.cfg.Credentials.Username,
			Domain:            c.cfg.Credentials.Domain,
			Registration:      c.reg.State(),
			RegisteredAt:      c.reg.RegisteredAt(),
			RegistrationError: c.reg.LastError(),
			Call:              c.call.State(),
			CallID:            c.call.CallID(),
			Statistics:        c.call.Statistics(),
			DTMFEnabled:       c.router.Enabled(),
			Mappings:          c.router.Mappings(),
			LastDTMF:          c.lastDTMF,
			LastTone:          c.lastTone,
			Relays:            c.bridge.Relays(),
			ErrorCount:        c.errorCount,
			LastError:         c.lastError,
		}
		if c.running {
			s.Uptime = c.clock.Now().Sub(c.startedAt)
		}
		return nil
	})
	return s, err
}

// Reconfigure replaces the account and, when mappings is non-nil, the tone
// table. Everything is validated first; on error nothing changes. The old
// engines are stopped and replaced, and registration restarts if the
// coordinator is running. Call counters carry over.
func (c *Coordinator) Reconfigure(ctx context.Context, creds digest.Credentials, mappings []dtmf.Mapping) error {
	if err := creds.Validate(); err != nil {
		return classify(err)
	}
	if mappings != nil {
		if err := dtmf.ValidateMappings(mappings); err != nil {
			return classify(err)
		}
	}

	// The table is persisted before taking the state lock; reconfMu keeps
	// the stored and the active table in the same order.
	c.reconfMu.Lock()
	defer c.reconfMu.Unlock()
	if mappings != nil && c.store != nil {
		if err := c.store.Save(ctx, mappings); err != nil {
			return fmt.Errorf("persisting tone table: %w", err)
		}
	}

	return c.do(ctx, func(ctx context.Context) error {
		c.call.Terminate(ctx)
		c.reg.Stop(ctx)
		stats := c.call.Statistics()

		c.cfg.Credentials = creds
		c.builder = c.newBuilder(creds)
		c.buildEngines(creds)
		c.call.RestoreStatistics(stats)

		if mappings != nil {
			if err := c.router.Configure(mappings); err != nil {
				return classify(err)
			}
		}

		c.logger.Info("reconfigured", "user", creds.Username, "domain", creds.Domain, "mappings", len(c.router.Mappings()))
		if c.running {
			return classify(c.reg.Start(ctx))
		}
		return nil
	})
}
