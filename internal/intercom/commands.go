package intercom

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
)

// Remote commands accepted by HandleCommand, typically the last segment of
// an MQTT command topic.
const (
	RemoteRing    = "ring"
	RemoteTrigger = "trigger"
	RemoteExecute = "execute"
	RemoteCall    = "call"
	RemoteHangup  = "hangup"
	RemoteDTMF    = "dtmf"
)

// RemotePayload is the optional JSON body of a remote command.
type RemotePayload struct {
	Command string `json:"command,omitempty"`
	Param   uint32 `json:"param,omitempty"`
	Target  string `json:"target,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// HandleCommand runs a remote command by name. payload may be empty for
// commands without arguments.
func (c *Coordinator) HandleCommand(ctx context.Context, name string, payload []byte) error {
	var p RemotePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrInvalidArgument, name, err)
		}
	}

	switch name {
	case RemoteRing:
		return c.Ring(ctx)
	case RemoteTrigger:
		return c.HandleExternalTrigger(ctx)
	case RemoteExecute:
		cmd, err := dtmf.ParseCommand(p.Command)
		if err != nil {
			return classify(err)
		}
		return c.Execute(ctx, cmd, p.Param)
	case RemoteCall:
		return c.InitiateCall(ctx, p.Target)
	case RemoteHangup:
		return c.TerminateCall(ctx)
	case RemoteDTMF:
		if p.Enabled == nil {
			return fmt.Errorf("%w: dtmf needs enabled", ErrInvalidArgument)
		}
		return c.SetDTMFEnabled(ctx, *p.Enabled)
	default:
		return fmt.Errorf("%w: unknown remote command %q", ErrInvalidArgument, name)
	}
}
