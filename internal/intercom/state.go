package intercom

import (
	"time"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
)

// SystemState is a read-only snapshot built on demand.
type SystemState struct {
	Station string `json:"station"`
	Running bool   `json:"running"`

	Username string `json:"username"`
	Domain   string `json:"domain"`

	Registration      register.State `json:"registration"`
	RegisteredAt      time.Time      `json:"registered_at,omitzero"`
	RegistrationError string         `json:"registration_error,omitempty"`

	Call       call.State      `json:"call"`
	CallID     string          `json:"call_id,omitempty"`
	Statistics call.Statistics `json:"statistics"`

	DTMFEnabled bool           `json:"dtmf_enabled"`
	Mappings    []dtmf.Mapping `json:"mappings"`
	LastDTMF    time.Time      `json:"last_dtmf,omitzero"`
	LastTone    string         `json:"last_tone,omitempty"`

	Relays actuator.StatusReport `json:"relays"`

	ErrorCount uint32        `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}
