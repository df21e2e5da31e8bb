package intercom

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
)

// EventType names an event variant on the wire.
type EventType string

// Event types.
const (
	EventRegistrationChanged EventType = "registration_changed"
	EventCallChanged         EventType = "call_changed"
	EventToneReceived        EventType = "tone_received"
	EventCommandExecuted     EventType = "command_executed"
	EventStatusReported      EventType = "status_reported"
	EventErrorRaised         EventType = "error_raised"
)

// Command sources recorded on CommandExecuted.
const (
	SourceDTMF       = "dtmf"
	SourceAPI        = "api"
	SourceTrigger    = "trigger"
	SourceAutoHangup = "auto_hangup"
)

// Event is one of the notification variants defined in this package.
type Event interface {
	Type() EventType
	Meta() EventMeta
	isEvent()
}

// EventMeta is common to every event.
type EventMeta struct {
	ID      string    `json:"id"`
	Station string    `json:"station"`
	Time    time.Time `json:"time"`
}

// Meta returns the common fields.
func (m EventMeta) Meta() EventMeta { return m }

func (EventMeta) isEvent() {}

// RegistrationChanged reports a registration transition.
type RegistrationChanged struct {
	EventMeta
	From   register.State `json:"from"`
	To     register.State `json:"to"`
	Reason string         `json:"reason,omitempty"`
}

// Type implements Event.
func (RegistrationChanged) Type() EventType { return EventRegistrationChanged }

// CallChanged reports a call transition with the counters after it.
type CallChanged struct {
	EventMeta
	From       call.State      `json:"from"`
	To         call.State      `json:"to"`
	Reason     string          `json:"reason,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Statistics call.Statistics `json:"statistics"`
}

// Type implements Event.
func (CallChanged) Type() EventType { return EventCallChanged }

// ToneReceived reports an in-call tone and what it routed to.
type ToneReceived struct {
	EventMeta
	Tone    string       `json:"tone"`
	Command dtmf.Command `json:"command"`
}

// Type implements Event.
func (ToneReceived) Type() EventType { return EventToneReceived }

// CommandExecuted reports a command outcome. Error is empty on success.
type CommandExecuted struct {
	EventMeta
	Command dtmf.Command    `json:"command"`
	Param   uint32          `json:"param,omitempty"`
	Source  string          `json:"source"`
	Action  actuator.Action `json:"action"`
	Error   string          `json:"error,omitempty"`
}

// Type implements Event.
func (CommandExecuted) Type() EventType { return EventCommandExecuted }

// StatusReported carries the answer to a status command.
type StatusReported struct {
	EventMeta
	Relays     actuator.StatusReport `json:"relays"`
	Statistics call.Statistics       `json:"statistics"`
}

// Type implements Event.
func (StatusReported) Type() EventType { return EventStatusReported }

// ErrorRaised reports a counted failure.
type ErrorRaised struct {
	EventMeta
	Source     string `json:"source"`
	Message    string `json:"message"`
	ErrorCount uint32 `json:"error_count"`
}

// Type implements Event.
func (ErrorRaised) Type() EventType { return EventErrorRaised }

// Envelope is the JSON shape of an event on MQTT and WebSocket.
type Envelope struct {
	Type EventType `json:"type"`
	Data Event     `json:"data"`
}

// MarshalEvent renders ev inside an Envelope.
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Type: ev.Type(), Data: ev})
}

// Notifier receives events. Notify runs on the dispatcher goroutine; an
// error is logged and never affects the transition that produced the event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

func newMeta(station string, now time.Time) EventMeta {
	return EventMeta{ID: uuid.NewString(), Station: station, Time: now}
}

// notifyTimeout bounds a single sink call.
const notifyTimeout = 5 * time.Second

// dispatcher fans events out to sinks on its own goroutine.
type dispatcher struct {
	sinks  []Notifier
	logger Logger

	mu      sync.RWMutex
	queue   chan Event
	running bool
	done    chan struct{}
}

func newDispatcher(sinks []Notifier, buffer int, logger Logger) *dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &dispatcher{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan Event, buffer),
	}
}

func (d *dispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.done = make(chan struct{})
	go d.run(d.queue, d.done)
}

func (d *dispatcher) run(queue <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			if err := sink.Notify(ctx, ev); err != nil {
				d.logger.Warn("event sink failed", "type", ev.Type(), "error", err)
			}
			cancel()
		}
	}
}

// publish queues ev without blocking. Events are dropped when the queue is
// full or the dispatcher is stopped.
func (d *dispatcher) publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("event queue full, dropping event", "type", ev.Type())
	}
}

// stop drains queued events and waits for the sinks.
func (d *dispatcher) stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.queue)
	done := d.done
	d.queue = make(chan Event, cap(d.queue))
	d.mu.Unlock()
	<-done
}
